// Package corpus provides read access to the ingested document corpus.
//
// The corpus is produced offline by the ingestion pipeline and consumed
// read-only at query time. A snapshot row records the embedding model and
// dimension the corpus was built with so the query path can refuse to serve
// against an incompatible embedder.
package corpus

import (
	"context"
	"time"
)

// Chunk is an indexed fragment of a source document.
type Chunk struct {
	// ID uniquely identifies the chunk within the snapshot.
	ID string `json:"id"`

	// DocumentID identifies the source document.
	DocumentID string `json:"document_id"`

	// Content is the chunk text served as evidence.
	Content string `json:"content"`

	// Position is the chunk's ordinal within its document.
	Position int `json:"position"`

	// HeadingPath is the document outline path (e.g. "Setup > Install").
	HeadingPath string `json:"heading_path,omitempty"`

	// Page is the source page number, zero when unknown.
	Page int `json:"page,omitempty"`
}

// ChunkLink associates an attachment with a chunk at a given relevance.
type ChunkLink struct {
	ChunkID   string  `json:"chunk_id"`
	Relevance float64 `json:"relevance"`
}

// Attachment is a non-text artifact (image, table, file) tied to chunks
// during ingestion.
type Attachment struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	URI      string      `json:"uri"`
	Keywords []string    `json:"keywords,omitempty"`
	Links    []ChunkLink `json:"links,omitempty"`
}

// SnapshotInfo describes the corpus snapshot the indexes were built from.
type SnapshotInfo struct {
	// ID changes on every reindex.
	ID string `json:"id"`

	// EmbedModel is the embedding model the vectors were produced with.
	EmbedModel string `json:"embed_model"`

	// Dimension is the embedding dimension of the stored vectors.
	Dimension int `json:"dimension"`

	// ChunkCount is the number of chunks in the snapshot.
	ChunkCount int `json:"chunk_count"`

	// CreatedAt is when the snapshot was written.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the read interface the query pipeline uses against the corpus.
type Store interface {
	// GetChunk returns a single chunk by ID.
	GetChunk(ctx context.Context, id string) (*Chunk, error)

	// GetChunks returns chunks for the given IDs, preserving input order.
	// Unknown IDs are skipped, not errors.
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)

	// AttachmentsForChunks returns all attachments linked to any of the
	// given chunk IDs.
	AttachmentsForChunks(ctx context.Context, chunkIDs []string) ([]*Attachment, error)

	// AttachmentsByKeywords returns all attachments whose keyword set
	// overlaps the given terms, regardless of chunk links.
	AttachmentsByKeywords(ctx context.Context, terms []string) ([]*Attachment, error)

	// Snapshot returns the current snapshot descriptor.
	Snapshot(ctx context.Context) (*SnapshotInfo, error)

	// Close releases store resources.
	Close() error
}
