// Package index provides the dense (vector) and sparse (lexical) retrieval
// adapters the query pipeline fans out to.
package index

import "context"

// DenseHit is a vector search result.
type DenseHit struct {
	// ChunkID identifies the matched chunk.
	ChunkID string

	// Similarity is cosine similarity in [-1, 1]; higher is better.
	Similarity float64
}

// SparseHit is a lexical search result.
type SparseHit struct {
	// ChunkID identifies the matched chunk.
	ChunkID string

	// Score is the BM25 relevance score; higher is better.
	Score float64

	// MatchedTerms are the query terms that matched, when available.
	MatchedTerms []string
}

// VectorIndex is the dense retrieval adapter.
type VectorIndex interface {
	// Search returns up to k nearest chunks to the query vector,
	// best first. Hits below the minimum similarity are excluded.
	Search(ctx context.Context, vector []float32, k int) ([]DenseHit, error)

	// Add inserts or replaces vectors. Used by ingestion and tests.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Count returns the number of indexed vectors.
	Count() int

	// Close releases index resources.
	Close() error
}

// LexicalIndex is the sparse retrieval adapter.
type LexicalIndex interface {
	// Search returns up to k keyword matches for the query, best first.
	Search(ctx context.Context, query string, k int) ([]SparseHit, error)

	// Index adds chunks to the index. Used by ingestion and tests.
	Index(ctx context.Context, ids []string, contents []string) error

	// Count returns the number of indexed documents.
	Count() int

	// Close releases index resources.
	Close() error
}
