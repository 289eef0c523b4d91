package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// SQLiteStore implements Store on a SQLite corpus database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens the corpus database at path in read-oriented mode.
// The schema is created if missing so tests and fresh installs can
// populate a corpus through the same store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable,
			fmt.Sprintf("cannot open corpus database %s", path), err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable,
			fmt.Sprintf("cannot reach corpus database %s", path), err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		content TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		heading_path TEXT NOT NULL DEFAULT '',
		page INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		uri TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS attachment_links (
		attachment_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		relevance REAL NOT NULL,
		PRIMARY KEY (attachment_id, chunk_id)
	);
	CREATE INDEX IF NOT EXISTS idx_links_chunk ON attachment_links(chunk_id);

	CREATE TABLE IF NOT EXISTS snapshot (
		id TEXT PRIMARY KEY,
		embed_model TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "create corpus schema", err)
	}
	return nil
}

// GetChunk returns a single chunk by ID.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, content, position, heading_path, page
		FROM chunks WHERE id = ?`, id)

	var c Chunk
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Position, &c.HeadingPath, &c.Page); err != nil {
		if err == sql.ErrNoRows {
			return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable,
				fmt.Sprintf("chunk %s not found", id), err)
		}
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "read chunk", err)
	}
	return &c, nil
}

// GetChunks returns chunks for the given IDs, preserving input order.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, document_id, content, position, heading_path, page
		FROM chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "read chunks", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Position, &c.HeadingPath, &c.Page); err != nil {
			return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "scan chunk", err)
		}
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "iterate chunks", err)
	}

	out := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// AttachmentsForChunks returns attachments linked to any of the chunk IDs,
// with each attachment's full link set populated.
func (s *SQLiteStore) AttachmentsForChunks(ctx context.Context, chunkIDs []string) ([]*Attachment, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(chunkIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}

	return s.queryAttachments(ctx, fmt.Sprintf(`
		SELECT DISTINCT a.id, a.name, a.uri, a.keywords
		FROM attachments a
		JOIN attachment_links l ON l.attachment_id = a.id
		WHERE l.chunk_id IN (%s)
		ORDER BY a.id`, placeholders), args)
}

// AttachmentsByKeywords returns attachments whose keyword set overlaps the
// given terms, whether or not any of their linked chunks survived ranking.
// Matching is case-insensitive and exact per term.
func (s *SQLiteStore) AttachmentsByKeywords(ctx context.Context, terms []string) ([]*Attachment, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(terms))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(terms))
	for i, term := range terms {
		args[i] = strings.ToLower(term)
	}

	return s.queryAttachments(ctx, fmt.Sprintf(`
		SELECT DISTINCT a.id, a.name, a.uri, a.keywords
		FROM attachments a, json_each(a.keywords) kw
		WHERE lower(kw.value) IN (%s)
		ORDER BY a.id`, placeholders), args)
}

func (s *SQLiteStore) queryAttachments(ctx context.Context, query string, args []any) ([]*Attachment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "read attachments", err)
	}
	defer rows.Close()

	var attachments []*Attachment
	for rows.Next() {
		var a Attachment
		var keywordsJSON string
		if err := rows.Scan(&a.ID, &a.Name, &a.URI, &keywordsJSON); err != nil {
			return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "scan attachment", err)
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &a.Keywords); err != nil {
			return nil, sibylerr.New(sibylerr.ErrCodeCorruptIndex,
				fmt.Sprintf("attachment %s has malformed keywords", a.ID), err)
		}
		attachments = append(attachments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "iterate attachments", err)
	}

	for _, a := range attachments {
		links, err := s.linksFor(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		a.Links = links
	}
	return attachments, nil
}

func (s *SQLiteStore) linksFor(ctx context.Context, attachmentID string) ([]ChunkLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, relevance FROM attachment_links
		WHERE attachment_id = ? ORDER BY relevance DESC, chunk_id`, attachmentID)
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "read attachment links", err)
	}
	defer rows.Close()

	var links []ChunkLink
	for rows.Next() {
		var l ChunkLink
		if err := rows.Scan(&l.ChunkID, &l.Relevance); err != nil {
			return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "scan attachment link", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// Snapshot returns the current snapshot descriptor.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*SnapshotInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, embed_model, dimension, chunk_count, created_at
		FROM snapshot ORDER BY created_at DESC LIMIT 1`)

	var info SnapshotInfo
	if err := row.Scan(&info.ID, &info.EmbedModel, &info.Dimension, &info.ChunkCount, &info.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, sibylerr.New(sibylerr.ErrCodeSnapshotMissing,
				"corpus has no snapshot; run ingestion first", err)
		}
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "read snapshot", err)
	}
	return &info, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutChunk inserts or replaces a chunk. Used by ingestion and tests.
func (s *SQLiteStore) PutChunk(ctx context.Context, c *Chunk) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, document_id, content, position, heading_path, page)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.DocumentID, c.Content, c.Position, c.HeadingPath, c.Page)
	if err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "write chunk", err)
	}
	return nil
}

// PutAttachment inserts or replaces an attachment and its links.
func (s *SQLiteStore) PutAttachment(ctx context.Context, a *Attachment) error {
	keywords, err := json.Marshal(a.Keywords)
	if err != nil {
		return sibylerr.New(sibylerr.ErrCodeInternal, "encode attachment keywords", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO attachments (id, name, uri, keywords)
		VALUES (?, ?, ?, ?)`, a.ID, a.Name, a.URI, string(keywords)); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "write attachment", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attachment_links WHERE attachment_id = ?`, a.ID); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "clear attachment links", err)
	}
	for _, l := range a.Links {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachment_links (attachment_id, chunk_id, relevance)
			VALUES (?, ?, ?)`, a.ID, l.ChunkID, l.Relevance); err != nil {
			return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "write attachment link", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "commit attachment", err)
	}
	return nil
}

// PutSnapshot records a snapshot descriptor, replacing any previous one.
func (s *SQLiteStore) PutSnapshot(ctx context.Context, info *SnapshotInfo) error {
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot`); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "clear snapshot", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot (id, embed_model, dimension, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		info.ID, info.EmbedModel, info.Dimension, info.ChunkCount, info.CreatedAt); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "write snapshot", err)
	}
	if err := tx.Commit(); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "commit snapshot", err)
	}
	return nil
}
