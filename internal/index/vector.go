package index

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// HNSWIndex implements VectorIndex on a pure-Go HNSW graph.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]

	dimensions    int
	minSimilarity float64

	// string chunk IDs <-> internal uint64 keys
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

var _ VectorIndex = (*HNSWIndex)(nil)

// hnswMeta persists ID mappings alongside the graph.
type hnswMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

// NewHNSWIndex creates an empty in-memory HNSW index.
func NewHNSWIndex(dimensions int, minSimilarity float64) *HNSWIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:         graph,
		dimensions:    dimensions,
		minSimilarity: minSimilarity,
		idMap:         make(map[string]uint64),
		keyMap:        make(map[uint64]string),
	}
}

// Add inserts or replaces vectors. Re-added IDs are lazily deleted: the old
// node stays in the graph but loses its ID mapping and disappears from
// results.
func (h *HNSWIndex) Add(_ context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return sibylerr.New(sibylerr.ErrCodeInternal,
			fmt.Sprintf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors)), nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return sibylerr.New(sibylerr.ErrCodeIndexUnavailable, "vector index is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != h.dimensions {
			return sibylerr.New(sibylerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("vector dimension %d does not match index dimension %d", len(v), h.dimensions), nil)
		}
	}

	for i, id := range ids {
		if oldKey, exists := h.idMap[id]; exists {
			delete(h.keyMap, oldKey)
			delete(h.idMap, id)
		}

		key := h.nextKey
		h.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		h.graph.Add(hnsw.MakeNode(key, vec))
		h.idMap[id] = key
		h.keyMap[key] = id
	}
	return nil
}

// Search returns up to k nearest chunks by cosine similarity.
func (h *HNSWIndex) Search(_ context.Context, vector []float32, k int) ([]DenseHit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, sibylerr.IndexUnavailable("dense", nil)
	}
	if len(vector) != h.dimensions {
		return nil, sibylerr.New(sibylerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("query dimension %d does not match index dimension %d", len(vector), h.dimensions), nil)
	}
	if h.graph.Len() == 0 {
		return nil, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	// Over-fetch to compensate for lazily deleted nodes.
	nodes := h.graph.Search(query, k+len(h.keyMap)/10+1)

	hits := make([]DenseHit, 0, k)
	for _, node := range nodes {
		id, ok := h.keyMap[node.Key]
		if !ok {
			continue
		}
		// Cosine distance in [0,2]; similarity = 1 - distance.
		similarity := 1.0 - float64(h.graph.Distance(query, node.Value))
		if similarity < h.minSimilarity {
			continue
		}
		hits = append(hits, DenseHit{ChunkID: id, Similarity: similarity})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Count returns the number of live vectors.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// Save persists the graph and ID mappings atomically, guarded by a file lock
// so concurrent processes cannot interleave writes.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return sibylerr.New(sibylerr.ErrCodeIndexUnavailable, "vector index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "create index directory", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "acquire index lock", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "create index file", err)
	}
	if err := h.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "export graph", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "close index file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "rename index file", err)
	}

	return h.saveMeta(path + ".meta")
}

func (h *HNSWIndex) saveMeta(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "create metadata file", err)
	}

	meta := hnswMeta{IDMap: h.idMap, NextKey: h.nextKey, Dimensions: h.dimensions}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "encode metadata", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "close metadata file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "rename metadata file", err)
	}
	return nil
}

// Load restores the graph and ID mappings from disk. A missing file is a
// snapshot error; a malformed file is a corrupt index.
func (h *HNSWIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return sibylerr.New(sibylerr.ErrCodeIndexUnavailable, "vector index is closed", nil)
	}

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "acquire index lock", err)
	}
	defer func() { _ = lock.Unlock() }()

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return sibylerr.New(sibylerr.ErrCodeSnapshotMissing,
				fmt.Sprintf("vector index metadata missing at %s", path), err)
		}
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "open metadata file", err)
	}
	defer metaFile.Close()

	var meta hnswMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorruptIndex, "decode vector index metadata", err)
	}
	if meta.Dimensions != h.dimensions {
		return sibylerr.New(sibylerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("stored index dimension %d does not match configured %d",
				meta.Dimensions, h.dimensions), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sibylerr.New(sibylerr.ErrCodeSnapshotMissing,
				fmt.Sprintf("vector index missing at %s", path), err)
		}
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "open index file", err)
	}
	defer file.Close()

	// Import requires an io.ByteReader.
	if err := h.graph.Import(bufio.NewReader(file)); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorruptIndex, "import graph", err)
	}

	h.idMap = meta.IDMap
	h.nextKey = meta.NextKey
	h.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		h.keyMap[key] = id
	}
	return nil
}

// Close releases the graph.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
