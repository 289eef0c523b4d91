package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

func TestHNSWSearchOrdersBySimilarity(t *testing.T) {
	idx := NewHNSWIndex(4, 0)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"near", "far", "mid"},
		[][]float32{
			{1, 0, 0, 0},
			{0, 0, 0, 1},
			{1, 1, 0, 0},
		}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "near", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)

	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Similarity, hits[i].Similarity)
	}
}

func TestHNSWMinSimilarityFilter(t *testing.T) {
	idx := NewHNSWIndex(4, 0.9)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"near", "orthogonal"},
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
		}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].ChunkID)
}

func TestHNSWEmptyIndex(t *testing.T) {
	idx := NewHNSWIndex(4, 0)
	hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	idx := NewHNSWIndex(4, 0)
	_, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	require.Error(t, err)
	assert.Equal(t, sibylerr.ErrCodeDimensionMismatch, sibylerr.GetCode(err))
}

func TestHNSWReAddReplacesVector(t *testing.T) {
	idx := NewHNSWIndex(4, 0)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Add(ctx, []string{"a"}, [][]float32{{0, 1, 0, 0}}))
	assert.Equal(t, 1, idx.Count())

	hits, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
}

func TestHNSWSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	ctx := context.Background()

	idx := NewHNSWIndex(4, 0)
	require.NoError(t, idx.Add(ctx, []string{"a", "b"}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}))
	require.NoError(t, idx.Save(path))

	loaded := NewHNSWIndex(4, 0)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.Count())

	hits, err := loaded.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
}

func TestHNSWLoadMissing(t *testing.T) {
	idx := NewHNSWIndex(4, 0)
	err := idx.Load(filepath.Join(t.TempDir(), "missing.hnsw"))
	require.Error(t, err)
	assert.Equal(t, sibylerr.ErrCodeSnapshotMissing, sibylerr.GetCode(err))
}

func TestHNSWLoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	ctx := context.Background()

	idx := NewHNSWIndex(4, 0)
	require.NoError(t, idx.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Save(path))

	other := NewHNSWIndex(8, 0)
	err := other.Load(path)
	require.Error(t, err)
	assert.Equal(t, sibylerr.ErrCodeDimensionMismatch, sibylerr.GetCode(err))
}

func newMemLexical(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveSearchRanksKeywordMatches(t *testing.T) {
	idx := newMemLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx,
		[]string{"c1", "c2", "c3"},
		[]string{
			"installing the wiring harness requires admin privileges",
			"the budget spreadsheet is updated quarterly",
			"wiring diagrams are stored in the appendix",
		}))

	hits, err := idx.Search(ctx, "wiring harness", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].ChunkID)

	ids := make(map[string]bool)
	for _, h := range hits {
		ids[h.ChunkID] = true
	}
	assert.False(t, ids["c2"])
}

func TestBleveEmptyQuery(t *testing.T) {
	idx := newMemLexical(t)
	hits, err := idx.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveMatchedTerms(t *testing.T) {
	idx := newMemLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []string{"c1"}, []string{"configure the harness"}))

	hits, err := idx.Search(ctx, "configure", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.NotEmpty(t, hits[0].MatchedTerms)
}

// failingVectorIndex fails a fixed number of times before succeeding.
type failingVectorIndex struct {
	failures int
	calls    int
}

func (f *failingVectorIndex) Search(context.Context, []float32, int) ([]DenseHit, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("backend down")
	}
	return []DenseHit{{ChunkID: "ok", Similarity: 0.9}}, nil
}
func (f *failingVectorIndex) Add(context.Context, []string, [][]float32) error { return nil }
func (f *failingVectorIndex) Count() int                                       { return 0 }
func (f *failingVectorIndex) Close() error                                     { return nil }

func TestGuardedVectorRetriesOnce(t *testing.T) {
	inner := &failingVectorIndex{failures: 1}
	g := NewGuardedVectorIndex(inner, time.Second, sibylerr.RetryConfig{MaxRetries: 1, Backoff: time.Millisecond})

	hits, err := g.Search(context.Background(), []float32{1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, inner.calls)
}

func TestGuardedVectorExhaustsBudget(t *testing.T) {
	inner := &failingVectorIndex{failures: 10}
	g := NewGuardedVectorIndex(inner, time.Second, sibylerr.RetryConfig{MaxRetries: 1, Backoff: time.Millisecond})

	_, err := g.Search(context.Background(), []float32{1}, 5)
	require.Error(t, err)
	assert.Equal(t, sibylerr.ErrCodeIndexUnavailable, sibylerr.GetCode(err))
	assert.Equal(t, 2, inner.calls)
}
