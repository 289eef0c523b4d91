package query

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibyl-search/sibyl/internal/cache"
	"github.com/sibyl-search/sibyl/internal/config"
	"github.com/sibyl-search/sibyl/internal/corpus"
	"github.com/sibyl-search/sibyl/internal/embed"
	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
	"github.com/sibyl-search/sibyl/internal/index"
	"github.com/sibyl-search/sibyl/internal/rerank"
	"github.com/sibyl-search/sibyl/internal/session"
)

// fakeVector serves canned dense hits and counts calls.
type fakeVector struct {
	hits  []index.DenseHit
	err   error
	calls atomic.Int32
}

func (f *fakeVector) Search(context.Context, []float32, int) ([]index.DenseHit, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}
func (f *fakeVector) Add(context.Context, []string, [][]float32) error { return nil }
func (f *fakeVector) Count() int                                       { return len(f.hits) }
func (f *fakeVector) Close() error                                     { return nil }

// fakeLexical serves canned sparse hits and counts calls.
type fakeLexical struct {
	hits  []index.SparseHit
	err   error
	calls atomic.Int32
}

func (f *fakeLexical) Search(context.Context, string, int) ([]index.SparseHit, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}
func (f *fakeLexical) Index(context.Context, []string, []string) error { return nil }
func (f *fakeLexical) Count() int                                      { return len(f.hits) }
func (f *fakeLexical) Close() error                                    { return nil }

// fakeEmbedder returns a fixed vector.
type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0, 0}, nil
}
func (f *fakeEmbedder) ModelName() string { return "fake" }

// fallbackEmbedder reports its vectors as served by the secondary.
type fallbackEmbedder struct{}

func (fallbackEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}
func (fallbackEmbedder) EmbedWithOrigin(context.Context, string) ([]float32, embed.Origin, error) {
	return []float32{1, 0, 0, 0}, embed.OriginFallback, nil
}
func (fallbackEmbedder) ModelName() string { return "fake" }

// partialReranker scores only the last candidate, with a low score.
type partialReranker struct{}

func (partialReranker) Rerank(_ context.Context, _ string, docs []string, _ int) ([]rerank.Result, error) {
	return []rerank.Result{{Index: len(docs) - 1, Score: 0.2}}, nil
}
func (partialReranker) Available(context.Context) bool { return true }
func (partialReranker) Close() error                   { return nil }

// slowReranker blocks until its context expires.
type slowReranker struct{}

func (slowReranker) Rerank(ctx context.Context, _ string, _ []string, _ int) ([]rerank.Result, error) {
	<-ctx.Done()
	return nil, sibylerr.RerankUnavailable(ctx.Err())
}
func (slowReranker) Available(context.Context) bool { return false }
func (slowReranker) Close() error                   { return nil }

type fixture struct {
	orch    *Orchestrator
	vector  *fakeVector
	lexical *fakeLexical
	store   *corpus.SQLiteStore
}

func newFixture(t *testing.T, mutate func(*config.Config), opts func(*Options)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Timeouts.Rerank = 100 * time.Millisecond
	cfg.Timeouts.Pipeline = 5 * time.Second
	cfg.Reranker.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	store, err := corpus.OpenSQLite(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, id := range []string{"2", "5", "7", "c1", "c2", "c3"} {
		require.NoError(t, store.PutChunk(ctx, &corpus.Chunk{
			ID: id, DocumentID: "doc-" + id, Content: "content of chunk " + id,
		}))
	}

	results, err := cache.NewResultCache(
		cache.NewMemoryBackend(64, time.Minute), cache.DefaultResultCacheConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })

	vector := &fakeVector{hits: []index.DenseHit{
		{ChunkID: "5", Similarity: 0.9},
		{ChunkID: "2", Similarity: 0.8},
	}}
	lexical := &fakeLexical{hits: []index.SparseHit{
		{ChunkID: "2", Score: 12.0},
		{ChunkID: "7", Score: 9.0},
	}}

	o := Options{
		Config:   cfg,
		Embedder: &fakeEmbedder{},
		Vector:   vector,
		Lexical:  lexical,
		Results:  results,
		Store:    store,
	}
	if opts != nil {
		opts(&o)
	}

	return &fixture{orch: New(o), vector: vector, lexical: lexical, store: store}
}

func TestQueryFusesBothAdapters(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, err := f.orch.Query(context.Background(), Request{Text: "test query", TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	// Chunk 2 appears in both lists and ranks first.
	assert.Equal(t, "2", resp.Results[0].ChunkID)
	assert.Equal(t, "5", resp.Results[1].ChunkID)
	assert.Equal(t, "7", resp.Results[2].ChunkID)
	assert.False(t, resp.Degraded)
	assert.Equal(t, "content of chunk 2", resp.Results[0].Text)
	assert.Equal(t, "doc-2", resp.Results[0].DocumentID)
}

func TestQuerySparseFailureDegrades(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.lexical.err = sibylerr.IndexUnavailable("sparse", errors.New("down"))
	f.vector.hits = []index.DenseHit{
		{ChunkID: "c1", Similarity: 0.9},
		{ChunkID: "c2", Similarity: 0.8},
		{ChunkID: "c3", Similarity: 0.7},
	}

	resp, err := f.orch.Query(context.Background(), Request{Text: "dense only", TopK: 5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReasons, "sparse_unavailable")
	assert.Equal(t, "c1", resp.Results[0].ChunkID)

	// Full weight on the survivor: top score is the normalized maximum.
	assert.Equal(t, 1.0, resp.Results[0].Score)
}

func TestQueryRerankTimeoutFallsBackToFusedOrder(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Reranker.Enabled = true
	}, func(o *Options) {
		o.Reranker = slowReranker{}
	})

	start := time.Now()
	resp, err := f.orch.Query(context.Background(), Request{Text: "slow rerank", TopK: 3})
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReasons, "rerank_unavailable")
	// Fused order preserved.
	assert.Equal(t, "2", resp.Results[0].ChunkID)
	assert.Equal(t, "5", resp.Results[1].ChunkID)
	// The rerank stage respected its budget instead of the pipeline's.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueryBothAdaptersFailReturnsEmptyDegraded(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.vector.err = errors.New("dense down")
	f.lexical.err = errors.New("sparse down")

	resp, err := f.orch.Query(context.Background(), Request{Text: "nothing works"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReasons, "dense_unavailable")
	assert.Contains(t, resp.DegradedReasons, "sparse_unavailable")
}

func TestQueryOutageNotServedAsHitAfterRecovery(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.vector.err = errors.New("dense down")
	f.lexical.err = errors.New("sparse down")

	resp, err := f.orch.Query(ctx, Request{Text: "flaky"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.True(t, resp.Degraded)

	// Adapters recover; the outage response must not be served as a hit.
	f.vector.err = nil
	f.lexical.err = nil

	resp, err = f.orch.Query(ctx, Request{Text: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, "miss", resp.Timings.CacheStatus)
	assert.NotEmpty(t, resp.Results)
	assert.False(t, resp.Degraded)
}

func TestQueryEmbedFallbackMarksDegraded(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) {
		o.Embedder = fallbackEmbedder{}
	})
	ctx := context.Background()

	resp, err := f.orch.Query(ctx, Request{Text: "fallback vectors", TopK: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReasons, "embed_fallback")

	// Fallback-served rankings are not cached; a repeat recomputes.
	resp, err = f.orch.Query(ctx, Request{Text: "fallback vectors", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, "miss", resp.Timings.CacheStatus)
}

func TestQueryPartialRerankKeepsTailBelowScored(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Reranker.Enabled = true
	}, func(o *Options) {
		o.Reranker = partialReranker{}
	})

	resp, err := f.orch.Query(context.Background(), Request{Text: "partial scores", TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.False(t, resp.Degraded)

	// The scored candidate leads; the unscored tail never outranks it.
	assert.Equal(t, "7", resp.Results[0].ChunkID)
	for i := 1; i < len(resp.Results); i++ {
		assert.LessOrEqual(t, resp.Results[i].Score, resp.Results[i-1].Score)
	}
}

func TestQueryCacheHitSkipsAdapters(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	first, err := f.orch.Query(ctx, Request{Text: "repeated query", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, "miss", first.Timings.CacheStatus)
	assert.Equal(t, int32(1), f.vector.calls.Load())
	assert.Equal(t, int32(1), f.lexical.calls.Load())

	second, err := f.orch.Query(ctx, Request{Text: "Repeated   QUERY", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, "hit", second.Timings.CacheStatus)

	// No adapter ran and no retrieval time was spent.
	assert.Equal(t, int32(1), f.vector.calls.Load())
	assert.Equal(t, int32(1), f.lexical.calls.Load())
	assert.Zero(t, second.Timings.Retrieval)
	assert.Zero(t, second.Timings.AdapterCalls)

	// Same ranking both times.
	require.Equal(t, len(first.Results), len(second.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].ChunkID, second.Results[i].ChunkID)
	}
}

func TestQueryInvalidateAllForcesRecompute(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.orch.Query(ctx, Request{Text: "q"})
	require.NoError(t, err)
	require.NoError(t, f.orch.InvalidateAll(ctx))

	resp, err := f.orch.Query(ctx, Request{Text: "q"})
	require.NoError(t, err)
	assert.Equal(t, "miss", resp.Timings.CacheStatus)
	assert.Equal(t, int32(2), f.vector.calls.Load())
}

func TestQueryEmptyTextRejected(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.orch.Query(context.Background(), Request{Text: "   "})
	require.Error(t, err)
	assert.Equal(t, sibylerr.ErrCodeQueryEmpty, sibylerr.GetCode(err))
}

func TestQueryTopKDefaultsAndClamps(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	resp, err := f.orch.Query(ctx, Request{Text: "defaults"})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), config.Default().Retrieval.DefaultTopK)

	resp, err = f.orch.Query(ctx, Request{Text: "clamped", TopK: 500})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), config.Default().Retrieval.MaxTopK)
}

func TestQuerySessionScopeSeparatesCacheEntries(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.orch.Query(ctx, Request{Text: "q", SessionID: ""})
	require.NoError(t, err)

	resp, err := f.orch.Query(ctx, Request{Text: "q", SessionID: "other"})
	require.NoError(t, err)
	assert.Equal(t, "miss", resp.Timings.CacheStatus)
}

func TestQueryRecordsSessionTurns(t *testing.T) {
	dir := t.TempDir()
	mgr, err := session.NewManager(dir, 10)
	require.NoError(t, err)

	f := newFixture(t, nil, func(o *Options) {
		o.Sessions = mgr
	})

	_, err = f.orch.Query(context.Background(), Request{Text: "remember me", SessionID: "s1"})
	require.NoError(t, err)

	s, err := mgr.Get("s1")
	require.NoError(t, err)
	require.Len(t, s.Turns, 1)
	assert.Equal(t, "remember me", s.Turns[0].Query)
	assert.Equal(t, "2", s.Turns[0].TopChunk)
}

func TestQueryAttachmentsSurfaced(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.store.PutAttachment(ctx, &corpus.Attachment{
		ID: "att1", Name: "diagram", URI: "files/d.png",
		Links: []corpus.ChunkLink{{ChunkID: "2", Relevance: 0.9}},
	}))

	resp, err := f.orch.Query(ctx, Request{Text: "with attachment", TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Attachments, 1)
	assert.Equal(t, "att1", resp.Attachments[0].ID)
	assert.InDelta(t, 0.9, resp.Attachments[0].Relevance, 1e-9)
}

func TestQueryMetricsRecorded(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.orch.Query(ctx, Request{Text: "metered"})
	require.NoError(t, err)
	_, err = f.orch.Query(ctx, Request{Text: "metered"})
	require.NoError(t, err)

	snap := f.orch.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, int64(1), snap.CacheHits)
}
