package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sibyl-search/sibyl/internal/attach"
	"github.com/sibyl-search/sibyl/internal/cache"
	"github.com/sibyl-search/sibyl/internal/config"
	"github.com/sibyl-search/sibyl/internal/corpus"
	"github.com/sibyl-search/sibyl/internal/embed"
	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
	"github.com/sibyl-search/sibyl/internal/fusion"
	"github.com/sibyl-search/sibyl/internal/index"
	"github.com/sibyl-search/sibyl/internal/rerank"
	"github.com/sibyl-search/sibyl/internal/session"
	"github.com/sibyl-search/sibyl/internal/telemetry"
)

// Orchestrator runs the query pipeline end to end.
type Orchestrator struct {
	cfg         *config.Config
	fingerprint string

	embedder emb
	vector   index.VectorIndex
	lexical  index.LexicalIndex
	fuser    *fusion.Fuser
	reranker rerank.Reranker
	results  *cache.ResultCache
	matcher  *attach.Matcher
	store    corpus.Store
	sessions *session.Manager
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// emb is the slice of the embedder surface the pipeline needs.
type emb interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

var _ emb = (embed.Embedder)(nil)

// Options assembles an Orchestrator.
type Options struct {
	Config   *config.Config
	Embedder emb
	Vector   index.VectorIndex
	Lexical  index.LexicalIndex
	Reranker rerank.Reranker
	Results  *cache.ResultCache
	Store    corpus.Store
	Sessions *session.Manager
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// New creates an orchestrator. Sessions, Metrics, and Logger are optional;
// everything else is required.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reranker := opts.Reranker
	if reranker == nil {
		reranker = rerank.NewPassThrough()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}

	r := opts.Config.Retrieval
	return &Orchestrator{
		cfg:         opts.Config,
		fingerprint: opts.Config.Fingerprint(),
		embedder:    opts.Embedder,
		vector:      opts.Vector,
		lexical:     opts.Lexical,
		fuser:       fusion.NewFuser(r.DenseWeight, r.SparseWeight, r.K0),
		reranker:    reranker,
		results:     opts.Results,
		matcher:     attach.NewMatcher(opts.Store, opts.Config.Attachments.MaxResults, opts.Config.Attachments.KeywordCap),
		store:       opts.Store,
		sessions:    opts.Sessions,
		metrics:     metrics,
		logger:      logger.With("component", "orchestrator"),
	}
}

// stageTimings collects per-stage durations from a pipeline run. Only
// meaningful when this caller actually ran the pipeline.
type stageTimings struct {
	embed        time.Duration
	retrieval    time.Duration
	rerank       time.Duration
	adapterCalls int
}

// Query answers a request. Adapter and reranker failures degrade the
// response; only validation errors, corpus errors at assembly, and the
// overall deadline fail it.
func (o *Orchestrator) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	normalized := cache.NormalizeQuery(req.Text)
	if normalized == "" {
		o.metrics.RecordFailure()
		return nil, sibylerr.New(sibylerr.ErrCodeQueryEmpty, "query is empty", nil)
	}
	topK := o.clampTopK(req.TopK)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Pipeline)
	defer cancel()

	key := cache.QueryKey(normalized, o.fingerprint, req.SessionID)
	log := o.logger.With("query", normalized, "session", req.SessionID)
	log.Debug("query received", "state", StateReceived, "top_k", topK)

	var stages stageTimings
	payload, status, err := o.results.Do(ctx, key, func(computeCtx context.Context) (cache.Computed, error) {
		result, timings, err := o.runPipeline(computeCtx, normalized, log)
		if err != nil {
			return cache.Computed{}, err
		}
		stages = timings
		data, err := json.Marshal(result)
		if err != nil {
			return cache.Computed{}, sibylerr.New(sibylerr.ErrCodeInternal, "encode cached result", err)
		}
		// Degraded runs stay volatile: a transient adapter or reranker
		// outage must not be served as a hit for the full TTL after the
		// component recovers.
		return cache.Computed{
			Value:    data,
			DocIDs:   result.DocIDs,
			Volatile: result.Degraded,
		}, nil
	})
	if err != nil {
		o.metrics.RecordFailure()
		if ctx.Err() != nil {
			return nil, sibylerr.New(sibylerr.ErrCodePipelineDeadline, "query deadline exceeded", ctx.Err())
		}
		return nil, err
	}

	var cached cachedResult
	if err := json.Unmarshal(payload, &cached); err != nil {
		o.metrics.RecordFailure()
		return nil, sibylerr.New(sibylerr.ErrCodeInternal, "decode cached result", err)
	}

	resp, attachDur, err := o.assemble(ctx, normalized, &cached, topK)
	if err != nil {
		o.metrics.RecordFailure()
		return nil, err
	}

	resp.Timings = Timings{
		Total:        time.Since(start),
		Embed:        stages.embed,
		Retrieval:    stages.retrieval,
		Rerank:       stages.rerank,
		Attach:       attachDur,
		AdapterCalls: stages.adapterCalls,
		CacheStatus:  string(status),
	}

	o.finish(req, resp, log)
	return resp, nil
}

func (o *Orchestrator) clampTopK(k int) int {
	if k <= 0 {
		return o.cfg.Retrieval.DefaultTopK
	}
	if k > o.cfg.Retrieval.MaxTopK {
		return o.cfg.Retrieval.MaxTopK
	}
	return k
}

// runPipeline executes retrieval, fusion, and reranking for a cache miss.
func (o *Orchestrator) runPipeline(ctx context.Context, normalized string, log *slog.Logger) (*cachedResult, stageTimings, error) {
	var timings stageTimings
	result := &cachedResult{}

	// Parallel fan-out to both adapters. Either may fail; a failed list
	// stays nil so fusion gives the survivor full weight.
	log.Debug("retrieving", "state", StateRetrieving)
	retrievalStart := time.Now()

	var denseHits []index.DenseHit
	var sparseHits []index.SparseHit
	var embedDur time.Duration
	denseCalled, sparseCalled := false, false
	denseFailed, sparseFailed := false, false
	embedFellBack := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embedStart := time.Now()
		origin := embed.OriginPrimary
		var vec []float32
		var err error
		if oe, ok := o.embedder.(embed.OriginEmbedder); ok {
			vec, origin, err = oe.EmbedWithOrigin(gctx, normalized)
		} else {
			vec, err = o.embedder.Embed(gctx, normalized)
		}
		embedDur = time.Since(embedStart)
		if err != nil {
			denseFailed = true
			log.Warn("dense retrieval degraded: embedding failed", "error", err)
			return nil
		}
		if origin == embed.OriginFallback {
			// The fallback embeds in a different space than the index was
			// built in, so dense neighbors are approximate at best.
			embedFellBack = true
		}
		denseCalled = true
		hits, err := o.vector.Search(gctx, vec, o.cfg.Retrieval.CandidateK)
		if err != nil {
			denseFailed = true
			log.Warn("dense retrieval degraded", "error", err)
			return nil
		}
		denseHits = hits
		if denseHits == nil {
			denseHits = []index.DenseHit{}
		}
		return nil
	})
	g.Go(func() error {
		sparseCalled = true
		hits, err := o.lexical.Search(gctx, normalized, o.cfg.Retrieval.CandidateK)
		if err != nil {
			sparseFailed = true
			log.Warn("sparse retrieval degraded", "error", err)
			return nil
		}
		sparseHits = hits
		if sparseHits == nil {
			sparseHits = []index.SparseHit{}
		}
		return nil
	})
	_ = g.Wait() // adapter errors are absorbed above
	timings.retrieval = time.Since(retrievalStart)
	timings.embed = embedDur
	if denseCalled {
		timings.adapterCalls++
	}
	if sparseCalled {
		timings.adapterCalls++
	}

	if denseFailed {
		result.Degraded = true
		result.Reasons = append(result.Reasons, "dense_unavailable")
	}
	if embedFellBack {
		result.Degraded = true
		result.Reasons = append(result.Reasons, "embed_fallback")
	}
	if sparseFailed {
		result.Degraded = true
		result.Reasons = append(result.Reasons, "sparse_unavailable")
	}

	// Both adapters down: an empty degraded response, not an error.
	if denseFailed && sparseFailed {
		log.Warn("all adapters unavailable", "state", StateDegraded)
		return result, timings, nil
	}

	log.Debug("fusing", "state", StateFusing,
		"dense", len(denseHits), "sparse", len(sparseHits))
	candidates := o.fuser.Fuse(denseHits, sparseHits, o.cfg.Retrieval.RerankPool)
	if len(candidates) == 0 {
		return result, timings, nil
	}

	items, rerankDur, rerankDegraded := o.rerankCandidates(ctx, normalized, candidates, log)
	timings.rerank = rerankDur
	if rerankDegraded {
		result.Degraded = true
		result.Reasons = append(result.Reasons, "rerank_unavailable")
	}
	result.Items = items
	result.DocIDs = o.docIDsFor(ctx, items)

	return result, timings, nil
}

// rerankCandidates applies the cross-encoder pass, falling back to the fused
// order on any failure or timeout.
func (o *Orchestrator) rerankCandidates(ctx context.Context, query string, candidates []fusion.Candidate, log *slog.Logger) ([]rankedItem, time.Duration, bool) {
	fused := make([]rankedItem, len(candidates))
	for i, c := range candidates {
		fused[i] = rankedItem{ChunkID: c.ChunkID, Score: c.Score}
	}

	if !o.cfg.Reranker.Enabled {
		return fused, 0, false
	}

	log.Debug("reranking", "state", StateReranking, "pool", len(candidates))
	start := time.Now()

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := o.store.GetChunks(ctx, ids)
	if err != nil || len(chunks) != len(ids) {
		// Missing evidence text; rerank on what we have is not worth the
		// inconsistency, keep fused order.
		log.Warn("rerank bypassed: cannot load candidate texts", "error", err)
		return fused, time.Since(start), true
	}
	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Content
	}

	rerankCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Rerank)
	defer cancel()

	scored, err := o.reranker.Rerank(rerankCtx, query, docs, len(docs))
	if err != nil || len(scored) == 0 {
		log.Warn("rerank bypassed", "state", StateDegraded, "error", err)
		return fused, time.Since(start), true
	}

	items := make([]rankedItem, 0, len(scored))
	seen := make(map[int]struct{}, len(scored))
	for _, r := range scored {
		if _, dup := seen[r.Index]; dup || r.Index < 0 || r.Index >= len(ids) {
			continue
		}
		seen[r.Index] = struct{}{}
		items = append(items, rankedItem{ChunkID: ids[r.Index], Score: r.Score})
	}
	if len(items) == 0 {
		// Every returned index was duplicate or out of range.
		log.Warn("rerank bypassed: no usable scores", "state", StateDegraded)
		return fused, time.Since(start), true
	}

	// A partial rerank response keeps unscored candidates behind the
	// scored ones in fused order, floored below the weakest scored item
	// so the tail can never leapfrog it.
	floor := items[0].Score
	for _, it := range items[1:] {
		if it.Score < floor {
			floor = it.Score
		}
	}
	for i, id := range ids {
		if _, ok := seen[i]; !ok {
			items = append(items, rankedItem{ChunkID: id, Score: floor * fused[i].Score})
		}
	}
	return items, time.Since(start), false
}

// docIDsFor resolves the distinct source documents of the ranked items.
func (o *Orchestrator) docIDsFor(ctx context.Context, items []rankedItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ChunkID
	}
	chunks, err := o.store.GetChunks(ctx, ids)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(chunks))
	var docs []string
	for _, c := range chunks {
		if _, dup := seen[c.DocumentID]; dup {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		docs = append(docs, c.DocumentID)
	}
	return docs
}

// assemble turns a cached ranking into a full response by re-reading
// evidence text and attachments from the local corpus.
func (o *Orchestrator) assemble(ctx context.Context, normalized string, cached *cachedResult, topK int) (*Response, time.Duration, error) {
	resp := &Response{
		Query:           normalized,
		Results:         []Evidence{},
		Degraded:        cached.Degraded,
		DegradedReasons: cached.Reasons,
	}
	if len(cached.Items) == 0 {
		return resp, 0, nil
	}

	items := cached.Items
	if len(items) > topK {
		items = items[:topK]
	}

	ids := make([]string, len(items))
	scores := make(map[string]float64, len(items))
	for i, it := range items {
		ids[i] = it.ChunkID
		scores[it.ChunkID] = it.Score
	}

	chunks, err := o.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, c := range chunks {
		resp.Results = append(resp.Results, Evidence{
			ChunkID:     c.ID,
			DocumentID:  c.DocumentID,
			Text:        c.Content,
			Score:       scores[c.ID],
			HeadingPath: c.HeadingPath,
			Page:        c.Page,
		})
	}

	attachStart := time.Now()
	matches, err := o.matcher.Match(ctx, attach.QueryTerms(normalized), ids)
	if err != nil {
		// Attachments enrich the answer; their loss degrades it.
		o.logger.Warn("attachment matching degraded", "error", err)
		resp.Degraded = true
		resp.DegradedReasons = append(resp.DegradedReasons, "attachments_unavailable")
	} else {
		resp.Attachments = matches
	}
	return resp, time.Since(attachStart), nil
}

// finish records telemetry and session history.
func (o *Orchestrator) finish(req Request, resp *Response, log *slog.Logger) {
	state := StateCompleted
	if resp.Degraded {
		state = StateDegraded
	}
	log.Info("query completed",
		"state", state,
		"results", len(resp.Results),
		"attachments", len(resp.Attachments),
		"degraded", resp.Degraded,
		"cache", resp.Timings.CacheStatus,
		"total_ms", resp.Timings.Total.Milliseconds())

	o.metrics.Record(telemetry.QueryRecord{
		Query:       resp.Query,
		Duration:    resp.Timings.Total,
		CacheStatus: resp.Timings.CacheStatus,
		Degraded:    resp.Degraded,
		ResultCount: len(resp.Results),
	})

	if o.sessions != nil && req.SessionID != "" {
		topChunk := ""
		if len(resp.Results) > 0 {
			topChunk = resp.Results[0].ChunkID
		}
		if err := o.sessions.Append(req.SessionID, session.Turn{
			Query:    resp.Query,
			TopChunk: topChunk,
			Degraded: resp.Degraded,
		}); err != nil {
			log.Warn("session append failed", "error", err)
		}
	}
}

// InvalidateAll drops all cached results.
func (o *Orchestrator) InvalidateAll(ctx context.Context) error {
	return o.results.InvalidateAll(ctx)
}

// InvalidateDocument drops cached results citing the given document.
func (o *Orchestrator) InvalidateDocument(ctx context.Context, docID string) error {
	return o.results.InvalidateDocument(ctx, docID)
}

// Metrics exposes the telemetry aggregator for the status surface.
func (o *Orchestrator) Metrics() *telemetry.Metrics { return o.metrics }
