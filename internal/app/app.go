// Package app wires configuration, storage, adapters, cache, and the query
// orchestrator into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sibyl-search/sibyl/internal/cache"
	"github.com/sibyl-search/sibyl/internal/config"
	"github.com/sibyl-search/sibyl/internal/corpus"
	"github.com/sibyl-search/sibyl/internal/embed"
	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
	"github.com/sibyl-search/sibyl/internal/httpapi"
	"github.com/sibyl-search/sibyl/internal/index"
	"github.com/sibyl-search/sibyl/internal/mcp"
	"github.com/sibyl-search/sibyl/internal/query"
	"github.com/sibyl-search/sibyl/internal/rerank"
	"github.com/sibyl-search/sibyl/internal/session"
	"github.com/sibyl-search/sibyl/internal/watch"
)

// App is the assembled service: the orchestrator plus everything it owns.
type App struct {
	Config       *config.Config
	Orchestrator *query.Orchestrator

	store    *corpus.SQLiteStore
	vector   *index.HNSWIndex
	lexical  *index.BleveIndex
	embedder embed.Embedder
	reranker rerank.Reranker
	results  *cache.ResultCache
	watcher  *watch.Watcher
	logger   *slog.Logger
}

// New assembles the service from configuration. Configuration and corpus
// mismatches are fatal; a down embedding or rerank endpoint is not, those
// degrade at query time instead.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store, err := corpus.OpenSQLite(cfg.Storage.CorpusPath)
	if err != nil {
		return nil, err
	}
	a.store = store

	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Dimension != cfg.Embeddings.Dimensions {
		return nil, sibylerr.New(sibylerr.ErrCodeDimensionMismatch,
			"corpus snapshot dimension does not match configured embedding dimension", nil).
			WithDetail("snapshot", strconv.Itoa(snap.Dimension)).
			WithDetail("configured", strconv.Itoa(cfg.Embeddings.Dimensions)).
			WithSuggestion("reindex the corpus or set embeddings.dimensions to match")
	}
	logger.Info("corpus opened",
		"snapshot", snap.ID, "chunks", snap.ChunkCount,
		"embed_model", snap.EmbedModel, "dimension", snap.Dimension)

	vector := index.NewHNSWIndex(cfg.Embeddings.Dimensions, cfg.Retrieval.MinSimilarity)
	if err := vector.Load(cfg.Storage.VectorIndexPath); err != nil {
		return nil, err
	}
	a.vector = vector

	lexical, err := index.NewBleveIndex(cfg.Storage.LexicalIndexPath, cfg.Retrieval.MinSparseScore)
	if err != nil {
		return nil, err
	}
	a.lexical = lexical

	retry := sibylerr.RetryConfig{
		MaxRetries: cfg.Timeouts.AdapterRetries,
		Backoff:    cfg.Timeouts.AdapterBackoff,
	}
	guardedVector := index.NewGuardedVectorIndex(vector, cfg.Timeouts.Adapter, retry)
	guardedLexical := index.NewGuardedLexicalIndex(lexical, cfg.Timeouts.Adapter, retry)

	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.embedder = embedder

	if cfg.Reranker.Enabled {
		a.reranker = rerank.NewHTTPReranker(rerank.HTTPConfig{
			Endpoint:          cfg.Reranker.Endpoint,
			Model:             cfg.Reranker.Model,
			Timeout:           cfg.Timeouts.Rerank,
			RequestsPerSecond: cfg.Reranker.RequestsPerSecond,
			Burst:             cfg.Reranker.Burst,
		})
	}

	backend, err := buildCacheBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	results, err := cache.NewResultCache(backend, cache.ResultCacheConfig{
		TTL:         cfg.Cache.ResultTTL,
		WaitTimeout: cfg.Timeouts.CacheWait,
		// A leader outliving its caller still needs a full pipeline run.
		ComputeTimeout: cfg.Timeouts.Pipeline + 2*time.Second,
	})
	if err != nil {
		return nil, err
	}
	a.results = results

	sessions, err := session.NewManager(cfg.Sessions.Dir, cfg.Sessions.MaxTurns)
	if err != nil {
		return nil, err
	}

	a.Orchestrator = query.New(query.Options{
		Config:   cfg,
		Embedder: embedder,
		Vector:   guardedVector,
		Lexical:  guardedLexical,
		Reranker: a.reranker,
		Results:  results,
		Store:    store,
		Sessions: sessions,
		Logger:   logger,
	})

	a.watcher, err = watch.New(watch.Options{
		MarkerPath: cfg.Storage.SnapshotMarker,
		Logger:     logger,
	}, a.Orchestrator.InvalidateAll)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// buildEmbedder builds the embedding chain: the configured provider behind
// an in-memory cache, with a static hash fallback so dense retrieval never
// hard-fails when the endpoint is down.
func buildEmbedder(cfg *config.Config, logger *slog.Logger) (embed.Embedder, error) {
	static := embed.NewStaticEmbedder(cfg.Embeddings.Dimensions)

	switch cfg.Embeddings.Provider {
	case "static":
		return embed.NewCachedEmbedder(static, cfg.Cache.EmbeddingSize, cfg.Cache.EmbeddingTTL), nil
	case "openai":
		primary, err := embed.NewOpenAIEmbedder(
			cfg.Embeddings.Endpoint, cfg.Embeddings.Model, cfg.Embeddings.Dimensions)
		if err != nil {
			// Endpoint misconfiguration shows up at client construction;
			// serve static embeddings rather than refuse to start.
			logger.Warn("embedding provider unavailable, using static fallback", "error", err)
			return embed.NewCachedEmbedder(static, cfg.Cache.EmbeddingSize, cfg.Cache.EmbeddingTTL), nil
		}
		chain := embed.NewFallbackEmbedder(primary, static)
		return embed.NewCachedEmbedder(chain, cfg.Cache.EmbeddingSize, cfg.Cache.EmbeddingTTL), nil
	default:
		return nil, sibylerr.ConfigError(
			fmt.Sprintf("embeddings.provider must be openai or static (got %q)", cfg.Embeddings.Provider), nil)
	}
}

// buildCacheBackend selects the result cache backend. A down redis degrades
// to the in-memory backend; caching is an optimization, not a dependency.
func buildCacheBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Backend, error) {
	if cfg.Cache.Backend == "redis" {
		backend, err := cache.NewRedisBackend(ctx,
			cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.ResultTTL)
		if err == nil {
			return backend, nil
		}
		logger.Warn("redis unavailable, using in-memory cache", "error", err)
	}
	return cache.NewMemoryBackend(cfg.Cache.ResultSize, cfg.Cache.ResultTTL), nil
}

// Run serves the configured transport and watches the snapshot marker until
// ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.watcher.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	switch a.Config.Server.Transport {
	case "mcp":
		srv, err := mcp.NewServer(a.Orchestrator, a.logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Serve(gctx, "stdio") })
	default:
		srv := httpapi.NewServer(a.Orchestrator, a.Config.Server.HTTPAddr, a.logger)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	return g.Wait()
}

// Close releases resources in reverse construction order. Safe on a
// partially constructed app.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.watcher != nil {
		keep(a.watcher.Stop())
	}
	if a.results != nil {
		keep(a.results.Close())
	}
	if a.reranker != nil {
		keep(a.reranker.Close())
	}
	if a.embedder != nil {
		keep(a.embedder.Close())
	}
	if a.lexical != nil {
		keep(a.lexical.Close())
	}
	if a.vector != nil {
		keep(a.vector.Close())
	}
	if a.store != nil {
		keep(a.store.Close())
	}
	return firstErr
}
