package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Status classifies how a cache lookup was served.
type Status string

const (
	// StatusHit means the entry was served from the backend.
	StatusHit Status = "hit"

	// StatusLeader means this caller computed the entry and published it.
	StatusLeader Status = "miss"

	// StatusShared means this caller waited on another in-flight
	// computation for the same key and shared its result.
	StatusShared Status = "shared"

	// StatusIndependent means the bounded wait on another computation
	// expired and this caller computed privately without publishing.
	StatusIndependent Status = "independent"
)

// Computed is the product of a cache miss computation.
type Computed struct {
	// Value is the serialized entry.
	Value []byte

	// DocIDs are the documents the value cites, used to tag the entry
	// for per-document invalidation.
	DocIDs []string

	// Volatile values are served to the caller and any waiting followers
	// but never published to the backend. Degraded pipeline runs set this
	// so a transient outage cannot be served as a hit for a full TTL.
	Volatile bool
}

// Compute produces the value for a cache key on a miss.
type Compute func(ctx context.Context) (Computed, error)

// flight is one in-progress computation shared by concurrent callers.
type flight struct {
	done chan struct{}
	res  Computed
	err  error
}

// ResultCacheConfig configures a ResultCache.
type ResultCacheConfig struct {
	// TTL bounds entry staleness.
	TTL time.Duration

	// WaitTimeout bounds how long a follower waits on the leader before
	// computing independently.
	WaitTimeout time.Duration

	// ComputeTimeout bounds a leader computation that outlives its
	// caller. It must cover a full pipeline run.
	ComputeTimeout time.Duration

	// Workers sizes the background completion pool.
	Workers int
}

// DefaultResultCacheConfig returns production defaults.
func DefaultResultCacheConfig() ResultCacheConfig {
	return ResultCacheConfig{
		TTL:            time.Hour,
		WaitTimeout:    2 * time.Second,
		ComputeTimeout: 10 * time.Second,
		Workers:        32,
	}
}

// ResultCache deduplicates concurrent computations per key and publishes
// results to a Backend. Exactly one computation runs per key at a time;
// concurrent callers for the same key share the leader's result, bounded by
// WaitTimeout. A leader whose caller goes away finishes in the background so
// the work is not wasted.
type ResultCache struct {
	backend Backend
	cfg     ResultCacheConfig
	pool    *ants.Pool
	logger  *slog.Logger

	mu      sync.Mutex
	flights map[string]*flight
	// docTags maps a document ID to the cache keys whose results cite it,
	// enabling per-document invalidation.
	docTags map[string]map[string]struct{}
	keyDocs map[string][]string
}

// NewResultCache creates a result cache over the given backend.
func NewResultCache(backend Backend, cfg ResultCacheConfig) (*ResultCache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 2 * time.Second
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 32
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	return &ResultCache{
		backend: backend,
		cfg:     cfg,
		pool:    pool,
		logger:  slog.Default().With("component", "result-cache"),
		flights: make(map[string]*flight),
		docTags: make(map[string]map[string]struct{}),
		keyDocs: make(map[string][]string),
	}, nil
}

// Do returns the cached value for key, or computes it. Backend errors are
// absorbed: they log and degrade to a miss, never fail the call.
func (c *ResultCache) Do(ctx context.Context, key string, compute Compute) ([]byte, Status, error) {
	if val, ok, err := c.backend.Get(ctx, key); err != nil {
		c.logger.Warn("cache get failed, treating as miss", "error", err)
	} else if ok {
		return val, StatusHit, nil
	}

	c.mu.Lock()
	if f, inFlight := c.flights[key]; inFlight {
		c.mu.Unlock()
		return c.follow(ctx, f, compute)
	}

	f := &flight{done: make(chan struct{})}
	c.flights[key] = f
	c.mu.Unlock()

	c.launch(ctx, key, f, compute)

	select {
	case <-f.done:
		return f.res.Value, StatusLeader, f.err
	case <-ctx.Done():
		// The computation continues in the background and publishes for
		// future callers.
		return nil, StatusLeader, ctx.Err()
	}
}

// launch runs the leader computation detached from the caller's lifetime.
func (c *ResultCache) launch(ctx context.Context, key string, f *flight, compute Compute) {
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ComputeTimeout)

	run := func() {
		defer cancel()
		defer func() {
			c.mu.Lock()
			delete(c.flights, key)
			c.mu.Unlock()
			close(f.done)
		}()

		f.res, f.err = compute(bgCtx)
		if f.err != nil || f.res.Volatile {
			return
		}
		if err := c.backend.Set(bgCtx, key, f.res.Value, c.cfg.TTL); err != nil {
			c.logger.Warn("cache set failed", "error", err)
			return
		}
		c.tag(key, f.res.DocIDs)
	}

	if err := c.pool.Submit(run); err != nil {
		// Pool saturated or released; do not drop the computation.
		go run()
	}
}

// follow waits on the leader's flight, bounded by WaitTimeout.
func (c *ResultCache) follow(ctx context.Context, f *flight, compute Compute) ([]byte, Status, error) {
	timer := time.NewTimer(c.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case <-f.done:
		if f.err == nil {
			return f.res.Value, StatusShared, nil
		}
		// The leader failed; compute for this caller alone.
		res, err := compute(ctx)
		return res.Value, StatusIndependent, err
	case <-timer.C:
		// The leader is slow. Compute privately without publishing, so
		// the single in-flight computation invariant holds per key.
		res, err := compute(ctx)
		return res.Value, StatusIndependent, err
	case <-ctx.Done():
		return nil, StatusShared, ctx.Err()
	}
}

// tag records key under each document ID.
func (c *ResultCache) tag(key string, docIDs []string) {
	if len(docIDs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range docIDs {
		set, ok := c.docTags[doc]
		if !ok {
			set = make(map[string]struct{})
			c.docTags[doc] = set
		}
		set[key] = struct{}{}
	}
	c.keyDocs[key] = append(c.keyDocs[key], docIDs...)
}

// InvalidateAll drops every cached result. Subsequent queries are misses.
func (c *ResultCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	c.docTags = make(map[string]map[string]struct{})
	c.keyDocs = make(map[string][]string)
	c.mu.Unlock()

	if err := c.backend.Flush(ctx); err != nil {
		c.logger.Warn("cache flush failed", "error", err)
		return err
	}
	return nil
}

// InvalidateDocument drops cached results citing the given document.
func (c *ResultCache) InvalidateDocument(ctx context.Context, docID string) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.docTags[docID]))
	for key := range c.docTags[docID] {
		keys = append(keys, key)
		for _, doc := range c.keyDocs[key] {
			if doc != docID {
				delete(c.docTags[doc], key)
			}
		}
		delete(c.keyDocs, key)
	}
	delete(c.docTags, docID)
	c.mu.Unlock()

	var firstErr error
	for _, key := range keys {
		if err := c.backend.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases the worker pool and backend.
func (c *ResultCache) Close() error {
	c.pool.Release()
	return c.backend.Close()
}
