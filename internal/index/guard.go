package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// newBreaker builds a circuit breaker for a retrieval adapter. A tripped
// breaker fails fast so one dead backend cannot burn the whole adapter
// timeout budget on every query.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("adapter circuit breaker state change",
				"adapter", name, "from", from.String(), "to", to.String())
		},
	})
}

// GuardedVectorIndex wraps a VectorIndex with a circuit breaker and a
// bounded retry. Failures surface as retryable index errors so the pipeline
// can degrade to sparse-only retrieval.
type GuardedVectorIndex struct {
	inner   VectorIndex
	breaker *gobreaker.CircuitBreaker
	retry   sibylerr.RetryConfig
	timeout time.Duration
}

var _ VectorIndex = (*GuardedVectorIndex)(nil)

// NewGuardedVectorIndex wraps inner with per-call timeout and retry budget.
func NewGuardedVectorIndex(inner VectorIndex, timeout time.Duration, retry sibylerr.RetryConfig) *GuardedVectorIndex {
	return &GuardedVectorIndex{
		inner:   inner,
		breaker: newBreaker("dense"),
		retry:   retry,
		timeout: timeout,
	}
}

// Search runs the inner search under breaker, timeout, and retry.
func (g *GuardedVectorIndex) Search(ctx context.Context, vector []float32, k int) ([]DenseHit, error) {
	var hits []DenseHit

	err := sibylerr.Retry(ctx, g.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		result, err := g.breaker.Execute(func() (any, error) {
			return g.inner.Search(callCtx, vector, k)
		})
		if err != nil {
			return sibylerr.IndexUnavailable("dense", err)
		}
		hits, _ = result.([]DenseHit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// Add passes through without guarding; ingestion has its own error handling.
func (g *GuardedVectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	return g.inner.Add(ctx, ids, vectors)
}

// Count passes through.
func (g *GuardedVectorIndex) Count() int { return g.inner.Count() }

// Close passes through.
func (g *GuardedVectorIndex) Close() error { return g.inner.Close() }

// GuardedLexicalIndex wraps a LexicalIndex the same way.
type GuardedLexicalIndex struct {
	inner   LexicalIndex
	breaker *gobreaker.CircuitBreaker
	retry   sibylerr.RetryConfig
	timeout time.Duration
}

var _ LexicalIndex = (*GuardedLexicalIndex)(nil)

// NewGuardedLexicalIndex wraps inner with per-call timeout and retry budget.
func NewGuardedLexicalIndex(inner LexicalIndex, timeout time.Duration, retry sibylerr.RetryConfig) *GuardedLexicalIndex {
	return &GuardedLexicalIndex{
		inner:   inner,
		breaker: newBreaker("sparse"),
		retry:   retry,
		timeout: timeout,
	}
}

// Search runs the inner search under breaker, timeout, and retry.
func (g *GuardedLexicalIndex) Search(ctx context.Context, query string, k int) ([]SparseHit, error) {
	var hits []SparseHit

	err := sibylerr.Retry(ctx, g.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		result, err := g.breaker.Execute(func() (any, error) {
			return g.inner.Search(callCtx, query, k)
		})
		if err != nil {
			return sibylerr.IndexUnavailable("sparse", err)
		}
		hits, _ = result.([]SparseHit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// Index passes through without guarding.
func (g *GuardedLexicalIndex) Index(ctx context.Context, ids []string, contents []string) error {
	return g.inner.Index(ctx, ids, contents)
}

// Count passes through.
func (g *GuardedLexicalIndex) Count() int { return g.inner.Count() }

// Close passes through.
func (g *GuardedLexicalIndex) Close() error { return g.inner.Close() }
