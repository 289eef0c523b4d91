// Package rerank applies a second, more expensive relevance pass over a
// small fused candidate pool via an external cross-encoder service.
package rerank

import "context"

// Result is a reranked candidate.
type Result struct {
	// Index is the position of the document in the input slice.
	Index int `json:"index"`

	// Score is the cross-encoder relevance score.
	Score float64 `json:"score"`
}

// Reranker scores documents against a query and returns them best first.
type Reranker interface {
	// Rerank returns results ordered by descending relevance. Implementations
	// must honor ctx cancellation; the pipeline bypasses reranking when the
	// call fails or overruns its budget.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error)

	// Available reports whether the reranker can serve requests now.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// PassThrough is a no-op reranker preserving input order. Used when
// reranking is disabled and as the explicit degraded fallback.
type PassThrough struct{}

var _ Reranker = (*PassThrough)(nil)

// NewPassThrough creates a pass-through reranker.
func NewPassThrough() *PassThrough { return &PassThrough{} }

// Rerank returns documents in their original order with descending scores.
func (p *PassThrough) Rerank(_ context.Context, _ string, documents []string, topK int) ([]Result, error) {
	n := len(documents)
	if topK > 0 && topK < n {
		n = topK
	}
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		results[i] = Result{
			Index: i,
			Score: 1.0 - float64(i)/float64(len(documents)+1),
		}
	}
	return results, nil
}

// Available always returns true.
func (p *PassThrough) Available(context.Context) bool { return true }

// Close is a no-op.
func (p *PassThrough) Close() error { return nil }
