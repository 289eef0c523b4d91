// Package embed turns query text into dense vectors.
//
// The primary embedder is any OpenAI-compatible HTTP endpoint. A
// deterministic hash-based embedder serves as the last-resort fallback so
// that dense retrieval degrades instead of disappearing when the embedding
// service is down.
package embed

import (
	"context"
	"math"
)

// Embedder generates vector embeddings for query text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder can serve requests now.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Origin identifies which embedder produced a vector.
type Origin string

const (
	// OriginPrimary means the configured embedder served the call, so the
	// vector lives in the same space as the corpus index.
	OriginPrimary Origin = "primary"

	// OriginFallback means the secondary served the call. Its vectors come
	// from a different space than the index was built in, so dense results
	// are approximate and the response must be marked degraded.
	OriginFallback Origin = "fallback"
)

// OriginEmbedder is implemented by embedders that can attribute each vector
// to the embedder that produced it.
type OriginEmbedder interface {
	EmbedWithOrigin(ctx context.Context, text string) ([]float32, Origin, error)
}

// normalizeVector scales a vector to unit length. Zero vectors pass through.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
