package embed

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// FallbackEmbedder tries a primary embedder and falls back to a secondary
// when the primary fails. The query pipeline uses it to keep dense retrieval
// alive on the static embedder while the embedding service is down.
type FallbackEmbedder struct {
	primary   Embedder
	secondary Embedder
	logger    *slog.Logger

	// fellBack records whether the most recent call used the secondary.
	fellBack atomic.Bool
}

var (
	_ Embedder       = (*FallbackEmbedder)(nil)
	_ OriginEmbedder = (*FallbackEmbedder)(nil)
)

// NewFallbackEmbedder wraps primary with secondary as the fallback.
func NewFallbackEmbedder(primary, secondary Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{
		primary:   primary,
		secondary: secondary,
		logger:    slog.Default().With("component", "embedder-fallback"),
	}
}

// Embed tries the primary and falls back on error.
func (f *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := f.EmbedWithOrigin(ctx, text)
	return vec, err
}

// EmbedWithOrigin tries the primary and falls back on error, reporting
// which embedder served the call so the pipeline can mark fallback-served
// queries as degraded.
func (f *FallbackEmbedder) EmbedWithOrigin(ctx context.Context, text string) ([]float32, Origin, error) {
	vec, err := f.primary.Embed(ctx, text)
	if err == nil {
		f.fellBack.Store(false)
		return vec, OriginPrimary, nil
	}
	if ctx.Err() != nil {
		return nil, OriginPrimary, ctx.Err()
	}

	f.logger.Warn("primary embedder failed, using fallback",
		"primary", f.primary.ModelName(), "error", err)
	f.fellBack.Store(true)
	vec, err = f.secondary.Embed(ctx, text)
	return vec, OriginFallback, err
}

// EmbedBatch tries the primary and falls back on error.
func (f *FallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := f.primary.EmbedBatch(ctx, texts)
	if err == nil {
		f.fellBack.Store(false)
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f.logger.Warn("primary embedder failed, using fallback",
		"primary", f.primary.ModelName(), "count", len(texts), "error", err)
	f.fellBack.Store(true)
	return f.secondary.EmbedBatch(ctx, texts)
}

// UsedFallback reports whether the most recent call served from the fallback.
func (f *FallbackEmbedder) UsedFallback() bool { return f.fellBack.Load() }

// Dimensions returns the primary embedder's dimension.
func (f *FallbackEmbedder) Dimensions() int { return f.primary.Dimensions() }

// ModelName returns the primary embedder's model identifier.
func (f *FallbackEmbedder) ModelName() string { return f.primary.ModelName() }

// Available is true if either embedder can serve.
func (f *FallbackEmbedder) Available(ctx context.Context) bool {
	return f.primary.Available(ctx) || f.secondary.Available(ctx)
}

// Close closes both embedders, returning the first error.
func (f *FallbackEmbedder) Close() error {
	err := f.primary.Close()
	if cerr := f.secondary.Close(); err == nil {
		err = cerr
	}
	return err
}
