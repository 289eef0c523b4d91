package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// StaticEmbedder is a deterministic hash-based embedder requiring no model
// or network. Quality is far below a learned model, so it only serves as the
// last resort when the embedding service is unreachable. Vectors from the
// static embedder are only comparable to other static vectors, never to
// model-produced corpus vectors; the pipeline treats a static fallback as a
// degraded dense adapter.
type StaticEmbedder struct {
	dimensions int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder with the given dimension.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &StaticEmbedder{dimensions: dimensions}
}

// stopwords excluded from hashing so function words do not dominate.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "were": {}, "what": {}, "which": {}, "will": {},
	"with": {}, "how": {}, "do": {}, "does": {}, "i": {}, "you": {},
}

// Embed produces a deterministic vector from token hashes.
func (s *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dimensions)

	for _, token := range tokenize(text) {
		if _, skip := stopwords[token]; skip {
			continue
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		// Each token contributes to a few buckets with signed weights.
		for i := 0; i < 4; i++ {
			bucket := int((sum >> (i * 16)) % uint64(s.dimensions))
			sign := float32(1)
			if (sum>>(i*16+7))&1 == 1 {
				sign = -1
			}
			vec[bucket] += sign
		}
	}

	return normalizeVector(vec), nil
}

// EmbedBatch embeds each text independently.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (s *StaticEmbedder) Dimensions() int { return s.dimensions }

// ModelName returns the static model identifier.
func (s *StaticEmbedder) ModelName() string { return "static-hash" }

// Available always returns true; the static embedder has no dependencies.
func (s *StaticEmbedder) Available(context.Context) bool { return true }

// Close is a no-op.
func (s *StaticEmbedder) Close() error { return nil }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
