package embed

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
// Works with any server implementing the /v1/embeddings API (Ollama,
// LM Studio, vLLM, OpenAI itself).
type OpenAIEmbedder struct {
	embedder   embeddings.Embedder
	model      string
	dimensions int
	logger     *slog.Logger
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder against the given base URL.
// A "none" token keeps local services that skip auth happy.
func NewOpenAIEmbedder(baseURL, model string, dimensions int) (*OpenAIEmbedder, error) {
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeEmbedUnavailable, "create embedding client", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeEmbedUnavailable, "create embedder", err)
	}

	return &OpenAIEmbedder{
		embedder:   embedder,
		model:      model,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "embedder", "model", model),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, sibylerr.New(sibylerr.ErrCodeEmbedUnavailable, "embedder returned no vectors", nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Warn("embedding request failed", "count", len(texts), "error", err)
		return nil, sibylerr.New(sibylerr.ErrCodeEmbedUnavailable, "embedding request failed", err)
	}

	for i, v := range vecs {
		if len(v) != e.dimensions {
			return nil, sibylerr.New(sibylerr.ErrCodeDimensionMismatch,
				"embedding dimension does not match configuration", nil).
				WithDetail("expected", strconv.Itoa(e.dimensions)).
				WithDetail("got", strconv.Itoa(len(v)))
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Available probes the endpoint with a tiny embedding request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	probe, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := e.embedder.EmbedDocuments(probe, []string{"ping"})
	return err == nil
}

// Close releases resources. The HTTP client needs no explicit teardown.
func (e *OpenAIEmbedder) Close() error { return nil }
