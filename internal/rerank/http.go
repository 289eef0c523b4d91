package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// Defaults for the HTTP reranker client.
const (
	DefaultEndpoint = "http://localhost:9659"
	DefaultModel    = "reranker-small"
	DefaultTimeout  = 2 * time.Second
)

// HTTPConfig holds configuration for the HTTP reranker client.
type HTTPConfig struct {
	// Endpoint is the reranker server URL.
	Endpoint string

	// Model is the reranker model alias.
	Model string

	// Timeout is the per-request budget. The pipeline treats an overrun
	// as a degraded (pass-through) response, not a failure.
	Timeout time.Duration

	// RequestsPerSecond rate-limits outgoing calls. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size.
	Burst int
}

// DefaultHTTPConfig returns client defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Endpoint:          DefaultEndpoint,
		Model:             DefaultModel,
		Timeout:           DefaultTimeout,
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// HTTPReranker calls a cross-encoder rerank endpoint over HTTP.
type HTTPReranker struct {
	client  *http.Client
	config  HTTPConfig
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker client. No health check is performed
// at construction; availability is probed lazily so a down reranker never
// blocks startup.
func NewHTTPReranker(cfg HTTPConfig) *HTTPReranker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config:  cfg,
		limiter: limiter,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Rerank scores and reorders documents by relevance to the query.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, sibylerr.RerankUnavailable(nil)
	}
	if len(documents) == 0 {
		return nil, nil
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, sibylerr.RerankUnavailable(err)
		}
	}

	body, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: documents,
		Model:     r.config.Model,
		TopK:      topK,
	})
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeInternal, "encode rerank request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeInternal, "create rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, sibylerr.RerankUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, sibylerr.RerankUnavailable(nil).
			WithDetail("status", resp.Status).
			WithDetail("body", string(msg))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, sibylerr.RerankUnavailable(err)
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			continue
		}
		// Server scores are clamped into [0, 1]; downstream relevance
		// arithmetic assumes that range.
		score := item.Score
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		results = append(results, Result{Index: item.Index, Score: score})
	}
	return results, nil
}

// Available probes the reranker health endpoint.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
