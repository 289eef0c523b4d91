package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
	"github.com/sibyl-search/sibyl/internal/query"
	"github.com/sibyl-search/sibyl/internal/telemetry"
)

type stubEngine struct {
	resp            *query.Response
	err             error
	invalidatedAll  bool
	invalidatedDocs []string
	metrics         *telemetry.Metrics
}

func (s *stubEngine) Query(context.Context, query.Request) (*query.Response, error) {
	return s.resp, s.err
}

func (s *stubEngine) InvalidateAll(context.Context) error {
	s.invalidatedAll = true
	return nil
}

func (s *stubEngine) InvalidateDocument(_ context.Context, docID string) error {
	s.invalidatedDocs = append(s.invalidatedDocs, docID)
	return nil
}

func (s *stubEngine) Metrics() *telemetry.Metrics {
	if s.metrics == nil {
		s.metrics = telemetry.NewMetrics()
	}
	return s.metrics
}

func doRequest(t *testing.T, engine Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(engine, ":0", nil)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := doRequest(t, &stubEngine{}, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestQueryEndpoint(t *testing.T) {
	engine := &stubEngine{resp: &query.Response{
		Query: "q",
		Results: []query.Evidence{
			{ChunkID: "c1", DocumentID: "d1", Text: "text", Score: 1.0},
		},
		Timings: query.Timings{Total: 10 * time.Millisecond, CacheStatus: "miss"},
	}}

	w := doRequest(t, engine, http.MethodPost, "/api/query", query.Request{Text: "q"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp query.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c1", resp.Results[0].ChunkID)
}

func TestQueryEndpointRejectsBadBody(t *testing.T) {
	s := NewServer(&stubEngine{}, ":0", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), sibylerr.ErrCodeInvalidQuery)
}

func TestQueryEndpointErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"empty query", sibylerr.New(sibylerr.ErrCodeQueryEmpty, "empty", nil), http.StatusBadRequest},
		{"snapshot missing", sibylerr.New(sibylerr.ErrCodeSnapshotMissing, "no snapshot", nil), http.StatusServiceUnavailable},
		{"deadline", sibylerr.New(sibylerr.ErrCodePipelineDeadline, "deadline", nil), http.StatusGatewayTimeout},
		{"internal", sibylerr.New(sibylerr.ErrCodeInternal, "boom", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, &stubEngine{err: tt.err}, http.MethodPost, "/api/query", query.Request{Text: "q"})
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), sibylerr.GetCode(tt.err))
		})
	}
}

func TestInvalidateAllEndpoint(t *testing.T) {
	engine := &stubEngine{}
	w := doRequest(t, engine, http.MethodPost, "/api/invalidate", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"invalidated":"all"`)
	assert.True(t, engine.invalidatedAll)
}

func TestInvalidateDocumentEndpoint(t *testing.T) {
	engine := &stubEngine{}
	w := doRequest(t, engine, http.MethodPost, "/api/invalidate",
		map[string]string{"document_id": "doc9"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"invalidated":"doc9"`)
	assert.Equal(t, []string{"doc9"}, engine.invalidatedDocs)
	assert.False(t, engine.invalidatedAll)
}

func TestStatusEndpoint(t *testing.T) {
	engine := &stubEngine{}
	engine.Metrics().Record(telemetry.QueryRecord{
		Query: "q", Duration: 5 * time.Millisecond, CacheStatus: "hit", ResultCount: 2,
	})

	w := doRequest(t, engine, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Metrics telemetry.Snapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Metrics.Total)
	assert.Equal(t, int64(1), body.Metrics.CacheHits)
}

func TestRequestIDPropagated(t *testing.T) {
	s := NewServer(&stubEngine{}, ":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "fixed-id", w.Header().Get("X-Request-ID"))
}
