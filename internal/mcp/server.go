package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sibyl-search/sibyl/internal/query"
	"github.com/sibyl-search/sibyl/internal/telemetry"
	"github.com/sibyl-search/sibyl/pkg/version"
)

// Engine is the slice of the orchestrator the MCP surface needs.
type Engine interface {
	Query(ctx context.Context, req query.Request) (*query.Response, error)
	InvalidateAll(ctx context.Context) error
	InvalidateDocument(ctx context.Context, docID string) error
	Metrics() *telemetry.Metrics
}

// Server bridges AI clients with the retrieval engine over MCP.
type Server struct {
	mcp    *mcp.Server
	engine Engine
	logger *slog.Logger
}

// QueryInput defines the input schema for the query tool.
type QueryInput struct {
	Query     string `json:"query" jsonschema:"the question to retrieve evidence for"`
	TopK      int    `json:"top_k,omitempty" jsonschema:"number of results, default 5, max 10"`
	SessionID string `json:"session_id,omitempty" jsonschema:"session scope for the query"`
}

// QueryOutput defines the output schema for the query tool.
type QueryOutput struct {
	Results         []EvidenceOutput   `json:"results" jsonschema:"ranked evidence chunks, best first"`
	Attachments     []AttachmentOutput `json:"attachments,omitempty" jsonschema:"relevant non-text artifacts"`
	Degraded        bool               `json:"degraded" jsonschema:"true when a sub-component was skipped or substituted"`
	DegradedReasons []string           `json:"degraded_reasons,omitempty" jsonschema:"names of degraded sub-components"`
	CacheStatus     string             `json:"cache_status" jsonschema:"hit, miss, shared, or independent"`
	TotalMs         int64              `json:"total_ms" jsonschema:"end to end latency in milliseconds"`
}

// EvidenceOutput is one ranked chunk in a query tool response.
type EvidenceOutput struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id" jsonschema:"source document of the chunk"`
	Text        string  `json:"text" jsonschema:"chunk content"`
	Score       float64 `json:"score" jsonschema:"relevance score, top result is 1.0"`
	HeadingPath string  `json:"heading_path,omitempty" jsonschema:"section hierarchy within the document"`
	Page        int     `json:"page,omitempty"`
}

// AttachmentOutput is one matched artifact in a query tool response.
type AttachmentOutput struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	URI       string  `json:"uri"`
	Relevance float64 `json:"relevance"`
}

// InvalidateInput defines the input schema for the invalidate_cache tool.
type InvalidateInput struct {
	DocumentID string `json:"document_id,omitempty" jsonschema:"invalidate only results citing this document; empty drops everything"`
}

// InvalidateOutput defines the output schema for the invalidate_cache tool.
type InvalidateOutput struct {
	Scope string `json:"scope" jsonschema:"all or the invalidated document ID"`
}

// StatusInput defines the (empty) input schema for the status tool.
type StatusInput struct{}

// StatusOutput defines the output schema for the status tool.
type StatusOutput struct {
	Version       string           `json:"version"`
	Total         int64            `json:"total_queries"`
	Degraded      int64            `json:"degraded_queries"`
	CacheHits     int64            `json:"cache_hits"`
	ZeroResults   int64            `json:"zero_result_queries"`
	Failed        int64            `json:"failed_queries"`
	Latency       map[string]int64 `json:"latency_buckets"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// NewServer creates an MCP server over the given engine.
func NewServer(engine Engine, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine: engine,
		logger: logger.With("component", "mcp"),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "Sibyl",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query",
		Description: "Retrieve ranked evidence for a question using hybrid dense and sparse retrieval with reranking. Results cite source documents and may include relevant attachments such as diagrams and tables.",
	}, s.queryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "invalidate_cache",
		Description: "Drop cached query results after the corpus changes. Pass document_id to invalidate only results citing that document; omit it to drop everything.",
	}, s.invalidateHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Report query volume, cache hit rate, degradation counts, and latency distribution for this server.",
	}, s.statusHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 3))
}

func (s *Server) queryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	if input.Query == "" {
		return nil, QueryOutput{}, NewInvalidParamsError("query parameter is required")
	}

	resp, err := s.engine.Query(ctx, query.Request{
		Text:      input.Query,
		TopK:      input.TopK,
		SessionID: input.SessionID,
	})
	if err != nil {
		s.logger.Error("query tool failed", slog.String("error", err.Error()))
		return nil, QueryOutput{}, MapError(err)
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatQueryResults(resp)}},
	}
	return result, toQueryOutput(resp), nil
}

func (s *Server) invalidateHandler(ctx context.Context, _ *mcp.CallToolRequest, input InvalidateInput) (
	*mcp.CallToolResult,
	InvalidateOutput,
	error,
) {
	if input.DocumentID == "" {
		if err := s.engine.InvalidateAll(ctx); err != nil {
			return nil, InvalidateOutput{}, MapError(err)
		}
		s.logger.Info("cache invalidated", slog.String("scope", "all"))
		return nil, InvalidateOutput{Scope: "all"}, nil
	}

	if err := s.engine.InvalidateDocument(ctx, input.DocumentID); err != nil {
		return nil, InvalidateOutput{}, MapError(err)
	}
	s.logger.Info("cache invalidated", slog.String("scope", input.DocumentID))
	return nil, InvalidateOutput{Scope: input.DocumentID}, nil
}

func (s *Server) statusHandler(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	snap := s.engine.Metrics().Snapshot()
	return nil, StatusOutput{
		Version:       version.Version,
		Total:         snap.Total,
		Degraded:      snap.Degraded,
		CacheHits:     snap.CacheHits,
		ZeroResults:   snap.ZeroResults,
		Failed:        snap.Failed,
		Latency:       snap.Latency,
		UptimeSeconds: int64(snap.Uptime.Seconds()),
	}, nil
}

// toQueryOutput converts an engine response to the tool output schema.
func toQueryOutput(resp *query.Response) QueryOutput {
	out := QueryOutput{
		Results:         make([]EvidenceOutput, 0, len(resp.Results)),
		Degraded:        resp.Degraded,
		DegradedReasons: resp.DegradedReasons,
		CacheStatus:     resp.Timings.CacheStatus,
		TotalMs:         resp.Timings.Total.Milliseconds(),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, EvidenceOutput{
			ChunkID:     r.ChunkID,
			DocumentID:  r.DocumentID,
			Text:        r.Text,
			Score:       r.Score,
			HeadingPath: r.HeadingPath,
			Page:        r.Page,
		})
	}
	for _, a := range resp.Attachments {
		out.Attachments = append(out.Attachments, AttachmentOutput{
			ID: a.ID, Name: a.Name, URI: a.URI, Relevance: a.Relevance,
		})
	}
	return out
}

// Serve runs the server on the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio", "mcp":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
