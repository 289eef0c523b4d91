// Package httpapi exposes the query engine over HTTP for non-MCP clients
// and operational tooling.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
	"github.com/sibyl-search/sibyl/internal/query"
	"github.com/sibyl-search/sibyl/internal/telemetry"
	"github.com/sibyl-search/sibyl/pkg/version"
)

// Engine is the slice of the orchestrator the HTTP surface needs.
type Engine interface {
	Query(ctx context.Context, req query.Request) (*query.Response, error)
	InvalidateAll(ctx context.Context) error
	InvalidateDocument(ctx context.Context, docID string) error
	Metrics() *telemetry.Metrics
}

// Server is the HTTP API server.
type Server struct {
	engine Engine
	logger *slog.Logger
	router *gin.Engine
	http   *http.Server
}

// NewServer creates the HTTP server on the given address.
func NewServer(engine Engine, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		logger: logger.With("component", "httpapi"),
		router: router,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID())

	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	{
		api.POST("/query", s.handleQuery)
		api.POST("/invalidate", s.handleInvalidate)
		api.GET("/status", s.handleStatus)
	}
}

// requestID tags every request with a correlation ID for log matching.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   version.Short(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req query.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(
			sibylerr.ErrCodeInvalidQuery, "invalid request body"))
		return
	}

	start := time.Now()
	resp, err := s.engine.Query(c.Request.Context(), req)
	if err != nil {
		s.logger.Warn("query failed",
			"request_id", c.GetString("request_id"),
			"error", err,
			"duration", time.Since(start))
		c.JSON(statusFor(err), errorBody(sibylerr.GetCode(err), err.Error()))
		return
	}

	c.JSON(http.StatusOK, resp)
}

// invalidateRequest scopes an invalidation. An empty document_id drops all
// cached results.
type invalidateRequest struct {
	DocumentID string `json:"document_id"`
}

func (s *Server) handleInvalidate(c *gin.Context) {
	// An absent or empty body means invalidate everything.
	var req invalidateRequest
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	scope := "all"
	var err error
	if req.DocumentID == "" {
		err = s.engine.InvalidateAll(ctx)
	} else {
		scope = req.DocumentID
		err = s.engine.InvalidateDocument(ctx, req.DocumentID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(sibylerr.GetCode(err), err.Error()))
		return
	}

	s.logger.Info("cache invalidated",
		"request_id", c.GetString("request_id"), "scope", scope)
	c.JSON(http.StatusOK, gin.H{"invalidated": scope})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.engine.Metrics().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version": version.GetInfo(),
		"metrics": snap,
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch sibylerr.GetCategory(err) {
	case sibylerr.CategoryValidation:
		return http.StatusBadRequest
	case sibylerr.CategoryStorage:
		return http.StatusServiceUnavailable
	case sibylerr.CategoryBackend:
		return http.StatusBadGateway
	default:
		if sibylerr.GetCode(err) == sibylerr.ErrCodePipelineDeadline {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

func errorBody(code, message string) gin.H {
	if code == "" {
		code = sibylerr.ErrCodeInternal
	}
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve runs the server until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
