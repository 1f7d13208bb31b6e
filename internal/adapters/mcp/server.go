// Package mcp exposes the trial-matching pipeline as an MCP tool server
// over stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/logging"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/pipeline"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/cache"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
)

// Version is reported to MCP clients during initialization.
const Version = "0.1.0"

// BatchResponse is the structured payload of the batch_query_trials tool.
type BatchResponse struct {
	Results []pipeline.QueryResult `json:"results" jsonschema_description:"Per-mutation results in input order"`
	Summary string                 `json:"summary" jsonschema_description:"Combined markdown report"`
}

// Server wraps the pipeline and exposes it as an MCP server.
type Server struct {
	pipeline  *pipeline.Pipeline
	cache     *cache.Cache
	metrics   *metrics.Collector
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates an MCP server over the shared collaborators.
func NewServer(p *pipeline.Pipeline, c *cache.Cache, col *metrics.Collector, opts ...Option) *Server {
	s := &Server{
		pipeline:  p,
		cache:     c,
		metrics:   col,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("trialmatch-mcp", Version),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout until ctx is cancelled,
// returning the context's error on cancellation.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serveStdio(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serveStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// ServeSSE starts the server on addr using SSE, until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := fmt.Sprintf("http://localhost%s", addr)
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening (sse)", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerTools() {
	queryTool := mcp.NewTool("query_trials",
		mcp.WithDescription("Search clinicaltrials.gov for trials matching a genetic mutation and return a markdown summary."),
		mcp.WithString("mutation", mcp.Required(), mcp.Description("Mutation to search for, e.g. \"EGFR L858R\"")),
		mcp.WithNumber("min_rank", mcp.Description("First result rank, 1-based (optional)")),
		mcp.WithNumber("max_rank", mcp.Description("Last result rank (optional)")),
		mcp.WithOutputSchema[pipeline.QueryResult](),
	)
	s.mcpServer.AddTool(queryTool, mcp.NewStructuredToolHandler(s.handleQueryTrials))

	batchTool := mcp.NewTool("batch_query_trials",
		mcp.WithDescription("Search clinicaltrials.gov for several mutations at once and return a combined report."),
		mcp.WithString("mutations", mcp.Required(), mcp.Description("JSON array of mutation strings")),
		mcp.WithOutputSchema[BatchResponse](),
	)
	s.mcpServer.AddTool(batchTool, mcp.NewStructuredToolHandler(s.handleBatchQueryTrials))

	statsTool := mcp.NewTool("get_cache_stats",
		mcp.WithDescription("Return cache hit/miss statistics and per-pattern analytics."),
		mcp.WithOutputSchema[cache.Stats](),
	)
	s.mcpServer.AddTool(statsTool, mcp.NewStructuredToolHandler(s.handleCacheStats))

	metricsTool := mcp.NewTool("get_metrics_snapshot",
		mcp.WithDescription("Return the current metrics snapshot: counters, gauges and latency percentiles."),
		mcp.WithOutputSchema[metrics.Snapshot](),
	)
	s.mcpServer.AddTool(metricsTool, mcp.NewStructuredToolHandler(s.handleMetricsSnapshot))
}

func (s *Server) handleQueryTrials(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (pipeline.QueryResult, error) {
	mutation, _ := args["mutation"].(string)
	minRank := intArg(args, "min_rank")
	maxRank := intArg(args, "max_rank")

	result, err := s.pipeline.QueryTrials(ctx, mutation, minRank, maxRank)
	if err != nil {
		s.logger.Warn("query_trials failed", "mutation", mutation, "err", err)
		return pipeline.QueryResult{}, fmt.Errorf("query failed: %w", err)
	}
	return *result, nil
}

func (s *Server) handleBatchQueryTrials(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (BatchResponse, error) {
	raw, _ := args["mutations"].(string)

	var mutations []string
	if err := json.Unmarshal([]byte(raw), &mutations); err != nil {
		return BatchResponse{}, fmt.Errorf("mutations must be a JSON array of strings: %w", err)
	}
	if len(mutations) == 0 {
		return BatchResponse{}, fmt.Errorf("mutations must not be empty")
	}

	results, err := s.pipeline.BatchQueryTrials(ctx, mutations)
	if err != nil {
		s.logger.Warn("batch_query_trials failed", "count", len(mutations), "err", err)
		return BatchResponse{}, fmt.Errorf("batch query failed: %w", err)
	}

	return BatchResponse{Results: results, Summary: pipeline.CombineSummaries(results)}, nil
}

func (s *Server) handleCacheStats(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (cache.Stats, error) {
	if s.cache == nil {
		return cache.Stats{}, fmt.Errorf("cache not configured")
	}
	return s.cache.Stats(), nil
}

func (s *Server) handleMetricsSnapshot(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (metrics.Snapshot, error) {
	return s.metrics.Snapshot(), nil
}

func intArg(args map[string]interface{}, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("trialmatch://metrics", "Current Metrics Snapshot",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.metrics.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("encoding snapshot: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "trialmatch://metrics",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
