// Package llm implements the secondary reviewer over an MCP tool call.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/SamuelRCrider/piiscan/cache"
	"github.com/SamuelRCrider/piiscan/core"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const clientVersion = "1.0.0"

// ToolCaller is the part of an MCP client the reviewer uses
type ToolCaller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPReviewer asks an MCP tool for a second opinion on a local classification
type MCPReviewer struct {
	caller ToolCaller
	config ReviewerConfig

	cache     cache.Store
	ownsCache bool
	group     singleflight.Group

	rateLimiter   *RateLimiter
	requestLog    *RequestLogger
	validator     *RequestValidator
	errorReporter *ErrorReporter
	logger        *zap.Logger
}

var _ core.SecondaryReviewer = (*MCPReviewer)(nil)

// ReviewerOption configures an MCPReviewer
type ReviewerOption func(*MCPReviewer)

// WithCache stores review outcomes in store instead of a private memory cache
func WithCache(store cache.Store) ReviewerOption {
	return func(r *MCPReviewer) {
		r.cache = store
	}
}

// WithOwnedCache is WithCache for a store the reviewer closes on Close
func WithOwnedCache(store cache.Store) ReviewerOption {
	return func(r *MCPReviewer) {
		r.cache = store
		r.ownsCache = store != nil
	}
}

// WithReviewerLogger sets the structured logger
func WithReviewerLogger(logger *zap.Logger) ReviewerOption {
	return func(r *MCPReviewer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewMCPReviewer starts or discovers an MCP server, performs the MCP
// handshake and returns a reviewer calling its review tool.
func NewMCPReviewer(ctx context.Context, serverPath string, config *ReviewerConfig, opts ...ReviewerOption) (*MCPReviewer, error) {
	serverConfig, err := GetMCPServerConfig(serverPath)
	if err != nil {
		return nil, fmt.Errorf("failed to configure MCP server: %w", err)
	}

	var mcpClient *client.StdioMCPClient
	switch serverConfig.Transport {
	case "stdio":
		mcpClient, err = client.NewStdioMCPClient(serverConfig.Path, serverConfig.environ(), serverConfig.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to create MCP stdio client: %w", err)
		}
	case "http":
		return nil, fmt.Errorf("HTTP transport not currently supported by this implementation")
	default:
		return nil, fmt.Errorf("unsupported MCP transport type: %s", serverConfig.Transport)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "piiscan",
		Version: clientVersion,
	}
	if _, err := mcpClient.Initialize(ctx, initRequest); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP session with %s: %w", serverConfig.Path, err)
	}

	r := NewReviewer(mcpClient, config, opts...)
	r.logger.Info("secondary reviewer connected",
		zap.String("server", serverConfig.Path),
		zap.String("tool", r.config.ToolName),
		zap.Int("requests_per_minute", r.config.RequestsPerMinute),
		zap.String("audit_level", string(r.config.AuditLevel)),
	)
	return r, nil
}

// NewReviewer builds a reviewer over an already connected tool caller
func NewReviewer(caller ToolCaller, config *ReviewerConfig, opts ...ReviewerOption) *MCPReviewer {
	cfg := LoadReviewerConfig(config)

	r := &MCPReviewer{
		caller: caller,
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("reviewer")

	if r.cache == nil && cfg.CacheTTL > 0 {
		r.cache = cache.NewMemoryStore(cache.MemoryConfig{
			ExpirationCheckInterval: cfg.CacheTTL,
			MaxEntries:              10000,
		}, r.logger)
		r.ownsCache = true
	}

	r.rateLimiter = NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst)
	r.requestLog = NewRequestLogger(r.logger, cfg.AuditLevel)
	r.validator = NewRequestValidator(cfg.ResponseValidation)
	r.errorReporter = NewErrorReporter(r.logger)
	return r
}

// Config returns the effective configuration
func (r *MCPReviewer) Config() ReviewerConfig {
	return r.config
}

// Close shuts down the MCP client and a cache the reviewer created itself
func (r *MCPReviewer) Close() error {
	var cacheErr error
	if r.ownsCache && r.cache != nil {
		cacheErr = r.cache.Close()
	}
	if err := r.caller.Close(); err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	return cacheErr
}

func (r *MCPReviewer) cached(ctx context.Context, key string) (cache.Entry, bool) {
	if r.cache == nil {
		return cache.Entry{}, false
	}
	entry, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("review cache read failed", zap.String("key", key), zap.Error(err))
		return cache.Entry{}, false
	}
	return entry, ok
}

func (r *MCPReviewer) store(ctx context.Context, key string, resp ReviewResponse) {
	if r.cache == nil {
		return
	}
	entry := cache.Entry{Delta: resp.ConfidenceDelta, Note: resp.Note}
	if err := r.cache.Set(ctx, key, entry, r.config.CacheTTL); err != nil {
		r.logger.Warn("review cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// backoff returns the wait before retry attempt n (n >= 1)
func (r *MCPReviewer) backoff(attempt int) time.Duration {
	return r.config.RetryBackoff * time.Duration(1<<(attempt-1))
}
