// Package api exposes classification over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SamuelRCrider/piiscan/core"
	"github.com/SamuelRCrider/piiscan/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a classify request body
const maxBodyBytes = 4 << 20

// Runner classifies a schema; *core.Orchestrator implements it
type Runner interface {
	Run(ctx context.Context, schema utils.Schema, regulations []core.Regulation) (*core.BatchResult, error)
}

// Handlers serves the HTTP routes
type Handlers struct {
	runner         Runner
	rulesetVersion string
	patternCount   int
	logger         *zap.Logger
}

// NewHandlers builds handlers over a runner and the library it classifies with
func NewHandlers(runner Runner, lib *core.PatternLibrary, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{runner: runner, logger: logger.Named("api")}
	if lib != nil {
		h.rulesetVersion = lib.Version()
		h.patternCount = lib.PatternCount()
	}
	return h
}

// NewRouter registers every route. gatherer backs /metrics and may be nil.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))

	router.GET("/healthz", h.HandleHealth)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	v1.POST("/classify", h.HandleClassify)
	return router
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Serve runs the router on addr until ctx is cancelled, then shuts down gracefully
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
