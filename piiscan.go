// Package piiscan classifies database schema fields as personal or health
// data under GDPR, HIPAA and CCPA.
package piiscan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SamuelRCrider/piiscan/cache"
	"github.com/SamuelRCrider/piiscan/config"
	"github.com/SamuelRCrider/piiscan/core"
	"github.com/SamuelRCrider/piiscan/llm"
	"github.com/SamuelRCrider/piiscan/rules"
	"github.com/SamuelRCrider/piiscan/utils"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	defaultLibrary     *core.PatternLibrary
	defaultLibraryErr  error
	defaultLibraryOnce sync.Once
)

// DefaultLibrary returns the pattern library built from the embedded ruleset
func DefaultLibrary() (*core.PatternLibrary, error) {
	defaultLibraryOnce.Do(func() {
		defaultLibrary, defaultLibraryErr = LoadLibrary("")
	})
	return defaultLibrary, defaultLibraryErr
}

// LoadLibrary builds a pattern library from the ruleset at path, or from
// the embedded default ruleset when path is empty
func LoadLibrary(path string) (*core.PatternLibrary, error) {
	var rs *core.Ruleset
	var err error
	if path == "" {
		rs, err = core.ParseRuleset(rules.DefaultRuleset)
	} else {
		rs, err = core.LoadRuleset(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ruleset: %w", err)
	}
	return core.NewPatternLibrary(rs)
}

// ClassifySchema classifies every column under every requested regulation
// with the default ruleset and no secondary reviewer. It returns the
// consolidated fields and the number of tasks left unfinished at the
// batch deadline. A zero batchTimeout means no deadline.
func ClassifySchema(schema utils.Schema, regulations []core.Regulation, workerCount int, batchTimeout time.Duration) ([]core.FieldAnalysis, int, error) {
	lib, err := DefaultLibrary()
	if err != nil {
		return nil, 0, err
	}

	cfg := core.DefaultOrchestratorConfig()
	cfg.Workers = workerCount
	cfg.BatchTimeout = batchTimeout
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}

	orch, err := core.NewOrchestrator(lib, cfg)
	if err != nil {
		return nil, 0, err
	}
	return orch.ClassifySchema(context.Background(), schema, regulations)
}

// NewOrchestrator wires an orchestrator from configuration. reviewer and
// reg may be nil.
func NewOrchestrator(cfg *config.Config, lib *core.PatternLibrary, logger *zap.Logger, reviewer core.SecondaryReviewer, reg prometheus.Registerer) (*core.Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	decider, err := core.NewReviewDecider(cfg.Review)
	if err != nil {
		return nil, err
	}
	auditLevel, err := core.ParseAuditLogLevel(cfg.Logging.AuditLevel)
	if err != nil {
		return nil, core.NewConfigurationError(err)
	}

	opts := []core.OrchestratorOption{
		core.WithLogger(logger),
		core.WithAuditLogger(core.NewAuditLogger(logger, auditLevel)),
		core.WithReviewDecider(decider),
	}
	if reviewer != nil {
		opts = append(opts, core.WithReviewer(reviewer))
	}
	if reg != nil {
		opts = append(opts, core.WithMetrics(core.NewMetrics(reg)))
	}

	return core.NewOrchestrator(lib, cfg.OrchestratorConfig(), opts...)
}

// NewReviewer connects the MCP secondary reviewer described by cfg. Review
// outcomes are cached in Redis when an address is configured, else in memory.
func NewReviewer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*llm.MCPReviewer, error) {
	rc := cfg.Reviewer
	reviewerConfig := llm.ReviewerConfig{
		ToolName:          rc.ToolName,
		Model:             rc.Model,
		Temperature:       rc.Temperature,
		MaxTokens:         rc.MaxTokens,
		Timeout:           cfg.ReviewTimeout,
		RetryCount:        rc.RetryCount,
		RetryBackoff:      rc.RetryBackoff,
		RequestsPerMinute: rc.RequestsPerMinute,
		CacheTTL:          rc.CacheTTL,
		AuditLevel:        core.AuditLogLevel(cfg.Logging.AuditLevel),
	}

	opts := []llm.ReviewerOption{llm.WithReviewerLogger(logger)}
	var redisStore *cache.RedisStore
	if rc.RedisAddr != "" {
		var err error
		redisStore, err = cache.NewRedisStore(ctx, rc.RedisAddr, "")
		if err != nil {
			return nil, err
		}
		opts = append(opts, llm.WithOwnedCache(redisStore))
	}

	reviewer, err := llm.NewMCPReviewer(ctx, rc.ServerPath, &reviewerConfig, opts...)
	if err != nil {
		if redisStore != nil {
			redisStore.Close()
		}
		return nil, err
	}
	return reviewer, nil
}

// Service bundles everything a long-running process needs
type Service struct {
	Config       *config.Config
	Library      *core.PatternLibrary
	Orchestrator *core.Orchestrator
	Reviewer     *llm.MCPReviewer

	closers []func() error
}

// NewService loads the ruleset, connects the reviewer when enabled and
// builds the orchestrator
func NewService(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	lib, err := LoadLibrary(cfg.RulesetPath)
	if err != nil {
		return nil, err
	}
	logger.Info("ruleset loaded",
		zap.String("version", lib.Version()),
		zap.String("hash", lib.Hash()),
		zap.Int("patterns", lib.PatternCount()),
	)

	s := &Service{Config: cfg, Library: lib}

	var reviewer core.SecondaryReviewer
	if cfg.Reviewer.Enabled {
		r, err := NewReviewer(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		s.Reviewer = r
		s.closers = append(s.closers, r.Close)
		reviewer = r
	}

	s.Orchestrator, err = NewOrchestrator(cfg, lib, logger, reviewer, reg)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the reviewer and its cache
func (s *Service) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
