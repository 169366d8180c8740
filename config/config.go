// Package config loads the piiscan configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/SamuelRCrider/piiscan/core"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config holds piiscan configuration.
type Config struct {
	RulesetPath    string            `yaml:"ruleset_path"` // empty uses the embedded default ruleset
	Workers        int               `yaml:"workers" validate:"gte=0,lte=256"`
	BatchTimeout   time.Duration     `yaml:"batch_timeout" validate:"gte=0"`
	ReviewTimeout  time.Duration     `yaml:"review_timeout" validate:"gt=0"`
	MaxReviewBoost float64           `yaml:"max_review_boost" validate:"gte=0,lte=1"`
	Review         core.ReviewConfig `yaml:"review"`
	Reviewer       ReviewerConfig    `yaml:"reviewer"`
	Logging        LoggingConfig     `yaml:"logging"`
	Server         ServerConfig      `yaml:"server"`
	Postgres       PostgresConfig    `yaml:"postgres"`
}

// ReviewerConfig configures the optional MCP secondary reviewer
type ReviewerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ServerPath        string        `yaml:"server_path"` // empty means discover from the environment
	ToolName          string        `yaml:"tool_name"`
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature" validate:"gte=0,lte=1"`
	MaxTokens         int           `yaml:"max_tokens" validate:"gte=0"`
	RetryCount        int           `yaml:"retry_count" validate:"gte=0,lte=10"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
	CacheTTL          time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	RedisAddr         string        `yaml:"redis_addr" validate:"omitempty,hostname_port"`
}

// LoggingConfig configures the process logger and the audit trail
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	AuditLevel string `yaml:"audit_level" validate:"oneof=minimal standard verbose"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"` // HTTP listen address, e.g. ":8080"
}

// PostgresConfig configures the database schema source
type PostgresConfig struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	orch := core.DefaultOrchestratorConfig()
	return &Config{
		Workers:        orch.Workers,
		BatchTimeout:   orch.BatchTimeout,
		ReviewTimeout:  orch.ReviewTimeout,
		MaxReviewBoost: orch.MaxReviewBoost,
		Review:         core.DefaultReviewConfig(),
		Reviewer: ReviewerConfig{
			ToolName:          "piiscan.review_field",
			Model:             "default",
			MaxTokens:         256,
			RetryCount:        2,
			RetryBackoff:      250 * time.Millisecond,
			RequestsPerMinute: 60,
			CacheTTL:          time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			AuditLevel: string(core.AuditLogLevelStandard),
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Postgres: PostgresConfig{
			Schema: "public",
		},
	}
}

// Load reads configuration from a YAML file. If the file doesn't exist it
// returns the defaults. Environment overrides are applied, then the result
// is validated; any failure is a configuration error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, core.NewConfigurationError(fmt.Errorf("failed to read config: %w", err))
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, core.NewConfigurationError(fmt.Errorf("failed to parse config %s: %w", path, err))
			}
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults refills fields an explicit file left empty
func applyDefaults(cfg *Config) {
	d := Default()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.AuditLevel == "" {
		cfg.Logging.AuditLevel = d.Logging.AuditLevel
	}
	if cfg.Review.AmbiguousTokens == nil {
		cfg.Review.AmbiguousTokens = d.Review.AmbiguousTokens
	}
	if cfg.Review.MixedContextTokens == nil {
		cfg.Review.MixedContextTokens = d.Review.MixedContextTokens
	}
	if cfg.Reviewer.ToolName == "" {
		cfg.Reviewer.ToolName = d.Reviewer.ToolName
	}
	if cfg.Postgres.Schema == "" {
		cfg.Postgres.Schema = d.Postgres.Schema
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.AuditLevel = strings.ToLower(cfg.Logging.AuditLevel)
}

// applyEnv lets the MCP discovery variables and DATABASE_URL override the file
func applyEnv(cfg *Config) {
	if v := os.Getenv("MCP_SERVER_PATH"); v != "" && cfg.Reviewer.ServerPath == "" {
		cfg.Reviewer.ServerPath = v
	}
	if v := os.Getenv("MCP_TOOL_NAME"); v != "" {
		cfg.Reviewer.ToolName = v
	}
	if v := os.Getenv("MCP_MODEL"); v != "" {
		cfg.Reviewer.Model = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = v
	}
}

// Validate checks struct tags, then the cross-field rules the tags cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return core.NewConfigurationError(fmt.Errorf("invalid config: %s", strings.Join(msgs, "; ")))
		}
		return core.NewConfigurationError(fmt.Errorf("invalid config: %w", err))
	}

	if err := c.Review.Validate(); err != nil {
		return err
	}
	if err := c.OrchestratorConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// OrchestratorConfig extracts the run bounds
func (c *Config) OrchestratorConfig() core.OrchestratorConfig {
	return core.OrchestratorConfig{
		Workers:        c.Workers,
		BatchTimeout:   c.BatchTimeout,
		ReviewTimeout:  c.ReviewTimeout,
		MaxReviewBoost: c.MaxReviewBoost,
	}
}
