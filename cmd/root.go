package main

import (
	"github.com/SamuelRCrider/piiscan/config"
	"github.com/SamuelRCrider/piiscan/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// globalOptions are shared by every subcommand
type globalOptions struct {
	configPath string
	rulesPath  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "piiscan",
		Short:         "Classify database schema fields as personal or health data",
		Long:          "piiscan classifies table columns as sensitive under GDPR, HIPAA and CCPA using a versioned ruleset, with an optional secondary reviewer over MCP.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "piiscan.yaml", "path to the configuration file (defaults apply when missing)")
	root.PersistentFlags().StringVar(&opts.rulesPath, "rules", "", "path to a ruleset file (overrides ruleset_path)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides logging.level)")

	root.AddCommand(
		newClassifyCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newRulesCmd(opts),
	)
	return root
}

// load reads the configuration and applies command-line overrides
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.rulesPath != "" {
		cfg.RulesetPath = o.rulesPath
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// logger builds the process logger from the loaded configuration
func (o *globalOptions) logger(cfg *config.Config) (*zap.Logger, func(), error) {
	return logging.New(logging.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
		File:  cfg.Logging.File,
	})
}
