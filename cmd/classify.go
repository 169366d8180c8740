package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/SamuelRCrider/piiscan"
	"github.com/SamuelRCrider/piiscan/core"
	"github.com/SamuelRCrider/piiscan/schema"
	"github.com/spf13/cobra"
)

type classifyOptions struct {
	schemaPath  string
	postgresDSN string
	dbSchema    string
	regulations []string
	workers     int
	timeout     time.Duration
	format      string
	reviewer    bool
}

func newClassifyCmd(global *globalOptions) *cobra.Command {
	opts := &classifyOptions{}

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify every column of a schema file or Postgres schema",
		Example: `  piiscan classify --schema schema.yaml --regulation GDPR --regulation CCPA
  piiscan classify --postgres-dsn postgres://localhost/app --format table`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, global, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.schemaPath, "schema", "", "YAML or JSON schema file")
	flags.StringVar(&opts.postgresDSN, "postgres-dsn", "", "read the schema from this Postgres database instead of a file")
	flags.StringVar(&opts.dbSchema, "db-schema", "", "Postgres schema to read (overrides postgres.schema)")
	flags.StringSliceVar(&opts.regulations, "regulation", []string{"GDPR"}, "regulations to classify under (GDPR, HIPAA, CCPA)")
	flags.IntVar(&opts.workers, "workers", 0, "worker pool size (overrides workers)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "batch deadline (overrides batch_timeout)")
	flags.StringVar(&opts.format, "format", "json", "output format: json or table")
	flags.BoolVar(&opts.reviewer, "reviewer", false, "enable the MCP secondary reviewer")
	return cmd
}

func runClassify(cmd *cobra.Command, global *globalOptions, opts *classifyOptions) error {
	if opts.format != "json" && opts.format != "table" {
		return fmt.Errorf("unknown format %q: use json or table", opts.format)
	}

	cfg, err := global.load()
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.timeout > 0 {
		cfg.BatchTimeout = opts.timeout
	}
	if opts.reviewer {
		cfg.Reviewer.Enabled = true
	}
	if opts.postgresDSN != "" {
		cfg.Postgres.DSN = opts.postgresDSN
	}
	if opts.dbSchema != "" {
		cfg.Postgres.Schema = opts.dbSchema
	}

	regs, err := parseRegulations(opts.regulations)
	if err != nil {
		return err
	}

	logger, cleanup, err := global.logger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := openSource(ctx, opts.schemaPath, cfg.Postgres.DSN, cfg.Postgres.Schema)
	if err != nil {
		return err
	}
	defer closeSource()

	tables, err := source.Load(ctx)
	if err != nil {
		return err
	}

	svc, err := piiscan.NewService(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.Orchestrator.Run(ctx, tables, regs)
	if err != nil {
		return err
	}

	if opts.format == "table" {
		return writeTable(cmd.OutOrStdout(), result)
	}
	return writeJSON(cmd.OutOrStdout(), result, svc.Library.Version())
}

// openSource picks the file source when a path is given, else Postgres
func openSource(ctx context.Context, path, dsn, dbSchema string) (schema.Source, func(), error) {
	if path != "" {
		return schema.NewFileSource(path), func() {}, nil
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("a schema is required: pass --schema or --postgres-dsn")
	}
	pg, err := schema.NewPostgresSource(ctx, dsn, dbSchema)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func parseRegulations(names []string) ([]core.Regulation, error) {
	regs := make([]core.Regulation, 0, len(names))
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			reg, err := core.ParseRegulation(part)
			if err != nil {
				return nil, err
			}
			regs = append(regs, reg)
		}
	}
	return regs, nil
}

// classifyOutput is the JSON document printed by classify
type classifyOutput struct {
	RunID          string               `json:"run_id"`
	RulesetVersion string               `json:"ruleset_version"`
	Fields         []core.FieldAnalysis `json:"fields"`
	Summary        core.Summary         `json:"summary"`
	Unfinished     int                  `json:"unfinished"`
	Failed         int                  `json:"failed"`
	Reviewed       int                  `json:"reviewed"`
	DurationMs     int64                `json:"duration_ms"`
}

func newClassifyOutput(result *core.BatchResult, rulesetVersion string) classifyOutput {
	return classifyOutput{
		RunID:          result.RunID,
		RulesetVersion: rulesetVersion,
		Fields:         result.Fields,
		Summary:        core.Summarize(result.Fields),
		Unfinished:     result.Unfinished,
		Failed:         result.Failed,
		Reviewed:       result.Reviewed,
		DurationMs:     result.Duration.Milliseconds(),
	}
}

func writeJSON(w io.Writer, result *core.BatchResult, rulesetVersion string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newClassifyOutput(result, rulesetVersion))
}

func writeTable(w io.Writer, result *core.BatchResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tSENSITIVE\tTYPE\tRISK\tCONFIDENCE\tREGULATIONS\tMETHOD\tREVIEW")
	for _, f := range result.Fields {
		regs := make([]string, 0, len(f.ApplicableRegulations))
		for _, r := range f.ApplicableRegulations {
			regs = append(regs, string(r))
		}
		review := ""
		switch {
		case f.Reviewed:
			review = "reviewed"
		case f.NeedsReview:
			review = "needed"
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			f.Key(), f.IsSensitive, f.PIIType, f.RiskLevel, f.Confidence,
			strings.Join(regs, ","), f.DetectionMethod, review)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := core.Summarize(result.Fields)
	_, err := fmt.Fprintf(w, "\n%d fields, %d sensitive, %d need review, %d unfinished, %d failed\n",
		s.TotalFields, s.SensitiveFields, s.NeedsReview, result.Unfinished, result.Failed)
	return err
}
