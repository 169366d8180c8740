package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/SamuelRCrider/piiscan/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("piiscan.core")

// SecondaryReviewer gives a second opinion on a local classification.
// Errors are never fatal; the local result stands.
type SecondaryReviewer interface {
	Review(ctx context.Context, fieldName, tableName string, candidate FieldAnalysis) (confidenceDelta float64, note string, err error)
}

// OrchestratorConfig bounds a classification run
type OrchestratorConfig struct {
	// Worker pool size
	Workers int

	// Deadline for the whole run; zero means no deadline
	BatchTimeout time.Duration

	// Per-task wait for the secondary reviewer; zero means the 10s default
	ReviewTimeout time.Duration

	// Largest confidence change a reviewer may apply, in either direction
	MaxReviewBoost float64
}

// DefaultOrchestratorConfig returns 4 workers, a 60s batch deadline, a 10s review timeout and a 0.15 boost cap
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Workers:        4,
		BatchTimeout:   60 * time.Second,
		ReviewTimeout:  10 * time.Second,
		MaxReviewBoost: 0.15,
	}
}

// Validate checks the run bounds
func (c OrchestratorConfig) Validate() error {
	if c.Workers < 0 {
		return configError("workers must not be negative, got %d", c.Workers)
	}
	if c.BatchTimeout < 0 || c.ReviewTimeout < 0 {
		return configError("timeouts must not be negative")
	}
	if c.MaxReviewBoost < 0 || c.MaxReviewBoost > 1 {
		return configError("max_review_boost %.2f outside [0,1]", c.MaxReviewBoost)
	}
	return nil
}

// BatchResult is the outcome of one run over a schema
type BatchResult struct {
	RunID      string          `json:"run_id"`
	Fields     []FieldAnalysis `json:"fields"`
	Unfinished int             `json:"unfinished"`
	Failed     int             `json:"failed"`
	Reviewed   int             `json:"reviewed"`
	Duration   time.Duration   `json:"duration_ns"`
}

// Orchestrator classifies every (column, regulation) pair of a schema on a bounded worker pool
type Orchestrator struct {
	cfg      OrchestratorConfig
	lib      *PatternLibrary
	engine   Classifier
	resolver *RegulationContextResolver
	decider  *ReviewDecider
	reviewer SecondaryReviewer

	logger  *zap.Logger
	audit   *AuditLogger
	metrics *Metrics
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithReviewer enables secondary review for flagged tasks
func WithReviewer(r SecondaryReviewer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.reviewer = r
	}
}

// WithReviewDecider replaces the default review thresholds
func WithReviewDecider(d *ReviewDecider) OrchestratorOption {
	return func(o *Orchestrator) {
		o.decider = d
	}
}

// WithClassifier replaces the engine
func WithClassifier(c Classifier) OrchestratorOption {
	return func(o *Orchestrator) {
		o.engine = c
	}
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAuditLogger sets the audit sink
func WithAuditLogger(a *AuditLogger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.audit = a
	}
}

// WithMetrics records task, review and batch metrics
func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator builds an orchestrator over a pattern library
func NewOrchestrator(lib *PatternLibrary, cfg OrchestratorConfig, opts ...OrchestratorOption) (*Orchestrator, error) {
	if lib == nil {
		return nil, configError("nil pattern library")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultOrchestratorConfig().Workers
	}
	// A reviewer wait is always bounded, even without a batch deadline
	if cfg.ReviewTimeout == 0 {
		cfg.ReviewTimeout = DefaultOrchestratorConfig().ReviewTimeout
	}

	decider, err := NewReviewDecider(DefaultReviewConfig())
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		lib:      lib,
		resolver: NewRegulationContextResolver(lib),
		decider:  decider,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.engine == nil {
		o.engine = NewEngine(lib, WithEngineMetrics(o.metrics))
	}
	return o, nil
}

// ClassifySchema runs a batch and returns the consolidated fields and the unfinished task count
func (o *Orchestrator) ClassifySchema(ctx context.Context, schema utils.Schema, regulations []Regulation) ([]FieldAnalysis, int, error) {
	result, err := o.Run(ctx, schema, regulations)
	if err != nil {
		return nil, 0, err
	}
	return result.Fields, result.Unfinished, nil
}

type taskOutcome struct {
	result   FieldAnalysis
	failed   bool
	reviewed bool
}

// Run classifies a schema. Invalid input fails before any task is built. A
// batch deadline or cancellation stops dispatch and returns what completed.
func (o *Orchestrator) Run(ctx context.Context, schema utils.Schema, regulations []Regulation) (*BatchResult, error) {
	regs, err := validateRequest(schema, regulations)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	runID := uuid.NewString()
	tasks := o.BuildTasks(schema, regs)

	ctx, span := tracer.Start(ctx, "piiscan.ClassifySchema",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.Int("tables", len(schema)),
			attribute.Int("tasks", len(tasks)),
			attribute.Int("workers", o.cfg.Workers),
		),
	)
	defer span.End()

	batchCtx := ctx
	if o.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, o.cfg.BatchTimeout)
		defer cancel()
	}

	o.logger.Info("classification run started",
		zap.String("run_id", runID),
		zap.Int("tables", len(schema)),
		zap.Int("columns", schema.ColumnCount()),
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", o.cfg.Workers),
		zap.String("ruleset_version", o.lib.Version()),
	)

	// Buffered to len(tasks) so workers never block on an abandoned collector
	outcomes := make(chan taskOutcome, len(tasks))
	go o.dispatch(batchCtx, tasks, outcomes)

	collected := make([]FieldAnalysis, 0, len(tasks))
	failed, reviewed := 0, 0
	record := func(out taskOutcome) {
		collected = append(collected, out.result)
		if out.failed {
			failed++
		}
		if out.reviewed {
			reviewed++
		}
	}

collect:
	for len(collected) < len(tasks) {
		select {
		case out, ok := <-outcomes:
			if !ok {
				break collect
			}
			record(out)
		case <-batchCtx.Done():
			for {
				select {
				case out, ok := <-outcomes:
					if !ok {
						break collect
					}
					record(out)
				default:
					break collect
				}
			}
		}
	}

	result := &BatchResult{
		RunID:      runID,
		Fields:     Consolidate(collected),
		Unfinished: len(tasks) - len(collected),
		Failed:     failed,
		Reviewed:   reviewed,
		Duration:   time.Since(start),
	}

	span.SetAttributes(
		attribute.Int("unfinished", result.Unfinished),
		attribute.Int("failed", result.Failed),
		attribute.Int("fields", len(result.Fields)),
	)
	if result.Unfinished > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d tasks unfinished", result.Unfinished))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	o.metrics.recordBatch(result.Unfinished, result.Duration)
	for _, f := range result.Fields {
		o.audit.LogField(runID, f)
	}
	o.audit.LogRun(result, o.lib.Version())

	logFn := o.logger.Info
	if result.Unfinished > 0 || result.Failed > 0 {
		logFn = o.logger.Warn
	}
	logFn("classification run finished",
		zap.String("run_id", runID),
		zap.Int("fields", len(result.Fields)),
		zap.Int("unfinished", result.Unfinished),
		zap.Int("failed", result.Failed),
		zap.Int("reviewed", result.Reviewed),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// dispatch submits tasks in priority order until the batch context is done
func (o *Orchestrator) dispatch(ctx context.Context, tasks []ClassificationTask, outcomes chan<- taskOutcome) {
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		task := task
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcomes <- o.runTask(ctx, task)
			return nil
		})
	}

	_ = g.Wait()
	close(outcomes)
}

// runTask classifies one task. A panic degrades the field instead of the batch.
func (o *Orchestrator) runTask(ctx context.Context, task ClassificationTask) (out taskOutcome) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out = taskOutcome{result: failedAnalysis(task, r, start), failed: true}
			err := &ClassificationError{Category: CategoryTask, Field: task.Column.Key(), Err: fmt.Errorf("%v", r)}
			o.logger.Error("classification task failed",
				zap.String("task_id", task.ID),
				zap.String("field", task.Column.Key()),
				zap.Error(err),
			)
			trace.SpanFromContext(ctx).AddEvent("task_failed", trace.WithAttributes(
				attribute.String("field", task.Column.Key()),
			))
		}

		outcome := "not_sensitive"
		switch {
		case out.failed:
			outcome = "failed"
		case out.result.IsSensitive:
			outcome = "sensitive"
		}
		o.metrics.recordTask(outcome, time.Since(start))
	}()

	regulation := o.effectiveRegulation(task)
	result := o.engine.Classify(task.Column, task.SiblingColumns, regulation)
	result.NeedsReview = o.decider.NeedsReview(task.Column, result)

	if result.NeedsReview && o.reviewer != nil {
		result, out.reviewed = o.review(ctx, task, result)
	}

	result.enforceInvariants(regulation)
	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	out.result = result
	return out
}

// effectiveRegulation is HIPAA when the table context says so, else the requested regulation
func (o *Orchestrator) effectiveRegulation(task ClassificationTask) Regulation {
	if o.resolver.Resolve(task.Column, task.SiblingColumns) == RegulationHIPAA {
		return RegulationHIPAA
	}
	return task.Regulation
}

type reviewReply struct {
	delta float64
	note  string
	err   error
}

// review asks the secondary reviewer under the per-task timeout and merges its answer
func (o *Orchestrator) review(ctx context.Context, task ClassificationTask, result FieldAnalysis) (FieldAnalysis, bool) {
	reviewCtx, cancel := context.WithTimeout(ctx, o.cfg.ReviewTimeout)
	defer cancel()

	replies := make(chan reviewReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				replies <- reviewReply{err: fmt.Errorf("reviewer panic: %v", r)}
			}
		}()
		delta, note, err := o.reviewer.Review(reviewCtx, result.FieldName, result.TableName, result)
		replies <- reviewReply{delta: delta, note: note, err: err}
	}()

	var reply reviewReply
	select {
	case reply = <-replies:
	case <-reviewCtx.Done():
		reply = reviewReply{err: reviewCtx.Err()}
	}

	if reply.err != nil {
		if errors.Is(reply.err, context.DeadlineExceeded) {
			err := &ClassificationError{Category: CategoryReviewTimeout, Field: task.Column.Key(), Err: reply.err}
			o.metrics.recordReview("timeout")
			o.logger.Warn("secondary review timed out",
				zap.String("task_id", task.ID),
				zap.Duration("timeout", o.cfg.ReviewTimeout),
				zap.Error(err),
			)
			result.Rationale += fmt.Sprintf("; secondary review timed out after %s, local result kept", o.cfg.ReviewTimeout)
			return result, false
		}

		o.metrics.recordReview("error")
		o.logger.Warn("secondary review failed",
			zap.String("task_id", task.ID),
			zap.String("field", task.Column.Key()),
			zap.Error(reply.err),
		)
		result.Rationale += "; secondary review unavailable, local result kept"
		return result, false
	}

	return o.applyReview(result, reply.delta, reply.note), true
}

// applyReview clamps the reviewer's delta to the boost cap and the confidence to [0,1]
func (o *Orchestrator) applyReview(result FieldAnalysis, delta float64, note string) FieldAnalysis {
	limit := o.cfg.MaxReviewBoost
	if delta > limit {
		delta = limit
	}
	if delta < -limit {
		delta = -limit
	}

	before := result.Confidence
	result.Confidence = clamp01(before + delta)
	result.Reviewed = true

	if result.IsSensitive && result.Confidence != before {
		result.DetectionMethod = MethodSecondaryReview
	}
	if result.Confidence != before {
		o.metrics.recordReview("applied")
	} else {
		o.metrics.recordReview("unchanged")
	}

	note = strings.TrimSpace(note)
	if note == "" {
		note = "no comment"
	}
	result.Rationale += fmt.Sprintf("; secondary review (%+.2f): %s", result.Confidence-before, note)
	return result
}

// failedRationalePrefix starts the rationale of every failed task
const failedRationalePrefix = "classification_failed"

// failedAnalysis is the degraded record for a task that panicked
func failedAnalysis(task ClassificationTask, cause interface{}, start time.Time) FieldAnalysis {
	return FieldAnalysis{
		FieldName:             task.Column.ColumnName,
		TableName:             task.Column.TableName,
		SchemaName:            task.Column.SchemaName,
		DataType:              task.Column.DataType,
		PIIType:               PIINone,
		RiskLevel:             RiskNone,
		Confidence:            0,
		ApplicableRegulations: []Regulation{task.Regulation},
		DetectionMethod:       MethodNone,
		Rationale:             fmt.Sprintf("%s: %v", failedRationalePrefix, cause),
		ProcessingTimeMs:      float64(time.Since(start).Microseconds()) / 1000,
	}
}

// validateRequest rejects empty schemas, blank names and unknown regulations; it returns the deduplicated regulations
func validateRequest(schema utils.Schema, regulations []Regulation) ([]Regulation, error) {
	if len(schema) == 0 || schema.ColumnCount() == 0 {
		return nil, invalidInput("schema has no columns")
	}
	if len(regulations) == 0 {
		return nil, invalidInput("no regulations requested")
	}
	for _, r := range regulations {
		if !r.Valid() {
			return nil, invalidInput("unknown regulation %q", r)
		}
	}
	for table, columns := range schema {
		if strings.TrimSpace(table) == "" {
			return nil, invalidInput("schema has a table with an empty name")
		}
		for i, c := range columns {
			if strings.TrimSpace(c.Name) == "" {
				return nil, &ClassificationError{
					Category: CategoryInvalidInput,
					Field:    table,
					Err:      fmt.Errorf("column %d has an empty name", i),
				}
			}
		}
	}
	return UnionRegulations(regulations), nil
}

// BuildTasks creates one task per (column, regulation), sorted by priority.
// Tables are visited in lexical order so the task list is deterministic.
func (o *Orchestrator) BuildTasks(schema utils.Schema, regulations []Regulation) []ClassificationTask {
	tasks := make([]ClassificationTask, 0, schema.ColumnCount()*len(regulations))

	for _, table := range schema.TableNames() {
		columns := schema[table]
		schemaName, tableName := splitQualified(table)

		for i, col := range columns {
			siblings := make([]string, 0, len(columns)-1)
			for j, other := range columns {
				if j != i {
					siblings = append(siblings, other.Name)
				}
			}

			meta := ColumnMetadata{
				SchemaName: schemaName,
				TableName:  tableName,
				ColumnName: col.Name,
				DataType:   col.DataType,
			}
			priority := o.priorityFor(meta)

			for _, reg := range regulations {
				tasks = append(tasks, ClassificationTask{
					ID:             uuid.NewString(),
					Column:         meta,
					SiblingColumns: siblings,
					Regulation:     reg,
					Priority:       priority,
				})
			}
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority < tasks[j].Priority
	})
	return tasks
}

// splitQualified separates "schema.table" keys
func splitQualified(table string) (string, string) {
	if i := strings.LastIndex(table, "."); i > 0 && i < len(table)-1 {
		return table[:i], table[i+1:]
	}
	return "", table
}

var (
	highPriorityTerms = []string{
		"email", "phone", "mobile", "ssn", "social_security", "name", "address", "passport",
		"license", "credit_card", "card_number", "iban", "account_number", "password",
		"mrn", "medical", "diagnosis", "prescription", "patient", "biometric", "national_id", "tax_id",
	}
	mediumPriorityTerms = []string{
		"dob", "birth", "insurance", "policy", "member", "zip", "postal", "salary",
		"gender", "ethnicity", "ip_address", "device",
	}
)

// priorityFor applies the keyword heuristic: known PII and healthcare tables first, birth and insurance-like terms next
func (o *Orchestrator) priorityFor(col ColumnMetadata) Priority {
	name := NormalizeFieldName(col.ColumnName)
	if _, ok := containsAnyToken(name, highPriorityTerms); ok || o.resolver.IsHealthcareTable(col.TableName) {
		return PriorityHigh
	}
	if _, ok := containsAnyToken(name, mediumPriorityTerms); ok {
		return PriorityMedium
	}
	return PriorityLow
}
