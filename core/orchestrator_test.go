package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/SamuelRCrider/piiscan/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newOrchestrator(t *testing.T, cfg OrchestratorConfig, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(defaultLibrary(t), cfg, opts...)
	require.NoError(t, err)
	return o
}

func wideSchema(table string, n int) utils.Schema {
	cols := make([]utils.ColumnDescriptor, n)
	for i := range cols {
		cols[i] = utils.ColumnDescriptor{Name: fmt.Sprintf("field_%03d", i), DataType: "text"}
	}
	return utils.Schema{table: cols}
}

func TestClassifySchemaScenarios(t *testing.T) {
	o := newOrchestrator(t, DefaultOrchestratorConfig())
	schema := utils.Schema{
		"patients":  {{Name: "ssn", DataType: "varchar(11)"}, {Name: "favourite_colour", DataType: "text"}},
		"logs":      {{Name: "created_at", DataType: "timestamp"}, {Name: "message", DataType: "text"}},
		"customers": {{Name: "email_address", DataType: "varchar(255)"}, {Name: "id", DataType: "bigint"}},
	}

	fields, unfinished, err := o.ClassifySchema(context.Background(), schema, []Regulation{RegulationGDPR})
	require.NoError(t, err)
	assert.Zero(t, unfinished)
	require.Len(t, fields, 6)

	byKey := map[string]FieldAnalysis{}
	for _, f := range fields {
		byKey[f.Key()] = f
	}

	ssn := byKey["patients.ssn"]
	assert.True(t, ssn.IsSensitive)
	assert.Equal(t, PIISSN, ssn.PIIType)
	assert.Contains(t, ssn.ApplicableRegulations, RegulationHIPAA)
	assert.GreaterOrEqual(t, ssn.Confidence, 0.90)

	createdAt := byKey["logs.created_at"]
	assert.False(t, createdAt.IsSensitive)
	assert.LessOrEqual(t, createdAt.Confidence, 0.10)

	email := byKey["customers.email_address"]
	assert.True(t, email.IsSensitive)
	assert.Equal(t, PIIEmail, email.PIIType)
	assert.Equal(t, []Regulation{RegulationGDPR}, email.ApplicableRegulations)
	assert.GreaterOrEqual(t, email.Confidence, 0.95)

	for _, f := range byKey {
		if f.TableName == "patients" {
			assert.Equal(t, []Regulation{RegulationHIPAA}, f.ApplicableRegulations, f.Key())
		}
	}
}

func TestClassifySchemaUnionsRequestedRegulations(t *testing.T) {
	o := newOrchestrator(t, DefaultOrchestratorConfig())
	schema := utils.Schema{"customers": {{Name: "email_address"}}}

	fields, _, err := o.ClassifySchema(context.Background(), schema,
		[]Regulation{RegulationCCPA, RegulationGDPR, RegulationCCPA})
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, []Regulation{RegulationGDPR, RegulationCCPA}, fields[0].ApplicableRegulations)
}

func TestClassifySchemaHundredFields(t *testing.T) {
	stub := &stubClassifier{fn: sleepFor(10 * time.Millisecond)}
	cfg := DefaultOrchestratorConfig()
	cfg.Workers = 4
	o := newOrchestrator(t, cfg, WithClassifier(stub))

	start := time.Now()
	fields, unfinished, err := o.ClassifySchema(context.Background(), wideSchema("inventory", 100), []Regulation{RegulationGDPR})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Zero(t, unfinished)
	require.Len(t, fields, 100)

	keys := map[string]struct{}{}
	for _, f := range fields {
		keys[f.Key()] = struct{}{}
	}
	assert.Len(t, keys, 100)
	assert.EqualValues(t, 100, stub.calls.Load())

	// 100 tasks of 10ms each on 4 workers, far below the 1s serial sum
	assert.Less(t, elapsed, 900*time.Millisecond)
}

func TestClassifySchemaPartialFailure(t *testing.T) {
	base := sensitiveAt(0.95)
	stub := &stubClassifier{fn: func(c ColumnMetadata, reg Regulation) FieldAnalysis {
		if c.ColumnName == "field_007" {
			panic("corrupt pattern state")
		}
		return base(c, reg)
	}}
	o := newOrchestrator(t, DefaultOrchestratorConfig(), WithClassifier(stub))

	result, err := o.Run(context.Background(), wideSchema("inventory", 20), []Regulation{RegulationGDPR})
	require.NoError(t, err)
	require.Len(t, result.Fields, 20)
	assert.Equal(t, 1, result.Failed)

	failed := 0
	for _, f := range result.Fields {
		if strings.HasPrefix(f.Rationale, "classification_failed") {
			failed++
			assert.Equal(t, "field_007", f.FieldName)
			assert.Contains(t, f.Rationale, "corrupt pattern state")
			assert.False(t, f.IsSensitive)
			assert.Equal(t, MethodNone, f.DetectionMethod)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestClassifySchemaBatchDeadline(t *testing.T) {
	stub := &stubClassifier{fn: sleepFor(100 * time.Millisecond)}
	cfg := DefaultOrchestratorConfig()
	cfg.Workers = 1
	cfg.BatchTimeout = 250 * time.Millisecond
	o := newOrchestrator(t, cfg, WithClassifier(stub))

	start := time.Now()
	fields, unfinished, err := o.ClassifySchema(context.Background(), wideSchema("slow", 10), []Regulation{RegulationGDPR})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 600*time.Millisecond)
	assert.Positive(t, unfinished)
	assert.Equal(t, 10, len(fields)+unfinished)
}

func TestClassifySchemaCancelled(t *testing.T) {
	stub := &stubClassifier{fn: sensitiveAt(0.95)}
	o := newOrchestrator(t, DefaultOrchestratorConfig(), WithClassifier(stub))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fields, unfinished, err := o.ClassifySchema(ctx, wideSchema("t", 10), []Regulation{RegulationGDPR})
	require.NoError(t, err)
	assert.Equal(t, 10, len(fields)+unfinished)
}

func TestClassifySchemaInvalidInput(t *testing.T) {
	o := newOrchestrator(t, DefaultOrchestratorConfig())
	valid := utils.Schema{"customers": {{Name: "email"}}}

	tests := []struct {
		name   string
		schema utils.Schema
		regs   []Regulation
	}{
		{"empty schema", utils.Schema{}, []Regulation{RegulationGDPR}},
		{"tables without columns", utils.Schema{"t": nil}, []Regulation{RegulationGDPR}},
		{"no regulations", valid, nil},
		{"unknown regulation", valid, []Regulation{"PIPEDA"}},
		{"empty column name", utils.Schema{"t": {{Name: " "}}}, []Regulation{RegulationGDPR}},
		{"empty table name", utils.Schema{"": {{Name: "email"}}}, []Regulation{RegulationGDPR}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, unfinished, err := o.ClassifySchema(context.Background(), tt.schema, tt.regs)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Nil(t, fields)
			assert.Zero(t, unfinished)
		})
	}
}

func TestBuildTasksPriority(t *testing.T) {
	o := newOrchestrator(t, DefaultOrchestratorConfig())
	schema := utils.Schema{
		"orders":    {{Name: "notes"}, {Name: "insurance_provider"}, {Name: "customer_email"}},
		"patients":  {{Name: "favourite_colour"}},
		"crm.leads": {{Name: "zip"}},
	}

	tasks := o.BuildTasks(schema, []Regulation{RegulationGDPR, RegulationCCPA})
	require.Len(t, tasks, 10)

	priorities := map[string]Priority{}
	ids := map[string]struct{}{}
	for i, task := range tasks {
		priorities[task.Column.Key()] = task.Priority
		ids[task.ID] = struct{}{}
		if i > 0 {
			assert.LessOrEqual(t, tasks[i-1].Priority, task.Priority, "tasks not sorted by priority")
		}
	}
	assert.Len(t, ids, 10)

	assert.Equal(t, PriorityHigh, priorities["orders.customer_email"])
	assert.Equal(t, PriorityHigh, priorities["patients.favourite_colour"])
	assert.Equal(t, PriorityMedium, priorities["orders.insurance_provider"])
	assert.Equal(t, PriorityMedium, priorities["crm.leads.zip"])
	assert.Equal(t, PriorityLow, priorities["orders.notes"])

	for _, task := range tasks {
		if task.Column.TableName == "leads" {
			assert.Equal(t, "crm", task.Column.SchemaName)
		}
		if task.Column.Key() == "orders.notes" {
			assert.ElementsMatch(t, []string{"insurance_provider", "customer_email"}, task.SiblingColumns)
		}
	}
}

func TestSecondaryReview(t *testing.T) {
	schema := utils.Schema{"profiles": {{Name: "nickname"}}}
	regs := []Regulation{RegulationGDPR}

	t.Run("boost is clamped", func(t *testing.T) {
		reviewer := &stubReviewer{delta: 0.5, note: "likely a personal name"}
		o := newOrchestrator(t, DefaultOrchestratorConfig(),
			WithClassifier(&stubClassifier{fn: sensitiveAt(0.70)}), WithReviewer(reviewer))

		result, err := o.Run(context.Background(), schema, regs)
		require.NoError(t, err)
		require.Len(t, result.Fields, 1)

		f := result.Fields[0]
		assert.InDelta(t, 0.85, f.Confidence, 1e-9)
		assert.Equal(t, MethodSecondaryReview, f.DetectionMethod)
		assert.Equal(t, []string{"stub"}, f.MatchedPatternIDs)
		assert.True(t, f.Reviewed)
		assert.True(t, f.NeedsReview)
		assert.Contains(t, f.Rationale, "likely a personal name")
		assert.Equal(t, 1, result.Reviewed)
	})

	t.Run("confidence capped at one", func(t *testing.T) {
		cfg := DefaultOrchestratorConfig()
		cfg.MaxReviewBoost = 0.5
		o := newOrchestrator(t, cfg,
			WithClassifier(&stubClassifier{fn: sensitiveAt(0.89)}), WithReviewer(&stubReviewer{delta: 0.4}))

		fields, _, err := o.ClassifySchema(context.Background(), schema, regs)
		require.NoError(t, err)
		assert.Equal(t, 1.0, fields[0].Confidence)
	})

	t.Run("high confidence skips review", func(t *testing.T) {
		reviewer := &stubReviewer{delta: 0.1}
		o := newOrchestrator(t, DefaultOrchestratorConfig(),
			WithClassifier(&stubClassifier{fn: sensitiveAt(0.95)}), WithReviewer(reviewer))

		fields, _, err := o.ClassifySchema(context.Background(), schema, regs)
		require.NoError(t, err)
		assert.Zero(t, reviewer.calls.Load())
		assert.Equal(t, 0.95, fields[0].Confidence)
		assert.False(t, fields[0].NeedsReview)
	})

	t.Run("timeout keeps the local result", func(t *testing.T) {
		cfg := DefaultOrchestratorConfig()
		cfg.ReviewTimeout = 50 * time.Millisecond
		reviewer := &stubReviewer{block: true}
		o := newOrchestrator(t, cfg,
			WithClassifier(&stubClassifier{fn: sensitiveAt(0.70)}), WithReviewer(reviewer))

		start := time.Now()
		fields, _, err := o.ClassifySchema(context.Background(), schema, regs)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second)

		f := fields[0]
		assert.Equal(t, 0.70, f.Confidence)
		assert.Equal(t, MethodExactPattern, f.DetectionMethod)
		assert.False(t, f.Reviewed)
		assert.Contains(t, f.Rationale, "timed out")
	})

	t.Run("errors are swallowed", func(t *testing.T) {
		reviewer := &stubReviewer{err: errors.New("connection refused")}
		o := newOrchestrator(t, DefaultOrchestratorConfig(),
			WithClassifier(&stubClassifier{fn: sensitiveAt(0.70)}), WithReviewer(reviewer))

		fields, _, err := o.ClassifySchema(context.Background(), schema, regs)
		require.NoError(t, err)
		assert.Equal(t, 0.70, fields[0].Confidence)
		assert.Contains(t, fields[0].Rationale, "unavailable")
	})

	t.Run("no reviewer leaves result unchanged", func(t *testing.T) {
		o := newOrchestrator(t, DefaultOrchestratorConfig(), WithClassifier(&stubClassifier{fn: sensitiveAt(0.70)}))

		fields, _, err := o.ClassifySchema(context.Background(), schema, regs)
		require.NoError(t, err)
		assert.Equal(t, 0.70, fields[0].Confidence)
		assert.True(t, fields[0].NeedsReview)
		assert.Equal(t, "stub match", fields[0].Rationale)
	})
}

func TestOrchestratorConfigValidate(t *testing.T) {
	lib := defaultLibrary(t)

	cfg := DefaultOrchestratorConfig()
	cfg.MaxReviewBoost = 2
	_, err := NewOrchestrator(lib, cfg)
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = DefaultOrchestratorConfig()
	cfg.Workers = -1
	_, err = NewOrchestrator(lib, cfg)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewOrchestrator(nil, DefaultOrchestratorConfig())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestOrchestratorObservability(t *testing.T) {
	observed, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(observed)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	o := newOrchestrator(t, DefaultOrchestratorConfig(),
		WithLogger(logger),
		WithAuditLogger(NewAuditLogger(logger, AuditLogLevelStandard)),
		WithMetrics(metrics),
	)

	schema := utils.Schema{"customers": {{Name: "email"}, {Name: "quantity"}}}
	result, err := o.Run(context.Background(), schema, []Regulation{RegulationGDPR})
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)

	assert.Equal(t, 1, logs.FilterMessage("classification run finished").Len())
	runs := logs.FilterField(zap.String("event_type", "run_completed")).All()
	require.Len(t, runs, 1)
	fieldEvents := logs.FilterField(zap.String("event_type", "field_classified")).All()
	require.Len(t, fieldEvents, 1, "standard audit logs sensitive fields only")
	assert.Equal(t, "email", fieldEvents[0].ContextMap()["field"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.tasks.WithLabelValues("sensitive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.tasks.WithLabelValues("not_sensitive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.patternMatches.WithLabelValues("email", string(MethodExactPattern))))
}

// deadlineReviewer reports whether each review call was bounded
type deadlineReviewer struct {
	deadlines chan time.Duration
}

func (r *deadlineReviewer) Review(ctx context.Context, _, _ string, _ FieldAnalysis) (float64, string, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		r.deadlines <- 0
	} else {
		r.deadlines <- time.Until(deadline)
	}
	return 0, "", nil
}

func TestReviewIsBoundedWithZeroTimeouts(t *testing.T) {
	cfg := OrchestratorConfig{Workers: 1}
	require.NoError(t, cfg.Validate())

	reviewer := &deadlineReviewer{deadlines: make(chan time.Duration, 1)}
	o := newOrchestrator(t, cfg, WithClassifier(&stubClassifier{fn: sensitiveAt(0.70)}), WithReviewer(reviewer))
	assert.Equal(t, DefaultOrchestratorConfig().ReviewTimeout, o.cfg.ReviewTimeout)

	_, _, err := o.ClassifySchema(context.Background(), utils.Schema{"customer_data": {{Name: "contact_info"}}}, []Regulation{RegulationGDPR})
	require.NoError(t, err)

	remaining := <-reviewer.deadlines
	assert.Greater(t, remaining, time.Duration(0), "review ran without a deadline")
	assert.LessOrEqual(t, remaining, DefaultOrchestratorConfig().ReviewTimeout)
}

func TestClassifySchemaSameTableInTwoSchemas(t *testing.T) {
	o := newOrchestrator(t, DefaultOrchestratorConfig())
	schema := utils.Schema{
		"users":       {{Name: "email", DataType: "text"}},
		"audit.users": {{Name: "email", DataType: "text"}},
	}

	fields, unfinished, err := o.ClassifySchema(context.Background(), schema, []Regulation{RegulationGDPR})
	require.NoError(t, err)
	assert.Zero(t, unfinished)
	require.Len(t, fields, 2)

	assert.Equal(t, FieldKey{Table: "users", Field: "email"}, fields[0].FieldKey())
	assert.Equal(t, FieldKey{Schema: "audit", Table: "users", Field: "email"}, fields[1].FieldKey())
	assert.Equal(t, "audit.users.email", fields[1].Key())
	for _, f := range fields {
		assert.True(t, f.IsSensitive, f.Key())
	}
}
