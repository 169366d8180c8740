package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SamuelRCrider/piiscan/rules"
	"github.com/stretchr/testify/require"
)

func defaultLibrary(t *testing.T) *PatternLibrary {
	t.Helper()
	rs, err := ParseRuleset(rules.DefaultRuleset)
	require.NoError(t, err)
	lib, err := NewPatternLibrary(rs)
	require.NoError(t, err)
	return lib
}

func column(table, name string) ColumnMetadata {
	return ColumnMetadata{TableName: table, ColumnName: name}
}

// stubClassifier lets tests control the engine's answer per field
type stubClassifier struct {
	fn    func(column ColumnMetadata, regulation Regulation) FieldAnalysis
	calls atomic.Int64
}

func (s *stubClassifier) Classify(column ColumnMetadata, _ []string, regulation Regulation) FieldAnalysis {
	s.calls.Add(1)
	return s.fn(column, regulation)
}

func sensitiveAt(confidence float64) func(ColumnMetadata, Regulation) FieldAnalysis {
	return func(c ColumnMetadata, reg Regulation) FieldAnalysis {
		return FieldAnalysis{
			FieldName:             c.ColumnName,
			TableName:             c.TableName,
			SchemaName:            c.SchemaName,
			IsSensitive:           true,
			PIIType:               PIIName,
			RiskLevel:             RiskMedium,
			Confidence:            confidence,
			ApplicableRegulations: []Regulation{reg},
			DetectionMethod:       MethodExactPattern,
			MatchedPatternIDs:     []string{"stub"},
			Rationale:             "stub match",
		}
	}
}

// stubReviewer answers with a fixed delta, an error, or blocks until its context ends
type stubReviewer struct {
	delta float64
	note  string
	err   error
	block bool
	calls atomic.Int64
}

func (r *stubReviewer) Review(ctx context.Context, _, _ string, _ FieldAnalysis) (float64, string, error) {
	r.calls.Add(1)
	if r.block {
		<-ctx.Done()
		return 0, "", ctx.Err()
	}
	return r.delta, r.note, r.err
}

func sleepFor(d time.Duration) func(ColumnMetadata, Regulation) FieldAnalysis {
	base := sensitiveAt(0.95)
	return func(c ColumnMetadata, reg Regulation) FieldAnalysis {
		time.Sleep(d)
		return base(c, reg)
	}
}
