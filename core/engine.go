package core

import (
	"time"
)

// Classifier classifies one field under an already-resolved regulation
type Classifier interface {
	Classify(column ColumnMetadata, siblingColumns []string, regulation Regulation) FieldAnalysis
}

// Engine runs the matcher tiers in order; the first tier with an answer wins
type Engine struct {
	lib      *PatternLibrary
	matchers []Matcher
	metrics  *Metrics
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithMatchers replaces the default tier list
func WithMatchers(matchers ...Matcher) EngineOption {
	return func(e *Engine) {
		e.matchers = matchers
	}
}

// WithEngineMetrics records pattern matches in Prometheus
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine over a built library
func NewEngine(lib *PatternLibrary, opts ...EngineOption) *Engine {
	e := &Engine{
		lib:      lib,
		matchers: DefaultMatchers(lib),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Library returns the pattern library the engine reads
func (e *Engine) Library() *PatternLibrary { return e.lib }

// Classify returns a single best classification for the field. The
// regulation recorded is the one passed in.
func (e *Engine) Classify(column ColumnMetadata, siblingColumns []string, regulation Regulation) FieldAnalysis {
	start := time.Now()

	in := MatchInput{
		Normalized: NormalizeFieldName(column.ColumnName),
		Column:     column,
		Siblings:   make([]string, 0, len(siblingColumns)),
		Regulation: regulation,
	}
	for _, s := range siblingColumns {
		if n := NormalizeFieldName(s); n != "" {
			in.Siblings = append(in.Siblings, n)
		}
	}

	result := FieldAnalysis{
		FieldName:             column.ColumnName,
		TableName:             column.TableName,
		SchemaName:            column.SchemaName,
		DataType:              column.DataType,
		PIIType:               PIINone,
		RiskLevel:             RiskNone,
		Confidence:            unmatchedConfidence,
		ApplicableRegulations: []Regulation{regulation},
		DetectionMethod:       MethodNone,
		Rationale:             "no pattern matched",
	}

	for _, m := range e.matchers {
		match, ok := m.Match(in)
		if !ok {
			continue
		}
		applyMatch(&result, match)
		if match.Pattern != nil {
			e.lib.recordUsage(match.Pattern.ID)
			e.metrics.recordMatch(match.Pattern.ID, match.Method)
		}
		break
	}

	result.enforceInvariants(regulation)
	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return result
}

func applyMatch(result *FieldAnalysis, match Match) {
	result.Confidence = match.Confidence
	result.DetectionMethod = match.Method
	result.Rationale = match.Note

	if match.NonSensitive || match.Pattern == nil {
		return
	}

	p := match.Pattern
	result.IsSensitive = true
	result.PIIType = p.PIIType
	result.RiskLevel = p.Risk
	result.MatchedPatternIDs = []string{p.ID}
	result.WasAutoClassified = match.Method == MethodFuzzyPattern || match.Method == MethodContextPattern
}
