package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditLogLevel defines the verbosity of audit logging
type AuditLogLevel string

const (
	// AuditLogLevelMinimal logs only run summaries and non-info events
	AuditLogLevelMinimal AuditLogLevel = "minimal"

	// AuditLogLevelStandard adds sensitive fields with truncated rationale
	AuditLogLevelStandard AuditLogLevel = "standard"

	// AuditLogLevelVerbose logs every field with full rationale
	AuditLogLevelVerbose AuditLogLevel = "verbose"
)

// ParseAuditLogLevel accepts minimal, standard or verbose; empty means standard
func ParseAuditLogLevel(s string) (AuditLogLevel, error) {
	switch AuditLogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", AuditLogLevelStandard:
		return AuditLogLevelStandard, nil
	case AuditLogLevelMinimal:
		return AuditLogLevelMinimal, nil
	case AuditLogLevelVerbose:
		return AuditLogLevelVerbose, nil
	}
	return "", fmt.Errorf("unknown audit level %q", s)
}

// AuditLogSeverity defines the severity of audit log events
type AuditLogSeverity string

const (
	// SeverityInfo for normal operations
	SeverityInfo AuditLogSeverity = "info"

	// SeverityWarning for degraded results such as review timeouts
	SeverityWarning AuditLogSeverity = "warning"

	// SeverityError for failed tasks
	SeverityError AuditLogSeverity = "error"

	// SeverityCritical for runs that could not start
	SeverityCritical AuditLogSeverity = "critical"
)

func (s AuditLogSeverity) zapLevel() zapcore.Level {
	switch s {
	case SeverityWarning:
		return zapcore.WarnLevel
	case SeverityError, SeverityCritical:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// AuditLog is one audit event. Only schema metadata is ever recorded, never field values.
type AuditLog struct {
	RunID     string
	EventType string
	Severity  AuditLogSeverity
	Table     string
	Field     string
	Rationale string
	Metadata  map[string]string
}

// rationaleLimit bounds rationale length at the standard level
const rationaleLimit = 100

// AuditLogger writes classification audit events through zap
type AuditLogger struct {
	logger *zap.Logger
	level  AuditLogLevel
}

// NewAuditLogger wraps logger; a nil logger discards everything
func NewAuditLogger(logger *zap.Logger, level AuditLogLevel) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if level == "" {
		level = AuditLogLevelStandard
	}
	return &AuditLogger{logger: logger.Named("audit"), level: level}
}

// Level returns the configured verbosity
func (l *AuditLogger) Level() AuditLogLevel { return l.level }

// LogEvent writes an event, applying level filtering and truncation
func (l *AuditLogger) LogEvent(event AuditLog) {
	if l == nil {
		return
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	// Skip detailed info logs in minimal mode
	if l.level == AuditLogLevelMinimal && event.Severity == SeverityInfo {
		return
	}

	switch l.level {
	case AuditLogLevelMinimal:
		event.Rationale = ""
	case AuditLogLevelStandard:
		event.Rationale = truncate(event.Rationale, rationaleLimit)
	}

	l.write(event)
}

func (l *AuditLogger) write(event AuditLog) {
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("severity", string(event.Severity)),
		zap.Time("timestamp", time.Now()),
	}
	if event.RunID != "" {
		fields = append(fields, zap.String("run_id", event.RunID))
	}
	if event.Table != "" {
		fields = append(fields, zap.String("table", event.Table))
	}
	if event.Field != "" {
		fields = append(fields, zap.String("field", event.Field))
	}
	if event.Rationale != "" {
		fields = append(fields, zap.String("rationale", event.Rationale))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String(k, v))
	}

	if ce := l.logger.Check(event.Severity.zapLevel(), "audit event"); ce != nil {
		ce.Write(fields...)
	}
}

// LogField records one consolidated field. Standard logs sensitive fields only; verbose logs all.
func (l *AuditLogger) LogField(runID string, f FieldAnalysis) {
	if l == nil || l.level == AuditLogLevelMinimal {
		return
	}
	if l.level == AuditLogLevelStandard && !f.IsSensitive {
		return
	}

	regs := make([]string, 0, len(f.ApplicableRegulations))
	for _, r := range f.ApplicableRegulations {
		regs = append(regs, string(r))
	}

	metadata := map[string]string{
		"pii_type":    string(f.PIIType),
		"risk_level":  f.RiskLevel.String(),
		"confidence":  fmt.Sprintf("%.2f", f.Confidence),
		"method":      string(f.DetectionMethod),
		"regulations": strings.Join(regs, ","),
	}
	if f.SchemaName != "" {
		metadata["schema"] = f.SchemaName
	}

	l.LogEvent(AuditLog{
		RunID:     runID,
		EventType: "field_classified",
		Severity:  SeverityInfo,
		Table:     f.TableName,
		Field:     f.FieldName,
		Rationale: f.Rationale,
		Metadata:  metadata,
	})
}

// LogRun records the outcome of a whole batch; it is written at every level
func (l *AuditLogger) LogRun(result *BatchResult, rulesetVersion string) {
	if l == nil || result == nil {
		return
	}

	severity := SeverityWarning
	if result.Unfinished == 0 && result.Failed == 0 {
		severity = SeverityInfo
	}
	summary := Summarize(result.Fields)

	event := AuditLog{
		RunID:     result.RunID,
		EventType: "run_completed",
		Severity:  severity,
		Metadata: map[string]string{
			"ruleset_version":  rulesetVersion,
			"fields":           fmt.Sprintf("%d", len(result.Fields)),
			"sensitive_fields": fmt.Sprintf("%d", summary.SensitiveFields),
			"unfinished":       fmt.Sprintf("%d", result.Unfinished),
			"failed":           fmt.Sprintf("%d", result.Failed),
			"reviewed":         fmt.Sprintf("%d", result.Reviewed),
			"duration":         result.Duration.String(),
		},
	}

	// The run summary survives minimal filtering
	l.write(event)
}

// truncate cuts s to at most limit bytes without splitting a rune
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "... [truncated]"
}
