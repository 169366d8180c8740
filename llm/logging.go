package llm

import (
	"time"

	"github.com/SamuelRCrider/piiscan/core"
	"go.uber.org/zap"
)

// RequestLogger logs reviewer traffic according to an audit level
type RequestLogger struct {
	logger     *zap.Logger
	auditLevel core.AuditLogLevel
}

// NewRequestLogger creates a new request logger
func NewRequestLogger(logger *zap.Logger, auditLevel core.AuditLogLevel) *RequestLogger {
	return &RequestLogger{
		logger:     logger,
		auditLevel: auditLevel,
	}
}

// LogRequest logs request details. Entries tagged above the configured level are skipped.
func (l *RequestLogger) LogRequest(requestID string, request map[string]interface{}, level core.AuditLogLevel) {
	if !l.enabled(level) {
		return
	}

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("event", "request"),
		zap.String("level", string(level)),
	}
	for k, v := range request {
		if k == "api_key" || k == "auth_token" || k == "password" {
			v = "[REDACTED]"
		}
		fields = append(fields, zap.Any(k, v))
	}

	l.logger.Debug("review request", fields...)
}

// LogResponse logs response details; minimal logs only the request ID and duration
func (l *RequestLogger) LogResponse(requestID string, response map[string]interface{}, duration time.Duration, level core.AuditLogLevel) {
	if !l.enabled(level) {
		l.logger.Debug("review completed",
			zap.String("request_id", requestID),
			zap.Duration("duration", duration),
		)
		return
	}

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("event", "response"),
		zap.String("level", string(level)),
		zap.Int64("duration_ms", duration.Milliseconds()),
	}
	for k, v := range response {
		fields = append(fields, zap.Any(k, v))
	}

	l.logger.Debug("review response", fields...)
}

func (l *RequestLogger) enabled(level core.AuditLogLevel) bool {
	return levelRank(level) <= levelRank(l.auditLevel)
}

func levelRank(level core.AuditLogLevel) int {
	switch level {
	case core.AuditLogLevelMinimal:
		return 0
	case core.AuditLogLevelVerbose:
		return 2
	}
	return 1
}
