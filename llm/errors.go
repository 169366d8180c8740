package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrorCategory classifies reviewer failures for logs and metrics
type ErrorCategory string

const (
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryRateLimit  ErrorCategory = "rate_limit"
	ErrorCategorySystem     ErrorCategory = "system"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryNetwork    ErrorCategory = "network"
	ErrorCategoryModel      ErrorCategory = "model"
)

// ReviewError wraps a reviewer failure with its category and request ID
type ReviewError struct {
	Category    ErrorCategory
	OriginalErr error
	RequestID   string
	Timestamp   time.Time
	Details     map[string]interface{}
}

func (e ReviewError) Error() string {
	return fmt.Sprintf("[%s] %s (request: %s)", e.Category, e.OriginalErr.Error(), e.RequestID)
}

func (e ReviewError) Unwrap() error {
	return e.OriginalErr
}

// newReviewError creates a new ReviewError with standard fields
func newReviewError(category ErrorCategory, err error, requestID string, details map[string]interface{}) ReviewError {
	return ReviewError{
		Category:    category,
		OriginalErr: err,
		RequestID:   requestID,
		Timestamp:   time.Now(),
		Details:     details,
	}
}

// CategoryOf returns the category of a ReviewError anywhere in err's chain, or system
func CategoryOf(err error) ErrorCategory {
	var reviewErr ReviewError
	if errors.As(err, &reviewErr) {
		return reviewErr.Category
	}
	return ErrorCategorySystem
}

// ErrorReporter logs reviewer failures
type ErrorReporter struct {
	logger *zap.Logger
}

// NewErrorReporter creates a new error reporter
func NewErrorReporter(logger *zap.Logger) *ErrorReporter {
	return &ErrorReporter{logger: logger}
}

// ReportError logs an error with its category metadata
func (e *ErrorReporter) ReportError(err error) {
	fields := []zap.Field{zap.Error(err)}

	var reviewErr ReviewError
	if errors.As(err, &reviewErr) {
		fields = append(fields,
			zap.String("category", string(reviewErr.Category)),
			zap.String("request_id", reviewErr.RequestID),
			zap.Time("timestamp", reviewErr.Timestamp),
		)
		for k, v := range reviewErr.Details {
			fields = append(fields, zap.Any(k, v))
		}
	}

	e.logger.Warn("secondary review failed", fields...)
}

// categorizeError categorizes error based on error message
func categorizeError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests") {
		return ErrorCategoryRateLimit
	} else if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return ErrorCategoryTimeout
	} else if strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") || strings.Contains(errStr, "broken pipe") {
		return ErrorCategoryNetwork
	} else if strings.Contains(errStr, "invalid") || strings.Contains(errStr, "validation") {
		return ErrorCategoryValidation
	}

	return ErrorCategorySystem
}
