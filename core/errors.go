package core

import (
	"errors"
	"fmt"
)

// ErrorCategory groups classification failures by how they propagate
type ErrorCategory string

const (
	// CategoryConfiguration is fatal at startup: malformed ruleset, invalid regex, bad thresholds
	CategoryConfiguration ErrorCategory = "configuration"

	// CategoryInvalidInput rejects a request before any task is built
	CategoryInvalidInput ErrorCategory = "invalid_input"

	// CategoryTask degrades a single field when its classification fails
	CategoryTask ErrorCategory = "task"

	// CategoryReviewTimeout marks a secondary review that did not answer in time
	CategoryReviewTimeout ErrorCategory = "review_timeout"
)

// Sentinel errors matched through errors.Is against any ClassificationError of the same category
var (
	ErrConfiguration = errors.New("configuration error")
	ErrInvalidInput  = errors.New("invalid input")
	ErrTask          = errors.New("classification task failed")
	ErrReviewTimeout = errors.New("secondary review timed out")
)

// ClassificationError wraps errors with the category that decides their propagation
type ClassificationError struct {
	Category ErrorCategory
	Field    string
	Err      error
}

func (e *ClassificationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Field, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrConfiguration) and friends match on category
func (e *ClassificationError) Is(target error) bool {
	return target == e.Category.sentinel()
}

func (c ErrorCategory) sentinel() error {
	switch c {
	case CategoryConfiguration:
		return ErrConfiguration
	case CategoryInvalidInput:
		return ErrInvalidInput
	case CategoryTask:
		return ErrTask
	case CategoryReviewTimeout:
		return ErrReviewTimeout
	}
	return nil
}

func configError(format string, args ...interface{}) error {
	return &ClassificationError{Category: CategoryConfiguration, Err: fmt.Errorf(format, args...)}
}

func invalidInput(format string, args ...interface{}) error {
	return &ClassificationError{Category: CategoryInvalidInput, Err: fmt.Errorf(format, args...)}
}

// NewConfigurationError wraps err as a fatal configuration problem
func NewConfigurationError(err error) error {
	return &ClassificationError{Category: CategoryConfiguration, Err: err}
}
