package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// maxFieldNameLength bounds identifiers sent to the reviewer
const maxFieldNameLength = 256

// RequestValidator checks review requests and the answers that come back
type RequestValidator struct {
	config ValidationConfig
}

// NewRequestValidator creates a new request validator
func NewRequestValidator(config ValidationConfig) *RequestValidator {
	return &RequestValidator{
		config: config,
	}
}

// ValidateRequest rejects requests that would send nothing useful or oversized identifiers
func (v *RequestValidator) ValidateRequest(req ReviewRequest) error {
	if strings.TrimSpace(req.FieldName) == "" {
		return fmt.Errorf("field name must not be empty")
	}
	if strings.TrimSpace(req.TableName) == "" {
		return fmt.Errorf("table name must not be empty")
	}
	if len(req.FieldName) > maxFieldNameLength || len(req.TableName) > maxFieldNameLength {
		return fmt.Errorf("identifier exceeds maximum length of %d characters", maxFieldNameLength)
	}
	return nil
}

// ParseResponse decodes and validates a tool answer. The JSON object may be
// wrapped in prose or a code fence.
func (v *RequestValidator) ParseResponse(output string) (ReviewResponse, error) {
	raw, ok := extractJSONObject(output)
	if !ok {
		return ReviewResponse{}, fmt.Errorf("invalid reviewer output: no JSON object found")
	}

	var resp ReviewResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return ReviewResponse{}, fmt.Errorf("invalid reviewer output: %w", err)
	}

	if math.IsNaN(resp.ConfidenceDelta) || resp.ConfidenceDelta < -1 || resp.ConfidenceDelta > 1 {
		return ReviewResponse{}, fmt.Errorf("invalid confidence_delta %v: must be within [-1, 1]", resp.ConfidenceDelta)
	}

	resp.Note = strings.TrimSpace(resp.Note)
	if v.config.DisallowURLs && (strings.Contains(resp.Note, "http://") || strings.Contains(resp.Note, "https://")) {
		return ReviewResponse{}, fmt.Errorf("invalid reviewer note: contains disallowed URLs")
	}
	if v.config.MaxNoteLength > 0 && len(resp.Note) > v.config.MaxNoteLength {
		resp.Note = truncateUTF8(resp.Note, v.config.MaxNoteLength) + "... [truncated]"
	}
	if resp.Note == "" {
		resp.Note = "no note"
	}

	return resp, nil
}
