package llm

import (
	"time"

	"github.com/SamuelRCrider/piiscan/core"
)

// ReviewerConfig holds configuration for secondary review calls over MCP
type ReviewerConfig struct {
	ToolName     string                 // The MCP tool name to call
	Model        string                 // Model name passed through to the tool
	Temperature  float64                // Controls randomness (0.0-1.0)
	MaxTokens    int                    // Maximum tokens to generate
	ExtraParams  map[string]interface{} // Any additional model parameters
	Timeout      time.Duration          // Context timeout for one call, retries included
	RetryCount   int                    // Number of retries on failure
	RetryBackoff time.Duration          // Backoff duration before the first retry

	RequestsPerMinute int                // Sustained call rate; zero disables rate limiting
	Burst             int                // Calls allowed at once above the sustained rate
	CacheTTL          time.Duration      // How long a review outcome is reused
	AuditLevel        core.AuditLogLevel // Request logging level: minimal, standard or verbose

	ResponseValidation ValidationConfig // Output validation settings
}

// ValidationConfig bounds what a reviewer may send back
type ValidationConfig struct {
	MaxNoteLength int  // Notes longer than this are truncated
	DisallowURLs  bool // Whether notes containing URLs are rejected
}

// ReviewRequest is the payload sent to the review tool. It carries schema
// metadata and the local verdict only; no data values exist to send.
type ReviewRequest struct {
	RequestID   string   `json:"request_id"`
	SchemaName  string   `json:"schema_name,omitempty"`
	TableName   string   `json:"table_name"`
	FieldName   string   `json:"field_name"`
	PIIType     string   `json:"pii_type"`
	RiskLevel   string   `json:"risk_level"`
	Confidence  float64  `json:"confidence"`
	Method      string   `json:"detection_method"`
	Regulations []string `json:"regulations"`
	Rationale   string   `json:"rationale"`
}

// ReviewResponse is the tool's answer
type ReviewResponse struct {
	ConfidenceDelta float64 `json:"confidence_delta"`
	Note            string  `json:"note"`
}
