package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SamuelRCrider/piiscan/cache"
	"github.com/SamuelRCrider/piiscan/core"
	"github.com/mark3labs/mcp-go/mcp"
)

// Review implements core.SecondaryReviewer. Outcomes are cached per
// schema, table, field and PII type, and concurrent identical requests share one call.
func (r *MCPReviewer) Review(ctx context.Context, fieldName, tableName string, candidate core.FieldAnalysis) (float64, string, error) {
	key := cache.Key(candidate.SchemaName, tableName, fieldName, string(candidate.PIIType))
	if entry, ok := r.cached(ctx, key); ok {
		return entry.Delta, entry.Note, nil
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		// Shared by every waiter, so one caller's cancellation must not abort it
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.Timeout)
		defer cancel()

		resp, err := r.process(callCtx, fieldName, tableName, candidate)
		if err != nil {
			return nil, err
		}
		r.store(callCtx, key, resp)
		return resp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, "", res.Err
		}
		resp := res.Val.(ReviewResponse)
		return resp.ConfidenceDelta, resp.Note, nil
	case <-ctx.Done():
		return 0, "", ctx.Err()
	}
}

// process performs one review: validation, rate limiting, the tool call with retries and response parsing
func (r *MCPReviewer) process(ctx context.Context, fieldName, tableName string, candidate core.FieldAnalysis) (ReviewResponse, error) {
	requestID := generateRequestID()
	startTime := time.Now()

	regs := make([]string, 0, len(candidate.ApplicableRegulations))
	for _, reg := range candidate.ApplicableRegulations {
		regs = append(regs, string(reg))
	}
	req := ReviewRequest{
		RequestID:   requestID,
		SchemaName:  candidate.SchemaName,
		TableName:   tableName,
		FieldName:   fieldName,
		PIIType:     string(candidate.PIIType),
		RiskLevel:   candidate.RiskLevel.String(),
		Confidence:  candidate.Confidence,
		Method:      string(candidate.DetectionMethod),
		Regulations: regs,
		Rationale:   candidate.Rationale,
	}

	requestDetails := map[string]interface{}{
		"table":      tableName,
		"field":      fieldName,
		"pii_type":   req.PIIType,
		"confidence": req.Confidence,
	}
	r.requestLog.LogRequest(requestID, requestDetails, core.AuditLogLevelMinimal)

	// 1. Validate input
	if err := r.validator.ValidateRequest(req); err != nil {
		validationErr := newReviewError(ErrorCategoryValidation, err, requestID, nil)
		r.errorReporter.ReportError(validationErr)
		return ReviewResponse{}, validationErr
	}

	// 2. Respect the rate limit
	if err := r.rateLimiter.Wait(ctx); err != nil {
		rateLimitErr := newReviewError(ErrorCategoryRateLimit, err, requestID, map[string]interface{}{
			"limit": r.config.RequestsPerMinute,
		})
		r.errorReporter.ReportError(rateLimitErr)
		return ReviewResponse{}, rateLimitErr
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return ReviewResponse{}, newReviewError(ErrorCategorySystem, err, requestID, nil)
	}

	params := map[string]interface{}{
		"input":       string(payload),
		"model":       r.config.Model,
		"temperature": r.config.Temperature,
		"max_tokens":  r.config.MaxTokens,
		"request_id":  requestID,
	}
	for k, v := range r.config.ExtraParams {
		params[k] = v
	}

	requestDetails["input_tokens_est"] = estimateTokens(string(payload))
	r.requestLog.LogRequest(requestID, requestDetails, core.AuditLogLevelStandard)

	request := mcp.CallToolRequest{}
	request.Params.Name = r.config.ToolName
	request.Params.Arguments = params

	// 3. Call the tool with retries
	var result *mcp.CallToolResult
	var lastError error

	for attempt := 0; attempt <= r.config.RetryCount; attempt++ {
		if attempt > 0 {
			backoffTime := r.backoff(attempt)
			r.requestLog.LogRequest(requestID, map[string]interface{}{
				"retry_attempt":  attempt,
				"backoff_ms":     backoffTime.Milliseconds(),
				"previous_error": lastError.Error(),
			}, core.AuditLogLevelVerbose)

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				timeoutErr := newReviewError(ErrorCategoryTimeout,
					fmt.Errorf("review canceled during backoff: %w", ctx.Err()), requestID, nil)
				r.errorReporter.ReportError(timeoutErr)
				return ReviewResponse{}, timeoutErr
			}
		}

		result, lastError = r.caller.CallTool(ctx, request)
		if lastError == nil {
			break
		}

		// Don't retry if context is done
		if errors.Is(lastError, context.DeadlineExceeded) || errors.Is(lastError, context.Canceled) || ctx.Err() != nil {
			timeoutErr := newReviewError(ErrorCategoryTimeout,
				fmt.Errorf("MCP call timeout or canceled: %w", lastError), requestID, nil)
			r.errorReporter.ReportError(timeoutErr)
			return ReviewResponse{}, timeoutErr
		}
	}

	if lastError != nil {
		finalErr := newReviewError(categorizeError(lastError),
			fmt.Errorf("MCP call failed after %d attempts: %w", r.config.RetryCount+1, lastError),
			requestID, nil)
		r.errorReporter.ReportError(finalErr)
		return ReviewResponse{}, finalErr
	}

	output := resultText(result)

	if result.IsError {
		resultErr := newReviewError(ErrorCategoryModel,
			fmt.Errorf("MCP tool returned an error: %s", output), requestID, nil)
		r.errorReporter.ReportError(resultErr)
		return ReviewResponse{}, resultErr
	}

	// 4. Parse and validate the answer
	resp, err := r.validator.ParseResponse(output)
	if err != nil {
		validationErr := newReviewError(ErrorCategoryValidation, err, requestID, nil)
		r.errorReporter.ReportError(validationErr)
		return ReviewResponse{}, validationErr
	}

	duration := time.Since(startTime)
	r.requestLog.LogResponse(requestID, map[string]interface{}{
		"confidence_delta":  resp.ConfidenceDelta,
		"note":              resp.Note,
		"output_tokens_est": estimateTokens(output),
	}, duration, core.AuditLogLevelStandard)

	return resp, nil
}

// resultText concatenates the text content of a tool result
func resultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var b strings.Builder
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			b.WriteString(textContent.Text)
		}
	}
	return b.String()
}
