package llm

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// generateRequestID creates a unique ID for request tracking
func generateRequestID() string {
	return uuid.NewString()
}

// estimateTokens provides a rough estimate of tokens in a text
func estimateTokens(text string) int {
	// Rough estimate: 1 token ≈ 4 characters for English text
	return len(text) / 4
}

// extractJSONObject returns the outermost {...} span of s
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// truncateUTF8 cuts s to at most limit bytes on a rune boundary
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
