package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SamuelRCrider/piiscan/cache"
	"github.com/SamuelRCrider/piiscan/core"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeCaller struct {
	mu       sync.Mutex
	requests []mcp.CallToolRequest
	calls    atomic.Int64
	respond  func(attempt int64, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	closed   bool
}

func (f *fakeCaller) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(n, req)
}

func (f *fakeCaller) Close() error {
	f.closed = true
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

func answer(text string) func(int64, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(int64, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(text), nil
	}
}

func candidate() core.FieldAnalysis {
	return core.FieldAnalysis{
		FieldName:             "contact_info",
		TableName:             "customers",
		IsSensitive:           true,
		PIIType:               core.PIIPhone,
		RiskLevel:             core.RiskMedium,
		Confidence:            0.7,
		ApplicableRegulations: []core.Regulation{core.RegulationGDPR},
		DetectionMethod:       core.MethodContextPattern,
		Rationale:             "sibling context",
	}
}

func testConfig() *ReviewerConfig {
	cfg := DefaultReviewerConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.RequestsPerMinute = 0
	return &cfg
}

func TestReviewSuccess(t *testing.T) {
	caller := &fakeCaller{respond: answer(`{"confidence_delta": 0.1, "note": "phone number in contact block"}`)}
	r := NewReviewer(caller, testConfig())
	defer r.Close()

	delta, note, err := r.Review(context.Background(), "contact_info", "customers", candidate())
	require.NoError(t, err)
	assert.Equal(t, 0.1, delta)
	assert.Equal(t, "phone number in contact block", note)

	require.Len(t, caller.requests, 1)
	req := caller.requests[0]
	assert.Equal(t, "piiscan.review_field", req.Params.Name)
	assert.Equal(t, "default", req.Params.Arguments["model"])

	var sent ReviewRequest
	require.NoError(t, json.Unmarshal([]byte(req.Params.Arguments["input"].(string)), &sent))
	assert.Equal(t, "contact_info", sent.FieldName)
	assert.Equal(t, "customers", sent.TableName)
	assert.Equal(t, "phone", sent.PIIType)
	assert.Equal(t, []string{"GDPR"}, sent.Regulations)
	assert.Equal(t, sent.RequestID, req.Params.Arguments["request_id"])
}

func TestReviewParsesWrappedJSON(t *testing.T) {
	caller := &fakeCaller{respond: answer("Sure:\n```json\n{\"confidence_delta\": -0.2, \"note\": \"order reference\"}\n```")}
	r := NewReviewer(caller, testConfig())
	defer r.Close()

	delta, note, err := r.Review(context.Background(), "contact_info", "customers", candidate())
	require.NoError(t, err)
	assert.Equal(t, -0.2, delta)
	assert.Equal(t, "order reference", note)
}

func TestReviewUsesCache(t *testing.T) {
	caller := &fakeCaller{respond: answer(`{"confidence_delta": 0.05, "note": "ok"}`)}
	r := NewReviewer(caller, testConfig())
	defer r.Close()

	for i := 0; i < 3; i++ {
		_, _, err := r.Review(context.Background(), "contact_info", "customers", candidate())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), caller.calls.Load())

	// A different candidate type is a different key
	other := candidate()
	other.PIIType = core.PIIEmail
	_, _, err := r.Review(context.Background(), "contact_info", "customers", other)
	require.NoError(t, err)
	assert.Equal(t, int64(2), caller.calls.Load())

	// So is the same table in another schema
	archived := candidate()
	archived.SchemaName = "archive"
	_, _, err = r.Review(context.Background(), "contact_info", "customers", archived)
	require.NoError(t, err)
	assert.Equal(t, int64(3), caller.calls.Load())
}

func TestReviewSharedCacheStore(t *testing.T) {
	store := cache.NewMemoryStore(cache.MemoryConfig{}, nil)
	defer store.Close()
	require.NoError(t, store.Set(context.Background(), cache.Key("", "customers", "contact_info", "phone"),
		cache.Entry{Delta: 0.12, Note: "cached"}, time.Hour))

	caller := &fakeCaller{respond: answer(`{"confidence_delta": 0.0, "note": "fresh"}`)}
	r := NewReviewer(caller, testConfig(), WithCache(store))
	defer r.Close()

	delta, note, err := r.Review(context.Background(), "contact_info", "customers", candidate())
	require.NoError(t, err)
	assert.Equal(t, 0.12, delta)
	assert.Equal(t, "cached", note)
	assert.Zero(t, caller.calls.Load())
}

func TestReviewCoalescesConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	caller := &fakeCaller{respond: func(int64, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		<-release
		return textResult(`{"confidence_delta": 0.1, "note": "shared"}`), nil
	}}
	cfg := testConfig()
	cfg.CacheTTL = 0
	r := NewReviewer(caller, cfg)
	defer r.Close()

	var wg sync.WaitGroup
	notes := make([]string, 5)
	for i := range notes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, note, err := r.Review(context.Background(), "contact_info", "customers", candidate())
			assert.NoError(t, err)
			notes[i] = note
		}(i)
	}

	assert.Eventually(t, func() bool { return caller.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), caller.calls.Load())
	for _, note := range notes {
		assert.Equal(t, "shared", note)
	}
}

func TestReviewRetries(t *testing.T) {
	caller := &fakeCaller{respond: func(n int64, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if n < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return textResult(`{"confidence_delta": 0.03, "note": "third time"}`), nil
	}}
	r := NewReviewer(caller, testConfig())
	defer r.Close()

	_, note, err := r.Review(context.Background(), "contact_info", "customers", candidate())
	require.NoError(t, err)
	assert.Equal(t, "third time", note)
	assert.Equal(t, int64(3), caller.calls.Load())
}

func TestReviewFailures(t *testing.T) {
	tests := []struct {
		name     string
		respond  func(int64, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		category ErrorCategory
		calls    int64
	}{
		{
			name: "network errors exhaust retries",
			respond: func(int64, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, errors.New("connection refused")
			},
			category: ErrorCategoryNetwork,
			calls:    3,
		},
		{
			name: "deadline is not retried",
			respond: func(int64, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, context.DeadlineExceeded
			},
			category: ErrorCategoryTimeout,
			calls:    1,
		},
		{
			name: "tool error",
			respond: func(int64, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				res := textResult("model overloaded")
				res.IsError = true
				return res, nil
			},
			category: ErrorCategoryModel,
			calls:    1,
		},
		{
			name:     "not json",
			respond:  answer("I think it is a phone number"),
			category: ErrorCategoryValidation,
			calls:    1,
		},
		{
			name:     "delta out of range",
			respond:  answer(`{"confidence_delta": 3, "note": "very sure"}`),
			category: ErrorCategoryValidation,
			calls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeCaller{respond: tt.respond}
			r := NewReviewer(caller, testConfig())
			defer r.Close()

			_, _, err := r.Review(context.Background(), "contact_info", "customers", candidate())
			require.Error(t, err)
			assert.Equal(t, tt.category, CategoryOf(err))
			assert.Equal(t, tt.calls, caller.calls.Load())
		})
	}
}

func TestReviewRejectsEmptyNames(t *testing.T) {
	caller := &fakeCaller{respond: answer(`{"confidence_delta": 0, "note": ""}`)}
	r := NewReviewer(caller, testConfig())
	defer r.Close()

	_, _, err := r.Review(context.Background(), "", "customers", candidate())
	assert.Equal(t, ErrorCategoryValidation, CategoryOf(err))
	assert.Zero(t, caller.calls.Load())
}

func TestReviewRateLimited(t *testing.T) {
	caller := &fakeCaller{respond: answer(`{"confidence_delta": 0, "note": "fine"}`)}
	cfg := testConfig()
	cfg.RequestsPerMinute = 1
	cfg.Burst = 1
	cfg.Timeout = 50 * time.Millisecond
	r := NewReviewer(caller, cfg)
	defer r.Close()

	_, _, err := r.Review(context.Background(), "a", "t", candidate())
	require.NoError(t, err)

	_, _, err = r.Review(context.Background(), "b", "t", candidate())
	require.Error(t, err)
	assert.Equal(t, ErrorCategoryRateLimit, CategoryOf(err))
	assert.Equal(t, int64(1), caller.calls.Load())
}

func TestReviewCallerCancellation(t *testing.T) {
	caller := &fakeCaller{respond: func(int64, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		time.Sleep(100 * time.Millisecond)
		return textResult(`{"confidence_delta": 0, "note": "late"}`), nil
	}}
	r := NewReviewer(caller, testConfig())
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := r.Review(ctx, "contact_info", "customers", candidate())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReviewLogsFailures(t *testing.T) {
	observed, logs := observer.New(zap.DebugLevel)
	caller := &fakeCaller{respond: answer("nonsense")}
	r := NewReviewer(caller, testConfig(), WithReviewerLogger(zap.New(observed)))
	defer r.Close()

	_, _, err := r.Review(context.Background(), "contact_info", "customers", candidate())
	require.Error(t, err)

	failures := logs.FilterMessage("secondary review failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "validation", failures[0].ContextMap()["category"])
}

func TestReviewerClose(t *testing.T) {
	caller := &fakeCaller{respond: answer(`{}`)}
	r := NewReviewer(caller, testConfig())
	require.NoError(t, r.Close())
	assert.True(t, caller.closed)
}

func TestReviewerClosesOwnedCache(t *testing.T) {
	store := cache.NewMemoryStore(cache.MemoryConfig{}, nil)
	r := NewReviewer(&fakeCaller{respond: answer(`{}`)}, testConfig(), WithOwnedCache(store))
	require.NoError(t, r.Close())

	_, _, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, cache.ErrClosed)
}
