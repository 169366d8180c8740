package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SamuelRCrider/piiscan/core"
	"github.com/SamuelRCrider/piiscan/rules"
	"github.com/SamuelRCrider/piiscan/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	rs, err := core.ParseRuleset(rules.DefaultRuleset)
	require.NoError(t, err)
	lib, err := core.NewPatternLibrary(rs)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	orch, err := core.NewOrchestrator(lib, core.DefaultOrchestratorConfig(), core.WithMetrics(core.NewMetrics(reg)))
	require.NoError(t, err)

	return NewRouter(NewHandlers(orch, lib, nil), reg)
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	router := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "2.0.0", resp.RulesetVersion)
	assert.Positive(t, resp.Patterns)
}

func TestHandleClassify(t *testing.T) {
	router := setupTestRouter(t)

	body := `{
		"tables": {
			"patients": [{"name": "ssn", "data_type": "char(11)"}],
			"customers": [{"name": "email_address", "data_type": "varchar"}],
			"logs": [{"name": "created_at", "data_type": "timestamp"}]
		},
		"regulations": ["gdpr", "ccpa"]
	}`

	w := post(router, "/v1/classify", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ClassifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Zero(t, resp.Unfinished)
	require.Len(t, resp.Fields, 3)
	assert.Equal(t, 3, resp.Summary.TotalFields)

	byKey := map[string]core.FieldAnalysis{}
	for _, f := range resp.Fields {
		byKey[f.Key()] = f
	}

	ssn := byKey["patients.ssn"]
	assert.True(t, ssn.IsSensitive)
	assert.Equal(t, core.PIISSN, ssn.PIIType)
	assert.Contains(t, ssn.ApplicableRegulations, core.RegulationHIPAA)

	email := byKey["customers.email_address"]
	assert.Equal(t, core.PIIEmail, email.PIIType)
	assert.ElementsMatch(t, []core.Regulation{core.RegulationGDPR, core.RegulationCCPA}, email.ApplicableRegulations)

	assert.False(t, byKey["logs.created_at"].IsSensitive)
}

func TestHandleClassifyDefaultsToGDPR(t *testing.T) {
	router := setupTestRouter(t)

	w := post(router, "/v1/classify", `{"tables": {"users": [{"name": "phone"}]}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ClassifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, []core.Regulation{core.RegulationGDPR}, resp.Fields[0].ApplicableRegulations)
}

func TestHandleClassifyBadRequests(t *testing.T) {
	router := setupTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"tables": `},
		{"missing tables", `{"regulations": ["GDPR"]}`},
		{"unknown regulation", `{"tables": {"t": [{"name": "a"}]}, "regulations": ["PCI"]}`},
		{"empty schema", `{"tables": {}}`},
		{"empty column name", `{"tables": {"t": [{"name": ""}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(router, "/v1/classify", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, string(core.CategoryInvalidInput), resp.Category)
		})
	}
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, utils.Schema, []core.Regulation) (*core.BatchResult, error) {
	return nil, errors.New("unexpected")
}

func TestHandleClassifyInternalError(t *testing.T) {
	router := NewRouter(NewHandlers(failingRunner{}, nil, nil), nil)

	w := post(router, "/v1/classify", `{"tables": {"t": [{"name": "a"}]}}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupTestRouter(t)

	w := post(router, "/v1/classify", `{"tables": {"customers": [{"name": "email_address"}]}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("piiscan_tasks_total")))
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte(`pattern_id="email"`)))
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), zap.NewNop())
	}()
	cancel()
	assert.NoError(t, <-done)
}
