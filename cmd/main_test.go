package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/SamuelRCrider/piiscan"
	"github.com/SamuelRCrider/piiscan/core"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSchema = `tables:
  customers:
    - name: email_address
      data_type: varchar(255)
    - name: created_at
      data_type: timestamp
  patient_visits:
    - name: diagnosis_code
      data_type: varchar(16)
`

// execute runs the root command with a missing config file so defaults apply
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeSchema(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0644))
	return path
}

func TestParseRegulations(t *testing.T) {
	regs, err := parseRegulations([]string{"gdpr,HIPAA", " ccpa ", ""})
	require.NoError(t, err)
	assert.Equal(t, []core.Regulation{core.RegulationGDPR, core.RegulationHIPAA, core.RegulationCCPA}, regs)

	_, err = parseRegulations([]string{"GDPR", "SOX"})
	assert.Error(t, err)
}

func TestClassifyCommandJSON(t *testing.T) {
	out, err := execute(t, "classify", "--schema", writeSchema(t), "--regulation", "GDPR,HIPAA")
	require.NoError(t, err)

	var doc classifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.NotEmpty(t, doc.RunID)
	assert.NotEmpty(t, doc.RulesetVersion)
	assert.Equal(t, 3, doc.Summary.TotalFields)
	assert.Zero(t, doc.Unfinished)

	byKey := make(map[string]core.FieldAnalysis)
	for _, f := range doc.Fields {
		byKey[f.Key()] = f
	}
	assert.True(t, byKey["customers.email_address"].IsSensitive)
	assert.False(t, byKey["customers.created_at"].IsSensitive)
}

func TestClassifyCommandTable(t *testing.T) {
	out, err := execute(t, "classify", "--schema", writeSchema(t), "--format", "table")
	require.NoError(t, err)

	assert.Contains(t, out, "FIELD")
	assert.Contains(t, out, "customers.email_address")
	assert.Contains(t, out, "3 fields")
}

func TestClassifyCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no schema", args: []string{"classify"}},
		{name: "unknown format", args: []string{"classify", "--schema", "x.yaml", "--format", "xml"}},
		{name: "unknown regulation", args: []string{"classify", "--schema", writeSchema(t), "--regulation", "SOX"}},
		{name: "missing schema file", args: []string{"classify", "--schema", filepath.Join(t.TempDir(), "nope.yaml")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestRulesValidateDefault(t *testing.T) {
	out, err := execute(t, "rules", "validate")
	require.NoError(t, err)

	lib, err := piiscan.DefaultLibrary()
	require.NoError(t, err)
	assert.Contains(t, out, "embedded default")
	assert.Contains(t, out, "version:  "+lib.Version())
	assert.Contains(t, out, "hash:     "+lib.Hash())
	assert.Contains(t, out, "regex: ")
}

func TestRulesExportThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")

	out, err := execute(t, "rules", "export", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	out, err = execute(t, "rules", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ruleset:  "+path)

	_, err = execute(t, "rules", "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func newToolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = classifyToolName
	req.Params.Arguments = args
	return req
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestClassifyToolHandler(t *testing.T) {
	lib, err := piiscan.DefaultLibrary()
	require.NoError(t, err)
	orch, err := core.NewOrchestrator(lib, core.DefaultOrchestratorConfig())
	require.NoError(t, err)
	handler := classifyToolHandler(orch, lib, zap.NewNop())

	t.Run("classifies", func(t *testing.T) {
		res, err := handler(t.Context(), newToolRequest(map[string]interface{}{
			"schema":      testSchema,
			"regulations": "GDPR,HIPAA",
		}))
		require.NoError(t, err)
		require.False(t, res.IsError, toolText(t, res))

		var doc classifyOutput
		require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &doc))
		assert.Equal(t, lib.Version(), doc.RulesetVersion)
		assert.Len(t, doc.Fields, 3)
	})

	t.Run("json schema", func(t *testing.T) {
		res, err := handler(t.Context(), newToolRequest(map[string]interface{}{
			"schema": `{"tables": {"users": [{"name": "ssn"}]}}`,
		}))
		require.NoError(t, err)
		require.False(t, res.IsError, toolText(t, res))
		assert.Contains(t, toolText(t, res), `"users"`)
	})

	errorCases := map[string]map[string]interface{}{
		"missing schema":     {},
		"unparseable schema": {"schema": "tables: ["},
		"bad regulation":     {"schema": testSchema, "regulations": "SOX"},
	}
	for name, args := range errorCases {
		t.Run(name, func(t *testing.T) {
			res, err := handler(t.Context(), newToolRequest(args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}
