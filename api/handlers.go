package api

import (
	"errors"
	"net/http"

	"github.com/SamuelRCrider/piiscan/core"
	"github.com/SamuelRCrider/piiscan/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClassifyRequest is the body of POST /v1/classify
type ClassifyRequest struct {
	Tables      map[string][]utils.ColumnDescriptor `json:"tables" binding:"required"`
	Regulations []string                            `json:"regulations"`
}

// ClassifyResponse carries the consolidated fields and run statistics
type ClassifyResponse struct {
	RunID          string               `json:"run_id"`
	RulesetVersion string               `json:"ruleset_version"`
	Fields         []core.FieldAnalysis `json:"fields"`
	Summary        core.Summary         `json:"summary"`
	Unfinished     int                  `json:"unfinished"`
	Failed         int                  `json:"failed"`
	Reviewed       int                  `json:"reviewed"`
	DurationMs     int64                `json:"duration_ms"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status         string `json:"status"`
	RulesetVersion string `json:"ruleset_version"`
	Patterns       int    `json:"patterns"`
}

// ErrorResponse is returned for any failed request
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// HandleHealth reports liveness and the loaded ruleset
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		RulesetVersion: h.rulesetVersion,
		Patterns:       h.patternCount,
	})
}

// HandleClassify classifies the posted schema. Regulations default to GDPR.
func (h *Handlers) HandleClassify(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Category: string(core.CategoryInvalidInput)})
		return
	}

	names := req.Regulations
	if len(names) == 0 {
		names = []string{string(core.RegulationGDPR)}
	}
	regs := make([]core.Regulation, 0, len(names))
	for _, name := range names {
		reg, err := core.ParseRegulation(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Category: string(core.CategoryInvalidInput)})
			return
		}
		regs = append(regs, reg)
	}

	result, err := h.runner.Run(c.Request.Context(), utils.Schema(req.Tables), regs)
	if err != nil {
		status := http.StatusInternalServerError
		category := ""
		var classErr *core.ClassificationError
		if errors.As(err, &classErr) {
			category = string(classErr.Category)
		}
		if errors.Is(err, core.ErrInvalidInput) {
			status = http.StatusBadRequest
		} else {
			h.logger.Error("classification failed", zap.Error(err))
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Category: category})
		return
	}

	c.JSON(http.StatusOK, ClassifyResponse{
		RunID:          result.RunID,
		RulesetVersion: h.rulesetVersion,
		Fields:         result.Fields,
		Summary:        core.Summarize(result.Fields),
		Unfinished:     result.Unfinished,
		Failed:         result.Failed,
		Reviewed:       result.Reviewed,
		DurationMs:     result.Duration.Milliseconds(),
	})
}
