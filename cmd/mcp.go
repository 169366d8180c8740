package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SamuelRCrider/piiscan"
	"github.com/SamuelRCrider/piiscan/core"
	"github.com/SamuelRCrider/piiscan/schema"
	"github.com/SamuelRCrider/piiscan/utils"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const classifyToolName = "piiscan.classify_schema"

func newMCPCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose schema classification as an MCP tool over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs stay on stderr
			logger, cleanup, err := global.logger(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			svc, err := piiscan.NewService(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			s := server.NewMCPServer("piiscan", version)
			s.AddTool(classifyTool(), classifyToolHandler(svc.Orchestrator, svc.Library, logger))

			logger.Info("mcp server ready", zap.String("tool", classifyToolName))
			return server.ServeStdio(s)
		},
	}
}

func classifyTool() mcp.Tool {
	return mcp.NewTool(classifyToolName,
		mcp.WithDescription("Classify database columns as personal or health data under GDPR, HIPAA and CCPA"),
		mcp.WithString("schema",
			mcp.Required(),
			mcp.Description(`Schema document as YAML or JSON: {"tables": {"customers": [{"name": "email", "data_type": "varchar(255)"}]}}`),
		),
		mcp.WithString("regulations",
			mcp.Description("Comma separated regulations, defaults to GDPR"),
		),
	)
}

// schemaRunner is the part of the orchestrator the tool needs
type schemaRunner interface {
	Run(ctx context.Context, tables utils.Schema, regulations []core.Regulation) (*core.BatchResult, error)
}

func classifyToolHandler(runner schemaRunner, lib *core.PatternLibrary, logger *zap.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, ok := request.Params.Arguments["schema"].(string)
		if !ok || strings.TrimSpace(doc) == "" {
			return mcp.NewToolResultError("schema argument is required"), nil
		}
		tables, err := schema.Parse([]byte(doc))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		names := []string{"GDPR"}
		if raw, ok := request.Params.Arguments["regulations"].(string); ok && strings.TrimSpace(raw) != "" {
			names = []string{raw}
		}
		regs, err := parseRegulations(names)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := runner.Run(ctx, tables, regs)
		if err != nil {
			logger.Warn("classify tool failed", zap.Error(err))
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload, err := json.Marshal(newClassifyOutput(result, lib.Version()))
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}
