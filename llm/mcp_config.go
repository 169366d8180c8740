package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MCPServerConfig holds configuration for connecting to MCP servers
type MCPServerConfig struct {
	// Path to the MCP server executable or empty string for HTTP
	Path string

	// URL for HTTP transport (if Path is empty)
	URL string

	// Transport type: "stdio" or "http"
	Transport string

	// Environment passed to a stdio server as KEY=value pairs
	Env map[string]string

	// Arguments passed to a stdio server
	Args []string
}

// environ renders Env as KEY=value pairs in a stable order
func (c MCPServerConfig) environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	env := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}

// DiscoverMCPServers tries to discover available MCP servers using various methods
func DiscoverMCPServers() ([]MCPServerConfig, error) {
	servers := []MCPServerConfig{}

	// 1. Check environment variables
	if serverPath := os.Getenv("MCP_SERVER_PATH"); serverPath != "" {
		servers = append(servers, MCPServerConfig{
			Path:      serverPath,
			Transport: "stdio",
		})
	}

	if serverURL := os.Getenv("MCP_SERVER_URL"); serverURL != "" {
		servers = append(servers, MCPServerConfig{
			URL:       serverURL,
			Transport: "http",
		})
	}

	// 2. Check common installation locations
	commonPaths := []string{
		"./piiscan-reviewer",
		filepath.Join(os.Getenv("HOME"), ".local/bin/piiscan-reviewer"),
		"/usr/local/bin/piiscan-reviewer",
	}

	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			servers = append(servers, MCPServerConfig{
				Path:      path,
				Transport: "stdio",
			})
		}
	}

	// 3. Parse MCP_SERVERS environment variable (comma-separated list)
	if serverList := os.Getenv("MCP_SERVERS"); serverList != "" {
		for _, server := range strings.Split(serverList, ",") {
			server = strings.TrimSpace(server)
			if server == "" {
				continue
			}
			servers = append(servers, serverConfigFor(server))
		}
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("no MCP servers discovered; please set MCP_SERVER_PATH, MCP_SERVER_URL, or MCP_SERVERS environment variable")
	}

	return servers, nil
}

// GetMCPServerConfig returns an appropriate MCP server configuration.
// A non-empty serverPath takes precedence over discovery.
func GetMCPServerConfig(serverPath string) (*MCPServerConfig, error) {
	if serverPath != "" {
		c := serverConfigFor(serverPath)
		return &c, nil
	}

	servers, err := DiscoverMCPServers()
	if err != nil {
		return nil, err
	}

	// Return the first available server
	return &servers[0], nil
}

func serverConfigFor(location string) MCPServerConfig {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return MCPServerConfig{URL: location, Transport: "http"}
	}
	return MCPServerConfig{Path: location, Transport: "stdio"}
}

// DefaultReviewerConfig returns the stock reviewer settings
func DefaultReviewerConfig() ReviewerConfig {
	return ReviewerConfig{
		ToolName:          "piiscan.review_field",
		Model:             "default",
		Temperature:       0.0,
		MaxTokens:         256,
		Timeout:           10 * time.Second,
		RetryCount:        2,
		RetryBackoff:      250 * time.Millisecond,
		RequestsPerMinute: 60,
		Burst:             4,
		CacheTTL:          time.Hour,
		AuditLevel:        "standard",
		ResponseValidation: ValidationConfig{
			MaxNoteLength: 200,
		},
	}
}

// LoadReviewerConfig fills unset fields of config from defaults and, for
// the tool name and model, from MCP_TOOL_NAME and MCP_MODEL.
func LoadReviewerConfig(config *ReviewerConfig) ReviewerConfig {
	defaults := DefaultReviewerConfig()
	if config == nil {
		config = &defaults
		if toolName := os.Getenv("MCP_TOOL_NAME"); toolName != "" {
			config.ToolName = toolName
		}
		if model := os.Getenv("MCP_MODEL"); model != "" {
			config.Model = model
		}
		return *config
	}

	out := *config
	if out.ToolName == "" {
		out.ToolName = envOr("MCP_TOOL_NAME", defaults.ToolName)
	}
	if out.Model == "" {
		out.Model = envOr("MCP_MODEL", defaults.Model)
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaults.MaxTokens
	}
	if out.Timeout == 0 {
		out.Timeout = defaults.Timeout
	}
	if out.RetryBackoff == 0 {
		out.RetryBackoff = defaults.RetryBackoff
	}
	if out.Burst == 0 {
		out.Burst = defaults.Burst
	}
	if out.AuditLevel == "" {
		out.AuditLevel = defaults.AuditLevel
	}
	if out.ResponseValidation.MaxNoteLength == 0 {
		out.ResponseValidation.MaxNoteLength = defaults.ResponseValidation.MaxNoteLength
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
