package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/parleyhq/parley/internal/config"
)

// MCPProvider executes tools against an MCP server, either a local
// stdio process or a remote streamable-HTTP endpoint.
type MCPProvider struct {
	session *mcp.ClientSession
	timeout time.Duration
	logger  *slog.Logger
}

// NewMCPProvider connects to the configured MCP server. Exactly one of
// ToolEndpoint and ToolCommand must be set.
func NewMCPProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*MCPProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var transport mcp.Transport
	switch {
	case cfg.ToolEndpoint != "" && cfg.ToolCommand != "":
		return nil, fmt.Errorf("tool endpoint and tool command are mutually exclusive")
	case cfg.ToolEndpoint != "":
		transport = &mcp.StreamableClientTransport{Endpoint: cfg.ToolEndpoint}
	case cfg.ToolCommand != "":
		transport = &mcp.CommandTransport{
			Command: exec.Command(cfg.ToolCommand, cfg.ToolArgs...),
		}
	default:
		return nil, fmt.Errorf("no tool provider configured")
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "parley",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to tool provider: %w", err)
	}

	logger.Info("connected to tool provider",
		"endpoint", cfg.ToolEndpoint,
		"command", cfg.ToolCommand,
	)

	return &MCPProvider{
		session: session,
		timeout: cfg.ToolTimeout,
		logger:  logger,
	}, nil
}

// Tools lists the server's tools.
func (p *MCPProvider) Tools(ctx context.Context) ([]Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	out := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaFromWire(t.Name, t.InputSchema, p.logger),
		})
	}
	return out, nil
}

// schemaFromWire converts a tool's wire-format input schema (untyped
// JSON) into a typed schema. A schema that does not convert yields nil,
// which disables pre-call argument validation for that tool; the server
// still validates on its side.
func schemaFromWire(name string, v any, logger *slog.Logger) *jsonschema.Schema {
	if v == nil {
		return nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warn("unusable tool input schema", "tool", name, "error", err)
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		logger.Warn("unusable tool input schema", "tool", name, "error", err)
		return nil
	}
	return &schema
}

// Call executes one tool with the configured timeout. A timeout or an
// error-flagged result is an ordinary failure feeding the correction
// cycle.
func (p *MCPProvider) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("calling tool %q: %w", name, err)
	}

	text := textContent(res)
	if res.IsError {
		return "", fmt.Errorf("tool %q reported error: %s", name, text)
	}
	return text, nil
}

// Close shuts down the session and, for stdio transports, the server
// process.
func (p *MCPProvider) Close() error {
	if err := p.session.Close(); err != nil {
		return fmt.Errorf("closing tool provider session: %w", err)
	}
	return nil
}

func textContent(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
