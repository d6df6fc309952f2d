package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/scriptforge/internal/config"
	"github.com/michaelbrown/scriptforge/internal/diagnostics"
	"github.com/michaelbrown/scriptforge/internal/engine"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/sandbox"
	"github.com/michaelbrown/scriptforge/internal/script"
)

func main() {
	s := server.NewMCPServer("scriptforge-script-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "run_script",
		Description: "Execute a Python script under an isolation policy. The script is syntax-checked and security-scanned before it runs.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "Python source code to execute",
				},
				"policy": map[string]any{
					"type":        "string",
					"description": "Isolation policy: host, host-venv, container, container-venv (default: config)",
				},
				"timeout_seconds": map[string]any{
					"type":        "number",
					"description": "Max run time in seconds (default: config)",
				},
			},
			Required: []string{"source"},
		},
	}, handleRunScript)

	s.AddTool(mcp.Tool{
		Name:        "check_script",
		Description: "Check a Python script without running it. Kinds: syntax, lint (ruff), security (bandit).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "Python source code to check",
				},
				"kind": map[string]any{
					"type":        "string",
					"description": "Check to run: syntax, lint, or security",
				},
			},
			Required: []string{"source", "kind"},
		},
	}, handleCheckScript)

	if err := server.ServeStdio(s); err != nil {
		fmt.Printf("server error: %v\n", err)
	}
}

// newEngine wires a standalone engine; the tool process has no web server
// or store, so runs are not recorded.
func newEngine() (*engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	policy, err := sandbox.ParsePolicy(cfg.Engine.Policy)
	if err != nil {
		return nil, err
	}
	ws, err := script.NewWorkspace(cfg.Engine.ScriptsDir)
	if err != nil {
		return nil, err
	}

	gate := diagnostics.NewGate(cfg.Engine.Python)
	gate.PythonFallback = cfg.Engine.PythonFallback

	prov := sandbox.NewProvisioner(sandbox.Config{
		Python:         cfg.Engine.Python,
		PythonFallback: cfg.Engine.PythonFallback,
		VenvBase:       cfg.Sandbox.VenvDir,
		Image:          cfg.Sandbox.Image,
		Memory:         cfg.Sandbox.Memory,
		PidsLimit:      cfg.Sandbox.PidsLimit,
	})

	return engine.New(engine.Config{
		Gate:        gate,
		Provisioner: prov,
		Workspace:   ws,
		Bus:         events.NewBus(),
		Policy:      policy,
		Timeout:     time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
	}), nil
}

func handleRunScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	source, _ := args["source"].(string)
	if source == "" {
		return errResult("error: 'source' is required"), nil
	}

	eng, err := newEngine()
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	var opts engine.Options
	if policyStr, _ := args["policy"].(string); policyStr != "" {
		policy, err := sandbox.ParsePolicy(policyStr)
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		opts.Policy = policy
	}
	if secs, _ := args["timeout_seconds"].(float64); secs > 0 {
		opts.Timeout = time.Duration(secs) * time.Second
	}

	result, err := eng.Execute(ctx, source, opts)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	var output strings.Builder
	if result.Stdout != "" {
		output.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n" + result.Stderr)
	}
	if result.ExitCode != nil && *result.ExitCode != 0 {
		output.WriteString(fmt.Sprintf("\nexit code: %d", *result.ExitCode))
	}

	text := output.String()
	if len(text) > 4000 {
		text = text[:4000] + "\n... (output truncated)"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: !result.Success(),
	}, nil
}

func handleCheckScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	source, _ := args["source"].(string)
	kind, _ := args["kind"].(string)
	if source == "" || kind == "" {
		return errResult("error: 'source' and 'kind' are required"), nil
	}

	eng, err := newEngine()
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	switch kind {
	case "syntax":
		if err := eng.CheckSyntax(ctx, source); err != nil {
			var synErr *diagnostics.SyntaxError
			if errors.As(err, &synErr) {
				return errResult(synErr.Error()), nil
			}
			if errors.Is(err, diagnostics.ErrUnavailable) {
				return textResult("syntax check skipped: python not available"), nil
			}
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		return textResult("syntax: ok"), nil

	case "lint":
		res, err := eng.CheckLint(ctx, source)
		if errors.Is(err, diagnostics.ErrUnavailable) {
			return textResult("lint skipped: ruff not installed"), nil
		}
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		if res.Passed {
			return textResult("lint: clean"), nil
		}
		return textResult(res.Text()), nil

	case "security":
		res, err := eng.CheckSecurity(ctx, source)
		if errors.Is(err, diagnostics.ErrUnavailable) {
			return textResult("security scan skipped: bandit not installed"), nil
		}
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		if res.Passed {
			return textResult("security: clean"), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: res.Text()}},
			IsError: res.HasHighSeverity,
		}, nil

	default:
		return errResult(fmt.Sprintf("error: unsupported kind %q", kind)), nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
