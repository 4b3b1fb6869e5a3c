package taskengine

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"taskengine.dev/engine/internal/model"
)

// RegisterBuiltinTools adds the small set of general-purpose tools every
// deployment gets regardless of its domain-specific ToolHandler catalog:
// reading a local file, fetching a URL, and running a shell command. These
// stand in for the external-collaborator tools spec.md §4.C describes as
// "supplied by the embedding application" — a real deployment is expected
// to register far more through the same Registry.Register call.
func RegisterBuiltinTools(r *Registry) {
	r.Register(ToolDefinition{
		Name:        "read_file",
		Description: "Read the contents of a local file by path.",
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []any{"path"},
		},
		RiskLevel:      model.RiskLevelLow,
		TimeoutSeconds: 5,
		Category:       "filesystem",
		Handler:        readFileHandler,
	})

	r.Register(ToolDefinition{
		Name:        "fetch_url",
		Description: "Fetch a URL over HTTP GET and return its body, truncated to 64KB.",
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string"},
			},
			"required": []any{"url"},
		},
		RiskLevel:      model.RiskLevelMedium,
		TimeoutSeconds: 20,
		Category:       "network",
		Handler:        fetchURLHandler,
	})

	r.Register(ToolDefinition{
		Name:        "run_command",
		Description: "Run a shell command and return its combined stdout/stderr. High risk: requires approval.",
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
				"args":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"command"},
		},
		RiskLevel:        model.RiskLevelHigh,
		RequiresApproval: true,
		TimeoutSeconds:   60,
		Category:         "shell",
		Handler:          runCommandHandler,
	})
}

const maxFetchBody = 64 * 1024

func readFileHandler(_ context.Context, args map[string]any) (model.ToolResult, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return model.ToolResult{Success: false, Error: "path is required"}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ToolResult{Success: false, Error: err.Error()}, nil
	}
	return model.ToolResult{Success: true, Output: string(data)}, nil
}

func fetchURLHandler(ctx context.Context, args map[string]any) (model.ToolResult, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return model.ToolResult{Success: false, Error: "url is required"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.ToolResult{Success: false, Error: err.Error()}, nil
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return model.ToolResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return model.ToolResult{Success: false, Error: err.Error()}, nil
	}

	if resp.StatusCode >= 400 {
		return model.ToolResult{Success: false, Error: resp.Status, Output: string(body)}, nil
	}
	return model.ToolResult{Success: true, Output: string(body)}, nil
}

func runCommandHandler(ctx context.Context, args map[string]any) (model.ToolResult, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return model.ToolResult{Success: false, Error: "command is required"}, nil
	}

	var cmdArgs []string
	if raw, ok := args["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				cmdArgs = append(cmdArgs, s)
			}
		}
	}

	cmd := exec.CommandContext(ctx, command, cmdArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return model.ToolResult{Success: false, Error: err.Error(), Output: string(out)}, nil
	}
	return model.ToolResult{Success: true, Output: string(out)}, nil
}
