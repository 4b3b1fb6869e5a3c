package taskengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"taskengine.dev/engine/common/llm"
)

// OllamaConfig configures the local-first AgentClient leg.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

type ollamaClient struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewOllamaAgentClient wraps a local Ollama-compatible /api/chat endpoint as
// an llm.AgentClient. No example repo in the pack imports an Ollama SDK, so
// this talks to Ollama's native /api/chat endpoint directly over
// net/http — the one stdlib-justified AgentClient implementation, recorded
// in DESIGN.md.
func NewOllamaAgentClient(cfg OllamaConfig) (llm.AgentClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	return &ollamaClient{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *ollamaClient) Model() string { return c.model }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaToolCallFunction `json:"function"`
}

type ollamaToolCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaChatResponse struct {
	Message struct {
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (c *ollamaClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	body := ollamaChatRequest{
		Model:    c.model,
		Messages: convertOllamaMessages(req.Messages),
		Tools:    convertOllamaTools(req.Tools),
		Stream:   false,
		Options: ollamaOptions{
			NumPredict: req.MaxTokens,
		},
	}
	if req.Temperature != nil {
		body.Options.Temperature = *req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama request: status %d", resp.StatusCode)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}

	result := &llm.AgentResponse{
		Content:          chatResp.Message.Content,
		FinishReason:     chatResp.DoneReason,
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
	}
	for i, tc := range chatResp.Message.ToolCalls {
		args, _ := json.Marshal(tc.Function.Arguments)
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        fmt.Sprintf("%s-%d", tc.Function.Name, i),
			Name:      tc.Function.Name,
			Arguments: string(args),
		})
	}
	return result, nil
}

func convertOllamaMessages(msgs []llm.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role == "tool" {
			role = "tool"
		}
		out = append(out, ollamaMessage{Role: role, Content: m.Content})
	}
	return out
}

func convertOllamaTools(tools []llm.Tool) []ollamaTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
