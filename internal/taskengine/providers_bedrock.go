package taskengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"taskengine.dev/engine/common/llm"
)

// BedrockConfig configures the hosted-fallback Bedrock AgentClient leg.
type BedrockConfig struct {
	Model string
}

type bedrockClient struct {
	runtime *bedrockruntime.Client
	model   string
}

// NewBedrockAgentClient wraps an AWS Bedrock Converse API client as an
// llm.AgentClient, giving the Router a real hosted-fallback leg. Grounded on
// goadesign-goa-ai's features/model/bedrock/client.go Converse adapter,
// the only pack repo importing aws-sdk-go-v2/service/bedrockruntime —
// simplified here to the single-turn request/response shape AgentClient needs
// rather than that adapter's streaming/thinking/caching feature set.
func NewBedrockAgentClient(runtime *bedrockruntime.Client, cfg BedrockConfig) (llm.AgentClient, error) {
	if runtime == nil {
		return nil, fmt.Errorf("bedrock runtime client is required")
	}
	model := cfg.Model
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &bedrockClient{runtime: runtime, model: model}, nil
}

func (c *bedrockClient) Model() string { return c.model }

func (c *bedrockClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	messages, system, err := encodeBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode bedrock messages: %w", err)
	}

	maxTokens := int32(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 8192
	}
	inference := &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(maxTokens)}
	if req.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*req.Temperature))
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(c.model),
		Messages:        messages,
		System:          system,
		InferenceConfig: inference,
	}
	if toolConfig := encodeBedrockTools(req.Tools); toolConfig != nil {
		input.ToolConfig = toolConfig
	}

	start := time.Now()
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}
	_ = time.Since(start)

	return translateBedrockResponse(output)
}

func encodeBedrockMessages(msgs []llm.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message

	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: msg.Content})
		case "user":
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: msg.Content}},
			})
		case "assistant":
			var blocks []brtypes.ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     toDocument(tc.Arguments),
					},
				})
			}
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
		case "tool":
			messages = append(messages, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(msg.ToolCallID),
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: msg.Content}},
					},
				}},
			})
		}
	}
	return messages, system, nil
}

func encodeBedrockTools(tools []llm.Tool) *brtypes.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(t.Parameters)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: specs}
}

func translateBedrockResponse(output *bedrockruntime.ConverseOutput) (*llm.AgentResponse, error) {
	if output == nil {
		return nil, fmt.Errorf("bedrock: nil response")
	}
	resp := &llm.AgentResponse{FinishReason: string(output.StopReason)}

	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Content += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = *v.Value.Name
				}
				id := ""
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				args, _ := json.Marshal(decodeBedrockDocument(v.Value.Input))
				resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{ID: id, Name: name, Arguments: string(args)})
			}
		}
	}

	if usage := output.Usage; usage != nil {
		if usage.InputTokens != nil {
			resp.PromptTokens = int(*usage.InputTokens)
		}
		if usage.OutputTokens != nil {
			resp.CompletionTokens = int(*usage.OutputTokens)
		}
	}

	return resp, nil
}

func toDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func decodeBedrockDocument(doc document.Interface) any {
	if doc == nil {
		return map[string]any{}
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return map[string]any{}
	}
	return v
}
