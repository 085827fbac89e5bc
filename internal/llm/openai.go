package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/internal/observability"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// OpenAIClient is the Client backed by the Chat Completions API's function
// calling, offered as a vendor-agnostic alternative to AnthropicClient.
type OpenAIClient struct {
	client  *openai.Client
	apiKey  string
	model   string
	system  string
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewOpenAIClient builds an OpenAIClient authenticated with apiKey.
func NewOpenAIClient(apiKey, model, system string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		apiKey: apiKey,
		model:  model,
		system: system,
	}
}

// HasCredentials reports whether this client was constructed with a
// non-empty API key.
func (c *OpenAIClient) HasCredentials() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

// SetMetrics attaches metrics this client's Send calls report request
// volume and latency against.
func (c *OpenAIClient) SetMetrics(metrics *observability.Metrics) {
	c.metrics = metrics
}

// SetTracer attaches a tracer this client's Send calls open an
// llm.openai client span under.
func (c *OpenAIClient) SetTracer(tracer *observability.Tracer) {
	c.tracer = tracer
}

// Send implements Client.
func (c *OpenAIClient) Send(ctx context.Context, messages []Message, tools []clinical.ToolDescriptor) (Response, error) {
	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.TraceLLMRequest(ctx, "openai", c.model)
		defer span.End()
	}

	start := time.Now()
	resp, err := c.send(ctx, messages, tools)

	if span != nil {
		c.tracer.RecordError(span, err)
	}
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.LLMRequestCounter.WithLabelValues("openai", c.model, status).Inc()
		c.metrics.LLMRequestDuration.WithLabelValues("openai", c.model).Observe(time.Since(start).Seconds())
	}
	return resp, err
}

func (c *OpenAIClient) send(ctx context.Context, messages []Message, tools []clinical.ToolDescriptor) (Response, error) {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if c.system != "" {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.system,
		})
	}

	converted, err := convertMessagesOpenAI(messages)
	if err != nil {
		return Response{}, fmt.Errorf("%w: convert messages: %v", errs.ErrParse, err)
	}
	chatMessages = append(chatMessages, converted...)

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: chatMessages,
	}
	if len(tools) > 0 {
		req.Tools = convertToolsOpenAI(tools)
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: openai chat completion: %v", errs.ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: openai returned no choices", errs.ErrUpstream)
	}

	return convertResponseOpenAI(resp.Choices[0]), nil
}

func convertMessagesOpenAI(messages []Message) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		var text string
		var toolCalls []openai.ToolCall
		for _, block := range msg.Content {
			switch block.Type {
			case BlockText:
				text += block.Text
			case BlockToolUse:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   block.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.Name,
						Arguments: string(block.Input),
					},
				})
			case BlockToolResult:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.Text,
					ToolCallID: block.ID,
				})
			}
		}

		if text != "" || len(toolCalls) > 0 {
			out = append(out, openai.ChatCompletionMessage{
				Role:      role,
				Content:   text,
				ToolCalls: toolCalls,
			})
		}
	}
	return out, nil
}

func convertToolsOpenAI(tools []clinical.ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		var params any
		if len(tool.InputSchema) > 0 {
			_ = json.Unmarshal(tool.InputSchema, &params)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func convertResponseOpenAI(choice openai.ChatCompletionChoice) Response {
	resp := Response{StopReason: mapFinishReason(string(choice.FinishReason))}
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.Content = append(resp.Content, Block{
			Type:  BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp
}

func mapFinishReason(raw string) StopReason {
	switch raw {
	case "tool_calls":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}
