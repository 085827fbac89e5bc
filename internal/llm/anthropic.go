package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/internal/observability"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient is the Client backed by Anthropic's Messages API. Unlike
// the streaming loop a chat product needs, the tool-use driver only ever
// needs one full turn at a time, so this wraps the SDK's non-streaming
// Messages.New call.
type AnthropicClient struct {
	client    anthropic.Client
	apiKey    string
	model     string
	system    string
	maxTokens int64
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewAnthropicClient builds an AnthropicClient authenticated with apiKey,
// using model for every Send call.
func NewAnthropicClient(apiKey, model, system string) *AnthropicClient {
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		apiKey:    apiKey,
		model:     model,
		system:    system,
		maxTokens: defaultAnthropicMaxTokens,
	}
}

// HasCredentials reports whether this client was constructed with a
// non-empty API key. The tool-use driver checks this before running its
// loop so a missing credential short-circuits to an empty result instead
// of making a call doomed to fail upstream.
func (c *AnthropicClient) HasCredentials() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

// SetMetrics attaches metrics this client's Send calls report request
// volume and latency against.
func (c *AnthropicClient) SetMetrics(metrics *observability.Metrics) {
	c.metrics = metrics
}

// SetTracer attaches a tracer this client's Send calls open an
// llm.anthropic client span under.
func (c *AnthropicClient) SetTracer(tracer *observability.Tracer) {
	c.tracer = tracer
}

// Send implements Client.
func (c *AnthropicClient) Send(ctx context.Context, messages []Message, tools []clinical.ToolDescriptor) (Response, error) {
	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.TraceLLMRequest(ctx, "anthropic", c.model)
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
		c.metrics.LLMRequestCounter.WithLabelValues("anthropic", c.model, status).Inc()
		c.metrics.LLMRequestDuration.WithLabelValues("anthropic", c.model).Observe(time.Since(start).Seconds())
	}
	return resp, err
}

func (c *AnthropicClient) send(ctx context.Context, messages []Message, tools []clinical.ToolDescriptor) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}

	msgParams, err := convertMessages(messages)
	if err != nil {
		return Response{}, fmt.Errorf("%w: convert messages: %v", errs.ErrParse, err)
	}
	params.Messages = msgParams

	if len(tools) > 0 {
		toolParams, err := convertTools(tools)
		if err != nil {
			return Response{}, fmt.Errorf("%w: convert tools: %v", errs.ErrParse, err)
		}
		params.Tools = toolParams
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("%w: anthropic messages.new: %v", errs.ErrUpstream, err)
	}

	return convertResponse(message), nil
}

func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case BlockText:
				content = append(content, anthropic.NewTextBlock(block.Text))
			case BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ID, block.Text, block.IsError))
			case BlockToolUse:
				var input map[string]any
				if len(block.Input) > 0 {
					if err := json.Unmarshal(block.Input, &input); err != nil {
						return nil, fmt.Errorf("tool_use input for %s: %w", block.Name, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))
			}
		}

		var message anthropic.MessageParam
		if msg.Role == RoleAssistant {
			message = anthropic.NewAssistantMessage(content...)
		} else {
			message = anthropic.NewUserMessage(content...)
		}
		result = append(result, message)
	}
	return result, nil
}

func convertTools(tools []clinical.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("input schema for %s: %w", tool.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func convertResponse(message *anthropic.Message) Response {
	resp := Response{StopReason: mapStopReason(string(message.StopReason))}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content = append(resp.Content, TextBlock(block.Text))
		case "tool_use":
			resp.Content = append(resp.Content, Block{
				Type:  BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.Input),
			})
		}
	}
	return resp
}

func mapStopReason(raw string) StopReason {
	switch raw {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}
