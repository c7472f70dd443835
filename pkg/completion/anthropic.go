package completion

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cortexd/cortexd/pkg/errs"
)

const anthropicDefaultModel = "claude-sonnet-4-5"

// AnthropicEndpoint is the anthropic-sdk-go backed Endpoint, grounded on
// the teacher's pkg/providers/anthropic.Provider: same system-prompt
// extraction, tool_result merging into consecutive user turns, and
// StopReason mapping.
type AnthropicEndpoint struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropic constructs an AnthropicEndpoint. An empty baseURL uses the
// SDK's default Anthropic endpoint.
func NewAnthropic(apiKey, baseURL, model string) *AnthropicEndpoint {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(normalizeBaseURL(baseURL)))
	}
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicEndpoint{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}
}

func (e *AnthropicEndpoint) DefaultModel() string { return e.defaultModel }

func (e *AnthropicEndpoint) Complete(ctx context.Context, messages []Message, tools []ToolDefinition, model string) (Response, error) {
	if model == "" {
		model = e.defaultModel
	}
	params, err := buildAnthropicParams(messages, tools, model)
	if err != nil {
		return Response{}, errs.InvalidInput("completion.anthropic.complete", err)
	}

	msg, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, errs.Transient("completion.anthropic.complete", err)
	}
	return parseAnthropicResponse(msg), nil
}

func buildAnthropicParams(messages []Message, tools []ToolDefinition, model string) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
	}

	var blocks []anthropic.MessageParam
	var pendingToolResults []anthropic.ContentBlockParamUnion

	flushToolResults := func() {
		if len(pendingToolResults) == 0 {
			return
		}
		blocks = append(blocks, anthropic.NewUserMessage(pendingToolResults...))
		pendingToolResults = nil
	}

	for _, msg := range messages {
		switch {
		case msg.Role == "system":
			if params.System == nil {
				params.System = []anthropic.TextBlockParam{}
			}
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case isToolResult(msg):
			pendingToolResults = append(pendingToolResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case msg.Role == "assistant":
			flushToolResults()
			var parts []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				parts = append(parts, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			blocks = append(blocks, anthropic.NewAssistantMessage(parts...))
		default:
			flushToolResults()
			blocks = append(blocks, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flushToolResults()
	params.Messages = blocks

	if len(tools) > 0 {
		params.Tools = translateAnthropicTools(tools)
	}
	return params, nil
}

func translateAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := t.Parameters["required"].([]string); ok {
			schema.Required = required
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func parseAnthropicResponse(msg *anthropic.Message) Response {
	resp := Response{}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += v.Text
		case anthropic.ToolUseBlock:
			args := unmarshalArgs(v.Input)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: v.ID, Name: v.Name, Arguments: args})
		}
	}
	resp.FinishReason = mapAnthropicStopReason(string(msg.StopReason))
	resp.Usage = Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return resp
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	case "end_turn", "stop_sequence":
		return "stop"
	default:
		return reason
	}
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(raw, "/")
}
