package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/cortexd/cortexd/pkg/errs"
)

const openaiDefaultModel = "gpt-4o"

// OpenAIEndpoint is the openai-go/v3 backed Endpoint, grounded on the
// teacher's pkg/providers/openai_sdk.Provider: same message/tool
// translation. OpenAI's "tool_calls" and "length" finish reasons pass
// through unchanged; every other finish_reason becomes "stop".
type OpenAIEndpoint struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAI constructs an OpenAIEndpoint. An empty baseURL uses the SDK's
// default OpenAI endpoint, which also covers OpenAI-compatible gateways.
func NewOpenAI(apiKey, baseURL, model string) *OpenAIEndpoint {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	if model == "" {
		model = openaiDefaultModel
	}
	return &OpenAIEndpoint{
		client:       openai.NewClient(opts...),
		defaultModel: model,
	}
}

func (e *OpenAIEndpoint) DefaultModel() string { return e.defaultModel }

func (e *OpenAIEndpoint) Complete(ctx context.Context, messages []Message, tools []ToolDefinition, model string) (Response, error) {
	if model == "" {
		model = e.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    normalizeOpenAIModel(model),
		Messages: buildOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = buildOpenAITools(tools)
		params.ToolChoice.OfAuto = openai.String(string(openai.ChatCompletionToolChoiceOptionAutoAuto))
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Response{}, errs.Transient("completion.openai.complete", apiErr)
		}
		return Response{}, errs.Transient("completion.openai.complete", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, errs.Permanent("completion.openai.complete", errNoChoices)
	}

	choice := resp.Choices[0]
	return Response{
		Content:      choice.Message.Content,
		ToolCalls:    parseOpenAIToolCalls(choice.Message.ToolCalls),
		FinishReason: normalizeOpenAIFinishReason(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

var errNoChoices = errors.New("openai completion returned no choices")

func normalizeOpenAIModel(model string) string {
	trimmed := strings.TrimSpace(model)
	if strings.HasPrefix(strings.ToLower(trimmed), "openai/") {
		return trimmed[len("openai/"):]
	}
	return trimmed
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "assistant":
			out = append(out, buildOpenAIAssistantMessage(msg))
		case "tool":
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func buildOpenAIAssistantMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content.OfString = openai.String(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		args, err := marshalArgs(tc.Arguments)
		if err != nil {
			args = "{}"
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: args,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func buildOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.Parameters),
		}))
	}
	return out
}

func parseOpenAIToolCalls(calls []openai.ChatCompletionMessageToolCallUnion) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		fn, ok := call.AsAny().(openai.ChatCompletionMessageFunctionToolCall)
		if !ok {
			continue
		}
		args := map[string]any{}
		if strings.TrimSpace(fn.Function.Arguments) != "" {
			args = unmarshalArgs([]byte(fn.Function.Arguments))
		}
		out = append(out, ToolCall{ID: fn.ID, Name: fn.Function.Name, Arguments: args})
	}
	return out
}

func normalizeOpenAIFinishReason(reason string) string {
	if reason == "tool_calls" || reason == "length" {
		return reason
	}
	return "stop"
}
