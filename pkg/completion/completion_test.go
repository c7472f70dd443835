package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/config"
)

func TestNewSelectsAnthropicByDefault(t *testing.T) {
	ep, err := New(config.CompletionConfig{})
	require.NoError(t, err)
	_, ok := ep.(*AnthropicEndpoint)
	assert.True(t, ok)
	assert.Equal(t, anthropicDefaultModel, ep.DefaultModel())
}

func TestNewSelectsOpenAIBackend(t *testing.T) {
	ep, err := New(config.CompletionConfig{Backend: "openai"})
	require.NoError(t, err)
	_, ok := ep.(*OpenAIEndpoint)
	assert.True(t, ok)
	assert.Equal(t, openaiDefaultModel, ep.DefaultModel())
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(config.CompletionConfig{Backend: "bogus"})
	require.Error(t, err)
}

func TestNewHonorsExplicitModel(t *testing.T) {
	ep, err := New(config.CompletionConfig{Backend: "anthropic", Model: "claude-opus-4"})
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", ep.DefaultModel())
}

func TestNewBuildsFallbackEndpointWhenConfigured(t *testing.T) {
	ep, err := New(config.CompletionConfig{
		Backend: "anthropic",
		Model:   "claude-opus-4",
		Fallback: &config.CompletionConfig{
			Backend: "openai",
			Model:   "gpt-4o",
		},
	})
	require.NoError(t, err)
	fb, ok := ep.(*FallbackEndpoint)
	require.True(t, ok)
	assert.Equal(t, "claude-opus-4", fb.DefaultModel())
	require.Len(t, fb.candidates, 2)
	assert.Equal(t, "anthropic", fb.candidates[0].Name)
	assert.Equal(t, "openai", fb.candidates[1].Name)
}

func TestBuildAnthropicParamsMergesSystemMessages(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
	}
	params, err := buildAnthropicParams(messages, nil, "claude-sonnet-4-5")
	require.NoError(t, err)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be terse", params.System[0].Text)
	assert.Len(t, params.Messages, 1)
}

func TestBuildAnthropicParamsMergesToolResultsIntoUserTurn(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "run the tool"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "search", Arguments: map[string]any{"q": "go"}}}},
		{Role: "tool", ToolCallID: "call_1", Content: "result text"},
	}
	params, err := buildAnthropicParams(messages, nil, "claude-sonnet-4-5")
	require.NoError(t, err)
	// user, assistant(tool_use), user(tool_result) => 3 blocks
	assert.Len(t, params.Messages, 3)
}

func TestMapAnthropicStopReasonTranslatesToolUse(t *testing.T) {
	assert.Equal(t, "tool_calls", mapAnthropicStopReason("tool_use"))
	assert.Equal(t, "length", mapAnthropicStopReason("max_tokens"))
	assert.Equal(t, "stop", mapAnthropicStopReason("end_turn"))
}

func TestNormalizeOpenAIModelStripsProviderPrefix(t *testing.T) {
	assert.Equal(t, "gpt-4o", normalizeOpenAIModel("openai/gpt-4o"))
	assert.Equal(t, "gpt-4o", normalizeOpenAIModel("gpt-4o"))
}

func TestNormalizeOpenAIFinishReasonDefaultsToStop(t *testing.T) {
	assert.Equal(t, "tool_calls", normalizeOpenAIFinishReason("tool_calls"))
	assert.Equal(t, "length", normalizeOpenAIFinishReason("length"))
	assert.Equal(t, "stop", normalizeOpenAIFinishReason("content_filter"))
}

func TestBuildOpenAIMessagesTranslatesRoles(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi", ToolCalls: []ToolCall{{ID: "call_1", Name: "search", Arguments: map[string]any{"q": "go"}}}},
		{Role: "tool", ToolCallID: "call_1", Content: "result"},
	}
	out := buildOpenAIMessages(messages)
	require.Len(t, out, 4)
	require.NotNil(t, out[2].OfAssistant)
	require.Len(t, out[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "search", out[2].OfAssistant.ToolCalls[0].OfFunction.Function.Name)
}

func TestIsToolResultRecognizesBothShapes(t *testing.T) {
	assert.True(t, isToolResult(Message{Role: "tool", ToolCallID: "x"}))
	assert.True(t, isToolResult(Message{Role: "user", ToolCallID: "x"}))
	assert.False(t, isToolResult(Message{Role: "user"}))
}
