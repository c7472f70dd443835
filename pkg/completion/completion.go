// Package completion is the pluggable completion endpoint named in spec
// §6: one interface, two interchangeable backends (anthropic-sdk-go and
// openai-go/v3), selected by config at startup so the Agent Executor's
// worker processes never import a specific vendor SDK directly. An
// optional FallbackEndpoint (fallback.go) chains a second backend behind
// the first, cooldown-aware, for when the primary is rate-limited or
// down. Grounded on the teacher's pkg/providers.LLMProvider interface and
// its per-vendor adapters (pkg/providers/anthropic, pkg/providers/openai_sdk)
// and its FallbackChain, trimmed from the teacher's dozen-plus vendor
// adapters down to the two SPEC_FULL.md names explicitly.
package completion

import (
	"context"
	"encoding/json"

	"github.com/cortexd/cortexd/pkg/config"
	"github.com/cortexd/cortexd/pkg/errs"
)

// ToolCall is one tool invocation an assistant turn requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one turn in a chat-shaped completion request.
type Message struct {
	Role       string // "system" | "user" | "assistant" | "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolDefinition is one tool exposed to the model, translated by each
// backend into its own schema representation.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is one backend-agnostic completion result.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // "stop" | "tool_calls" | "length"
	Usage        Usage
}

// Endpoint is the completion backend contract workers and the Agent
// Executor depend on.
type Endpoint interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition, model string) (Response, error)
	DefaultModel() string
}

// New constructs the Endpoint named by cfg.Backend. When cfg.Fallback is
// set, the result is a FallbackEndpoint trying cfg.Backend first and
// falling through to cfg.Fallback's backend on failure or cooldown.
func New(cfg config.CompletionConfig) (Endpoint, error) {
	primary, err := newSingle(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == nil {
		return primary, nil
	}

	secondary, err := newSingle(*cfg.Fallback)
	if err != nil {
		return nil, err
	}

	return NewFallbackEndpoint(
		Candidate{Name: nameOrBackend(cfg.Backend), Endpoint: primary, Model: cfg.Model},
		Candidate{Name: nameOrBackend(cfg.Fallback.Backend), Endpoint: secondary, Model: cfg.Fallback.Model},
	), nil
}

func newSingle(cfg config.CompletionConfig) (Endpoint, error) {
	switch cfg.Backend {
	case "", "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, errs.InvalidInput("completion.new", unsupportedBackendError(cfg.Backend))
	}
}

func nameOrBackend(backend string) string {
	if backend == "" {
		return "anthropic"
	}
	return backend
}

type unsupportedBackendError string

func (e unsupportedBackendError) Error() string { return "unsupported completion backend: " + string(e) }

func marshalArgs(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalArgs(raw []byte) map[string]any {
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return args
}

func isToolResult(msg Message) bool {
	return msg.Role == "tool" || (msg.Role == "user" && msg.ToolCallID != "")
}
