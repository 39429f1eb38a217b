// Package provider defines the model-facing contracts the foreman drives:
// chat completion with tool calling, and the tools exposed to the model.
package provider

import "context"

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ChatRequest struct {
	Messages []Message
	Tools    []ToolSpec
}

type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider is an opaque chat completion capability.
type Provider interface {
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Tool is a capability the model can invoke. Arguments and results cross the
// model boundary as loosely-typed JSON objects.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}
