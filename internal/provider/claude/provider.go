// Package claude adapts the Claude agent SDK to the provider contract.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	claudeagent "github.com/kazz187/claude-agent-sdk-go"
	"github.com/oklog/ulid/v2"

	"github.com/payneio/amplifier-bundle-foreman/internal/provider"
	"github.com/payneio/amplifier-bundle-foreman/pkg/cerr"
)

// toolCallDirective marks a tool invocation in the model's text output. The
// Claude CLI transport carries only text, so tool specs are rendered into
// the system prompt and calls come back as directive lines.
const toolCallDirective = "TOOL_CALL:"

// Provider completes chat requests through the Claude CLI.
type Provider struct {
	workDir string
}

func New(workDir string) *Provider {
	return &Provider{workDir: workDir}
}

var _ provider.Provider = (*Provider)(nil)

func (p *Provider) Complete(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	systemPrompt, prompt := flatten(req.Messages)
	if len(req.Tools) > 0 {
		systemPrompt += "\n\n" + renderTools(req.Tools)
	}

	maxTurns := 1
	opts := &claudeagent.ClaudeAgentOptions{
		SystemPrompt:   systemPrompt,
		Cwd:            p.workDir,
		PermissionMode: claudeagent.PermissionModeDefault,
		MaxTurns:       &maxTurns,
	}

	result, err := claudeagent.RunQuerySync(ctx, prompt, opts)
	if err != nil {
		return nil, cerr.NewError(cerr.Unavailable, "model completion failed", err)
	}
	if result.Result == nil {
		return nil, cerr.NewError(cerr.Internal, "model returned no result", nil)
	}
	if result.Result.IsError {
		return nil, cerr.NewError(cerr.Unavailable, result.Result.Result, nil)
	}

	content, calls := parseToolCalls(result.Result.Result)
	return &provider.ChatResponse{Content: content, ToolCalls: calls}, nil
}

// renderTools describes the requested tools and the tool-call convention as
// a system prompt section.
func renderTools(tools []provider.ToolSpec) string {
	var sb strings.Builder
	sb.WriteString("## Available Tools\n")
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		fmt.Fprintf(&sb, "- %s: %s\n  Parameters (JSON schema): %s\n", t.Name, t.Description, params)
	}
	sb.WriteString("\nTo call a tool, output a line of the form:\n")
	sb.WriteString(toolCallDirective + ` {"name": "<tool>", "arguments": {...}}` + "\n")
	sb.WriteString("One call per line. Tool results arrive in the next user message.\n")
	sb.WriteString("When no more tool calls are needed, respond with plain text and no " + toolCallDirective + " lines.\n")
	return sb.String()
}

// parseToolCalls splits tool-call directive lines out of the response text.
// Lines that fail to parse stay in the content untouched.
func parseToolCalls(text string) (string, []provider.ToolCall) {
	var calls []provider.ToolCall
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, toolCallDirective) {
			kept = append(kept, line)
			continue
		}
		var payload struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		raw := strings.TrimSpace(strings.TrimPrefix(trimmed, toolCallDirective))
		if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.Name == "" {
			kept = append(kept, line)
			continue
		}
		calls = append(calls, provider.ToolCall{
			ID:        ulid.Make().String(),
			Name:      payload.Name,
			Arguments: payload.Arguments,
		})
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), calls
}

// flatten folds a message list into a system prompt and a single user
// prompt, labeling earlier turns so the model sees the dialogue shape.
// Assistant tool calls and tool results are replayed in the same directive
// convention the model is instructed to emit.
func flatten(messages []provider.Message) (string, string) {
	var system string
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			sb.WriteString("User: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		case "assistant":
			if m.Content != "" {
				sb.WriteString("Assistant: ")
				sb.WriteString(m.Content)
				sb.WriteString("\n\n")
			}
			for _, call := range m.ToolCalls {
				args, err := json.Marshal(call.Arguments)
				if err != nil {
					continue
				}
				fmt.Fprintf(&sb, "Assistant: %s {\"name\": %q, \"arguments\": %s}\n\n", toolCallDirective, call.Name, args)
			}
		case "tool":
			sb.WriteString("User: Tool result: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		}
	}
	return system, strings.TrimSpace(sb.String())
}
