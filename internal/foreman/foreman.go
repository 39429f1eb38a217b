// Package foreman drives the conversational coordination loop: it turns user
// prompts into issues, spawns workers for them, and reports their progress.
package foreman

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/payneio/amplifier-bundle-foreman/internal/conversation"
	"github.com/payneio/amplifier-bundle-foreman/internal/hook"
	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
	"github.com/payneio/amplifier-bundle-foreman/internal/provider"
	"github.com/payneio/amplifier-bundle-foreman/internal/worker"
)

// historyWindow is how many recent turns are replayed to the model.
const historyWindow = 10

type Foreman struct {
	provider      provider.Provider
	issues        issue.Tool
	tools         []provider.Tool
	tracker       *worker.Tracker
	hooks         *hook.Registry
	history       conversation.Repository
	maxIterations int

	mu           sync.Mutex
	recoveryDone bool
	orphaned     []*issue.Issue
}

type Options struct {
	Provider      provider.Provider
	Issues        issue.Tool
	Tools         []provider.Tool
	Tracker       *worker.Tracker
	Hooks         *hook.Registry
	History       conversation.Repository
	MaxIterations int
}

func New(opts Options) *Foreman {
	return &Foreman{
		provider:      opts.Provider,
		issues:        opts.Issues,
		tools:         opts.Tools,
		tracker:       opts.Tracker,
		hooks:         opts.Hooks,
		history:       opts.History,
		maxIterations: opts.MaxIterations,
	}
}

// WorkerStatus reports the state of every tracked worker task.
func (f *Foreman) WorkerStatus() map[string]worker.State {
	return f.tracker.Status()
}

// Execute runs one conversational turn. Worker tasks launched during the
// turn keep running after it returns; the response reflects issue creation,
// not work completion.
func (f *Foreman) Execute(ctx context.Context, prompt string) (string, error) {
	if err := f.hooks.Emit(ctx, hook.EventPromptSubmitted, map[string]any{"prompt": prompt}); err != nil {
		slog.InfoContext(ctx, "prompt vetoed", slog.String("reason", err.Error()))
		return fmt.Sprintf("⛔ Request denied: %s", err.Error()), nil
	}

	f.appendHistory(ctx, conversation.RoleUser, prompt)

	f.maybeRecoverOrphanedIssues(ctx)
	digest := f.checkWorkerProgress(ctx)

	messages := f.buildMessages(ctx, prompt, digest)

	if err := f.hooks.Emit(ctx, hook.EventExecutionStart, map[string]any{"prompt": prompt}); err != nil {
		slog.WarnContext(ctx, "execution start hook failed", slog.String("error", err.Error()))
	}

	specs := make([]provider.ToolSpec, 0, len(f.tools))
	for _, t := range f.tools {
		specs = append(specs, t.Spec())
	}

	var response string
	complete := false
	// iterations counts completed model calls, reported on the completion
	// event.
	iterations := 0
	for iterations < f.maxIterations {
		resp, err := f.provider.Complete(ctx, &provider.ChatRequest{
			Messages: messages,
			Tools:    specs,
		})
		iterations++
		if err != nil {
			slog.ErrorContext(ctx, "model completion failed", slog.String("error", err.Error()))
			response = fmt.Sprintf("Error: %s", err.Error())
			break
		}

		if len(resp.ToolCalls) == 0 {
			response = resp.Content
			complete = true
			break
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, f.executeToolCall(ctx, call))
		}
	}
	if response == "" && !complete {
		response = "⚠️ Reached the iteration limit before the work request settled. The issues created so far are being worked on."
	}

	f.appendHistory(ctx, conversation.RoleAssistant, response)

	status := "success"
	if !complete {
		status = "incomplete"
	}
	if err := f.hooks.Emit(ctx, hook.EventOrchestratorComplete, map[string]any{
		"iterations": iterations,
		"status":     status,
	}); err != nil {
		slog.WarnContext(ctx, "completion hook failed", slog.String("error", err.Error()))
	}
	if err := f.hooks.Emit(ctx, hook.EventExecutionEnd, map[string]any{"status": status}); err != nil {
		slog.WarnContext(ctx, "execution end hook failed", slog.String("error", err.Error()))
	}

	return response, nil
}

// executeToolCall runs one tool call and returns its tool message. Tool
// failures become error text in the message, never an aborted turn. A
// successful issue creation additionally triggers a worker spawn.
func (f *Foreman) executeToolCall(ctx context.Context, call provider.ToolCall) provider.Message {
	if err := f.hooks.Emit(ctx, hook.EventToolPre, map[string]any{"tool": call.Name, "call_id": call.ID}); err != nil {
		slog.WarnContext(ctx, "tool pre hook failed", slog.String("error", err.Error()))
	}

	content := f.invokeTool(ctx, call)

	if err := f.hooks.Emit(ctx, hook.EventToolPost, map[string]any{"tool": call.Name, "call_id": call.ID}); err != nil {
		slog.WarnContext(ctx, "tool post hook failed", slog.String("error", err.Error()))
	}

	return provider.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: call.ID,
	}
}

func (f *Foreman) invokeTool(ctx context.Context, call provider.ToolCall) string {
	tool := f.toolByName(call.Name)
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}

	result, err := tool.Invoke(ctx, call.Arguments)
	if err != nil {
		slog.WarnContext(ctx, "tool call failed",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("Error: %s", err.Error())
	}

	if call.Name == issue.ToolName {
		if created := createdIssue(call.Arguments, result); created != nil {
			f.tracker.MaybeSpawn(ctx, created)
		}
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("Error: %s", err.Error())
	}
	return string(encoded)
}

func (f *Foreman) toolByName(name string) provider.Tool {
	for _, t := range f.tools {
		if t.Spec().Name == name {
			return t
		}
	}
	return nil
}

// createdIssue extracts the issue from a successful issue_manager create
// result. Non-create operations and malformed results yield nil.
func createdIssue(args map[string]any, result map[string]any) *issue.Issue {
	if op, _ := args["operation"].(string); op != string(issue.OperationCreate) {
		return nil
	}
	output, ok := result["output"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := output["issue"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	is := &issue.Issue{}
	if err := json.Unmarshal(data, is); err != nil {
		return nil
	}
	if is.ID == "" {
		return nil
	}
	return is
}

func (f *Foreman) buildMessages(ctx context.Context, prompt, digest string) []provider.Message {
	system := systemPrompt
	if digest != "" {
		system += "\n\n## CURRENT WORKER STATUS\n" + digest
	}
	messages := []provider.Message{{Role: "system", Content: system}}

	turns, err := f.history.List(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to load conversation history", slog.String("error", err.Error()))
	}
	// Drop the current prompt's persisted turn so it is not replayed twice.
	// When persisting failed, the last turn is a genuine prior turn and
	// stays in the window.
	if n := len(turns); n > 0 && turns[n-1].Role == conversation.RoleUser && turns[n-1].Content == prompt {
		turns = turns[:n-1]
	}
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	for _, turn := range turns {
		messages = append(messages, provider.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	return append(messages, provider.Message{Role: "user", Content: prompt})
}

func (f *Foreman) appendHistory(ctx context.Context, role conversation.Role, content string) {
	err := f.history.Append(ctx, &conversation.Turn{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to persist conversation turn", slog.String("error", err.Error()))
	}
}
