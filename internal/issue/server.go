package issue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/payneio/amplifier-bundle-foreman/internal/provider"
	"github.com/payneio/amplifier-bundle-foreman/pkg/cerr"
)

// StoreTool serves the issue tool contract on top of a Repository. It
// implements both the typed Tool interface used inside the foreman and the
// loosely-typed provider.Tool surface exposed to the model.
type StoreTool struct {
	repo Repository
}

func NewStoreTool(repo Repository) *StoreTool {
	return &StoreTool{repo: repo}
}

func (t *StoreTool) Execute(ctx context.Context, req Request) (*Response, error) {
	switch req.Operation {
	case OperationCreate:
		return t.create(ctx, req.Params)
	case OperationUpdate:
		return t.update(ctx, req.Params)
	case OperationList:
		return t.list(ctx, req.Params)
	default:
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown operation %q", req.Operation), nil)
	}
}

func (t *StoreTool) create(ctx context.Context, p Params) (*Response, error) {
	if p.Title == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "title is required", nil)
	}
	priority := 2
	if p.Priority != nil {
		if err := validPriority(*p.Priority); err != nil {
			return nil, err
		}
		priority = *p.Priority
	}
	now := time.Now().UTC()
	i := &Issue{
		ID:          ulid.Make().String(),
		Title:       p.Title,
		Description: p.Description,
		Status:      StatusOpen,
		Priority:    priority,
		Metadata:    p.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.repo.Create(ctx, i); err != nil {
		return nil, err
	}
	return &Response{Output: Output{Issue: i}}, nil
}

func (t *StoreTool) update(ctx context.Context, p Params) (*Response, error) {
	if p.IssueID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "issue_id is required", nil)
	}
	i, err := t.repo.Get(ctx, p.IssueID)
	if err != nil {
		return nil, err
	}
	if p.Status != "" {
		if !p.Status.Valid() {
			return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid status %q", p.Status), nil)
		}
		i.Status = p.Status
	}
	if p.Title != "" {
		i.Title = p.Title
	}
	if p.Description != "" {
		i.Description = p.Description
	}
	if p.Assignee != "" {
		i.Assignee = p.Assignee
	}
	if p.Priority != nil {
		if err := validPriority(*p.Priority); err != nil {
			return nil, err
		}
		i.Priority = *p.Priority
	}
	for k, v := range p.Metadata {
		if i.Metadata == nil {
			i.Metadata = make(map[string]string)
		}
		i.Metadata[k] = v
	}
	i.UpdatedAt = time.Now().UTC()
	if err := t.repo.Update(ctx, i); err != nil {
		return nil, err
	}
	return &Response{Output: Output{Issue: i}}, nil
}

func validPriority(p int) error {
	if p < 0 || p > 4 {
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("priority %d out of range [0, 4]", p), nil)
	}
	return nil
}

func (t *StoreTool) list(ctx context.Context, p Params) (*Response, error) {
	issues, err := t.repo.List(ctx, p.Status)
	if err != nil {
		return nil, err
	}
	return &Response{Output: Output{Issues: issues}}, nil
}

// Spec describes the tool to the model. The parameter shapes here are a de
// facto wire contract; workers are instructed against the same shapes.
func (t *StoreTool) Spec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        ToolName,
		Description: "Create, update, and list work issues. Issues are the unit of delegable work; workers report progress by updating issue status.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type": "string",
					"enum": []string{"create", "update", "list"},
				},
				"params": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"issue_id":    map[string]any{"type": "string"},
						"title":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"status": map[string]any{
							"type": "string",
							"enum": []string{"open", "in_progress", "completed", "blocked", "pending_user_input"},
						},
						"priority": map[string]any{"type": "integer"},
						"metadata": map[string]any{"type": "object"},
					},
				},
			},
			"required": []string{"operation"},
		},
	}
}

// Invoke adapts a model tool call onto the typed contract.
func (t *StoreTool) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid arguments", err)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid arguments", err)
	}
	resp, err := t.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to encode tool result", err)
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to encode tool result", err)
	}
	return m, nil
}
