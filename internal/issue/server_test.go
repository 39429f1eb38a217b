package issue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
	"github.com/payneio/amplifier-bundle-foreman/internal/issue/repositoryimpl"
	"github.com/payneio/amplifier-bundle-foreman/pkg/cerr"
	"github.com/payneio/amplifier-bundle-foreman/pkg/storage"
)

func newStoreTool(t *testing.T) *issue.StoreTool {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return issue.NewStoreTool(repositoryimpl.NewYAMLRepository(store))
}

func TestStoreTool_Create(t *testing.T) {
	tool := newStoreTool(t)
	ctx := context.Background()

	resp, err := tool.Execute(ctx, issue.Request{
		Operation: issue.OperationCreate,
		Params: issue.Params{
			Title:       "Build the CLI",
			Description: "wire up the command surface",
			Metadata:    map[string]string{"type": "feature"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Output.Issue)

	is := resp.Output.Issue
	assert.NotEmpty(t, is.ID)
	assert.Equal(t, issue.StatusOpen, is.Status)
	assert.Equal(t, 2, is.Priority)
	assert.Equal(t, "feature", is.Type())
	assert.False(t, is.CreatedAt.IsZero())
}

func TestStoreTool_CreateRequiresTitle(t *testing.T) {
	tool := newStoreTool(t)

	_, err := tool.Execute(context.Background(), issue.Request{
		Operation: issue.OperationCreate,
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestStoreTool_CreateRejectsOutOfRangePriority(t *testing.T) {
	tool := newStoreTool(t)

	bad := 7
	_, err := tool.Execute(context.Background(), issue.Request{
		Operation: issue.OperationCreate,
		Params:    issue.Params{Title: "too urgent", Priority: &bad},
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestStoreTool_Update(t *testing.T) {
	tool := newStoreTool(t)
	ctx := context.Background()

	created, err := tool.Execute(ctx, issue.Request{
		Operation: issue.OperationCreate,
		Params:    issue.Params{Title: "Fix the parser"},
	})
	require.NoError(t, err)
	id := created.Output.Issue.ID

	updated, err := tool.Execute(ctx, issue.Request{
		Operation: issue.OperationUpdate,
		Params: issue.Params{
			IssueID: id,
			Status:  issue.StatusInProgress,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, issue.StatusInProgress, updated.Output.Issue.Status)

	_, err = tool.Execute(ctx, issue.Request{
		Operation: issue.OperationUpdate,
		Params:    issue.Params{IssueID: id, Status: issue.Status("bogus")},
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestStoreTool_UpdateUnknownIssue(t *testing.T) {
	tool := newStoreTool(t)

	_, err := tool.Execute(context.Background(), issue.Request{
		Operation: issue.OperationUpdate,
		Params:    issue.Params{IssueID: "missing", Status: issue.StatusCompleted},
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestStoreTool_ListFiltersByStatus(t *testing.T) {
	tool := newStoreTool(t)
	ctx := context.Background()

	first, err := tool.Execute(ctx, issue.Request{
		Operation: issue.OperationCreate,
		Params:    issue.Params{Title: "first"},
	})
	require.NoError(t, err)
	_, err = tool.Execute(ctx, issue.Request{
		Operation: issue.OperationCreate,
		Params:    issue.Params{Title: "second"},
	})
	require.NoError(t, err)

	_, err = tool.Execute(ctx, issue.Request{
		Operation: issue.OperationUpdate,
		Params:    issue.Params{IssueID: first.Output.Issue.ID, Status: issue.StatusCompleted},
	})
	require.NoError(t, err)

	all, err := tool.Execute(ctx, issue.Request{Operation: issue.OperationList})
	require.NoError(t, err)
	assert.Len(t, all.Output.Issues, 2)

	completed, err := tool.Execute(ctx, issue.Request{
		Operation: issue.OperationList,
		Params:    issue.Params{Status: issue.StatusCompleted},
	})
	require.NoError(t, err)
	require.Len(t, completed.Output.Issues, 1)
	assert.Equal(t, "first", completed.Output.Issues[0].Title)
}

// The loosely-typed surface is a wire contract: {operation, params} in,
// {output: {issue|issues}} out.
func TestStoreTool_Invoke(t *testing.T) {
	tool := newStoreTool(t)
	ctx := context.Background()

	result, err := tool.Invoke(ctx, map[string]any{
		"operation": "create",
		"params": map[string]any{
			"title":    "wire contract",
			"metadata": map[string]any{"type": "task"},
		},
	})
	require.NoError(t, err)

	output, ok := result["output"].(map[string]any)
	require.True(t, ok)
	created, ok := output["issue"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "wire contract", created["title"])
	assert.Equal(t, "open", created["status"])
	assert.NotEmpty(t, created["id"])

	listed, err := tool.Invoke(ctx, map[string]any{
		"operation": "list",
		"params":    map[string]any{"status": "open"},
	})
	require.NoError(t, err)
	output, ok = listed["output"].(map[string]any)
	require.True(t, ok)
	issues, ok := output["issues"].([]any)
	require.True(t, ok)
	assert.Len(t, issues, 1)
}

func TestStoreTool_InvokeUnknownOperation(t *testing.T) {
	tool := newStoreTool(t)

	_, err := tool.Invoke(context.Background(), map[string]any{"operation": "destroy"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}
