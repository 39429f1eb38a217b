package issue

import "context"

// ToolName is the name the issue tool is exposed under to the model.
const ToolName = "issue_manager"

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationList   Operation = "list"
)

// Params is the parameter shape shared by all issue operations. Which fields
// are read depends on the operation: create uses Title/Description/Priority/
// Metadata, update uses IssueID plus any fields to change, list filters by
// Status.
type Params struct {
	IssueID     string            `json:"issue_id,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Status      Status            `json:"status,omitempty"`
	Priority    *int              `json:"priority,omitempty"`
	Assignee    string            `json:"assignee,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Request struct {
	Operation Operation `json:"operation"`
	Params    Params    `json:"params"`
}

type Output struct {
	Issue  *Issue   `json:"issue,omitempty"`
	Issues []*Issue `json:"issues,omitempty"`
}

type Response struct {
	Output Output `json:"output"`
}

// Tool is the issue store contract. Every call is atomic at the call
// boundary; no read-after-write consistency is assumed across calls.
type Tool interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}
