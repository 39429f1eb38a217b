package issue

import "time"

type Status string

const (
	StatusOpen             Status = "open"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusBlocked          Status = "blocked"
	StatusPendingUserInput Status = "pending_user_input"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusBlocked, StatusPendingUserInput:
		return true
	}
	return false
}

// Issue is the unit of delegable work. The issue store is the system of
// record; the foreman only ever holds a cached view.
type Issue struct {
	ID          string            `yaml:"id" json:"id"`
	Title       string            `yaml:"title" json:"title"`
	Description string            `yaml:"description" json:"description"`
	Status      Status            `yaml:"status" json:"status"`
	IssueType   string            `yaml:"issue_type,omitempty" json:"issue_type,omitempty"`
	Priority    int               `yaml:"priority" json:"priority"`
	Assignee    string            `yaml:"assignee,omitempty" json:"assignee,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt   time.Time         `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `yaml:"updated_at" json:"updated_at"`
}

// Type returns the routing type: issue_type when set, else metadata.type,
// else "general".
func (i *Issue) Type() string {
	if i.IssueType != "" {
		return i.IssueType
	}
	if t, ok := i.Metadata["type"]; ok && t != "" {
		return t
	}
	return "general"
}
