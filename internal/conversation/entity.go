// Package conversation persists the foreman's dialogue history across turns.
package conversation

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role      Role      `yaml:"role" json:"role"`
	Content   string    `yaml:"content" json:"content"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}
