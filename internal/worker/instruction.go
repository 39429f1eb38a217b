package worker

import (
	"fmt"
	"strings"

	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
)

// BuildInstruction renders the self-contained prompt a worker session
// executes. The session cannot reach the issue store, so the worker reports
// its outcome as a trailing FINAL_STATUS directive that the tracker parses
// and writes back.
func BuildInstruction(is *issue.Issue) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are a worker agent assigned to issue %s.\n\n", is.ID))
	sb.WriteString(fmt.Sprintf("# Issue: %s\n\n", is.Title))
	if is.Description != "" {
		sb.WriteString("## Description\n")
		sb.WriteString(is.Description)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Instructions\n")
	sb.WriteString("Work the issue to a terminal state. When you are done, output your final status on the last line of your response:\n\n")
	sb.WriteString(finalStatusDirective + " <status> - <one line note>\n\n")
	sb.WriteString("Status must be exactly one of:\n")
	sb.WriteString("- completed: the work is done; the note is a short summary\n")
	sb.WriteString("- blocked: you cannot proceed; the note states why\n")
	sb.WriteString("- pending_user_input: you need a decision from the user; the note is your question\n")
	sb.WriteString("\nThe final status line is how your outcome is recorded. Do not omit it.\n")
	return sb.String()
}
