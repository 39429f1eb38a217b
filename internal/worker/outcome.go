package worker

import (
	"strings"

	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
)

// finalStatusDirective marks the worker's terminal status in its output.
const finalStatusDirective = "FINAL_STATUS:"

var terminalStatuses = map[issue.Status]struct{}{
	issue.StatusCompleted:        {},
	issue.StatusBlocked:          {},
	issue.StatusPendingUserInput: {},
}

// ParseOutcome extracts the trailing FINAL_STATUS directive from worker
// output and returns the terminal status plus the one-line note after it.
// A missing or unrecognized directive resolves to completed; the session
// returned without error and completed is the only remaining transition.
func ParseOutcome(output string) (issue.Status, string) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, finalStatusDirective) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, finalStatusDirective))
		token, note, _ := strings.Cut(rest, " ")
		status := issue.Status(token)
		if _, ok := terminalStatuses[status]; !ok {
			break
		}
		note = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(note), "-"))
		return status, strings.TrimSpace(note)
	}
	return issue.StatusCompleted, ""
}
