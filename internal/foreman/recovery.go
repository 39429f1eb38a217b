package foreman

import (
	"context"
	"log/slog"

	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
)

// maybeRecoverOrphanedIssues scans the issue store for issues that should
// have a worker but don't. It runs at most once per process; later calls
// return 0. Detected orphans are stored for the next progress digest rather
// than respawned, since respawning needs blocking bundle I/O.
func (f *Foreman) maybeRecoverOrphanedIssues(ctx context.Context) int {
	f.mu.Lock()
	if f.recoveryDone {
		f.mu.Unlock()
		return 0
	}
	f.recoveryDone = true
	f.mu.Unlock()

	orphans := make(map[string]*issue.Issue)

	open, err := f.listIssues(ctx, issue.StatusOpen)
	if err != nil {
		slog.WarnContext(ctx, "recovery scan failed listing open issues", slog.String("error", err.Error()))
	}
	for _, is := range open {
		orphans[is.ID] = is
	}

	inProgress, err := f.listIssues(ctx, issue.StatusInProgress)
	if err != nil {
		slog.WarnContext(ctx, "recovery scan failed listing in_progress issues", slog.String("error", err.Error()))
	}
	live := f.tracker.LiveIDs()
	for _, is := range inProgress {
		if _, ok := live[is.ID]; ok {
			continue
		}
		orphans[is.ID] = is
	}

	if len(orphans) == 0 {
		return 0
	}

	f.mu.Lock()
	for _, is := range orphans {
		f.orphaned = append(f.orphaned, is)
	}
	count := len(f.orphaned)
	f.mu.Unlock()

	slog.InfoContext(ctx, "recovery detected orphaned issues", slog.Int("count", count))
	return count
}

func (f *Foreman) listIssues(ctx context.Context, status issue.Status) ([]*issue.Issue, error) {
	resp, err := f.issues.Execute(ctx, issue.Request{
		Operation: issue.OperationList,
		Params:    issue.Params{Status: status},
	})
	if err != nil {
		return nil, err
	}
	return resp.Output.Issues, nil
}
