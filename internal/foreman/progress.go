package foreman

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
)

// pendingPreviewCap bounds how many pending_user_input issues are listed
// with id and title in the digest.
const pendingPreviewCap = 3

// checkWorkerProgress builds the worker status digest. Orphaned issues and
// spawn errors are one-shot drains; every other category is queried fresh.
// Empty categories contribute nothing.
func (f *Foreman) checkWorkerProgress(ctx context.Context) string {
	var parts []string

	f.mu.Lock()
	orphaned := f.orphaned
	f.orphaned = nil
	f.mu.Unlock()
	if len(orphaned) > 0 {
		parts = append(parts, fmt.Sprintf("🚨 %d orphaned issue(s) found without workers (from a previous run):", len(orphaned)))
		for _, is := range orphaned {
			parts = append(parts, fmt.Sprintf("  - #%s: %s", is.ID, is.Title))
		}
	}

	if running := f.tracker.RunningCount(); running > 0 {
		parts = append(parts, fmt.Sprintf("🏃 %d worker(s) currently running", running))
	}

	if completed, err := f.listIssues(ctx, issue.StatusCompleted); err != nil {
		slog.WarnContext(ctx, "failed to check worker progress", slog.String("error", err.Error()))
	} else if len(completed) > 0 {
		parts = append(parts, fmt.Sprintf("✅ %d issue(s) completed by workers", len(completed)))
	}

	if pending, err := f.listIssues(ctx, issue.StatusPendingUserInput); err != nil {
		slog.WarnContext(ctx, "failed to check worker progress", slog.String("error", err.Error()))
	} else if len(pending) > 0 {
		parts = append(parts, fmt.Sprintf("⚠️ %d issue(s) need user input:", len(pending)))
		for i, is := range pending {
			if i >= pendingPreviewCap {
				break
			}
			parts = append(parts, fmt.Sprintf("  - #%s: %s", is.ID, is.Title))
		}
	}

	if inProgress, err := f.listIssues(ctx, issue.StatusInProgress); err != nil {
		slog.WarnContext(ctx, "failed to check worker progress", slog.String("error", err.Error()))
	} else if len(inProgress) > 0 {
		parts = append(parts, fmt.Sprintf("⏳ %d issue(s) in progress", len(inProgress)))
	}

	if errs := f.tracker.DrainErrors(); len(errs) > 0 {
		parts = append(parts, fmt.Sprintf("❌ %d worker spawn error(s):", len(errs)))
		for _, e := range errs {
			parts = append(parts, fmt.Sprintf("  - %s", e))
		}
	}

	return strings.Join(parts, "\n")
}
