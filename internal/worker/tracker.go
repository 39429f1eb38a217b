// Package worker owns the live worker task table. It guarantees at most one
// live worker per issue and isolates every worker failure from the
// coordinating loop.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/payneio/amplifier-bundle-foreman/internal/bundle"
	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
	"github.com/payneio/amplifier-bundle-foreman/internal/routing"
	"github.com/payneio/amplifier-bundle-foreman/pkg/clog"
	"github.com/payneio/amplifier-bundle-foreman/pkg/panicerr"
)

// State is a worker task's lifecycle state, derived live from the task.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Finished() bool {
	return s != StateRunning
}

// Notifier is told about worker outcomes when finished tasks are reaped.
type Notifier interface {
	NotifyWorkerFinished(ctx context.Context, issueID string, state State, detail string)
}

type task struct {
	issueID string
	cancel  context.CancelFunc
	state   State
	detail  string
}

// Tracker maps issue ids to running worker tasks. Finished tasks stay in the
// table with their terminal state until Sweep reaps them; a finished tracked
// task does not block a fresh spawn for the same issue.
type Tracker struct {
	router   *routing.Router
	resolver *bundle.Resolver
	loader   bundle.Loader
	issues   issue.Tool

	parentSessionID string
	workDir         string
	providers       []string
	notifier        Notifier

	mu          sync.Mutex
	tasks       map[string]*task
	spawned     map[string]struct{}
	spawnErrors []string

	wg conc.WaitGroup
}

type TrackerOptions struct {
	Router          *routing.Router
	Resolver        *bundle.Resolver
	Loader          bundle.Loader
	Issues          issue.Tool
	ParentSessionID string
	WorkDir         string
	Providers       []string
	Notifier        Notifier
}

func NewTracker(opts TrackerOptions) *Tracker {
	return &Tracker{
		router:          opts.Router,
		resolver:        opts.Resolver,
		loader:          opts.Loader,
		issues:          opts.Issues,
		parentSessionID: opts.ParentSessionID,
		workDir:         opts.WorkDir,
		providers:       opts.Providers,
		notifier:        opts.Notifier,
		tasks:           make(map[string]*task),
		spawned:         make(map[string]struct{}),
	}
}

// SetRouter swaps the routing table, used on config reload. In-flight tasks
// keep the pool they were routed to.
func (t *Tracker) SetRouter(r *routing.Router) {
	t.mu.Lock()
	t.router = r
	t.mu.Unlock()
}

// MaybeSpawn launches a background worker for the issue unless one is
// already live. It never returns an error; every failure is recorded as a
// spawn error and the issue is marked blocked.
func (t *Tracker) MaybeSpawn(ctx context.Context, is *issue.Issue) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	taskCtx = clog.ContextWithSlog(taskCtx)
	clog.AddAttribute(taskCtx, "issue_id", is.ID)

	tk := &task{issueID: is.ID, cancel: cancel, state: StateRunning}

	// The dedup check and the registration share one critical section, so two
	// racing spawns for the same issue cannot both pass the live check.
	t.mu.Lock()
	var displaced *task
	if existing, ok := t.tasks[is.ID]; ok {
		if !existing.state.Finished() {
			t.mu.Unlock()
			cancel()
			slog.DebugContext(ctx, "worker already live, skipping spawn", slog.String("issue_id", is.ID))
			return
		}
		displaced = existing
	}
	t.tasks[is.ID] = tk
	t.spawned[is.ID] = struct{}{}
	router := t.router
	t.mu.Unlock()

	// A finished task displaced by a respawn is reaped here; Sweep will not
	// see it again.
	if displaced != nil {
		t.reap(ctx, displaced)
	}

	pool := router.Route(is)
	if pool == nil {
		t.unregister(is.ID, tk)
		cancel()
		t.failSpawn(ctx, is, "no worker pool routes this issue")
		return
	}

	bundlePath := t.resolver.Resolve(pool.WorkerBundle)
	instruction := BuildInstruction(is)

	slog.InfoContext(ctx, "spawning worker",
		slog.String("issue_id", is.ID),
		slog.String("pool", pool.Name),
		slog.String("bundle", bundlePath),
	)

	t.wg.Go(func() {
		err := panicerr.SafeContext(func(ctx context.Context) error {
			return t.run(ctx, is, bundlePath, instruction)
		})(taskCtx)
		switch {
		case err == nil:
			t.finish(taskCtx, is.ID, StateCompleted, "")
		case taskCtx.Err() != nil:
			t.finish(taskCtx, is.ID, StateCancelled, err.Error())
		default:
			t.finish(taskCtx, is.ID, StateFailed, err.Error())
			t.recordSpawnError(is.ID, err.Error())
			t.markBlocked(context.WithoutCancel(taskCtx), is.ID, err.Error())
		}
	})
}

// run executes one worker session end to end. Session resources are released
// on every exit path.
func (t *Tracker) run(ctx context.Context, is *issue.Issue, bundlePath, instruction string) error {
	b, err := t.loader.Load(ctx, bundlePath)
	if err != nil {
		return fmt.Errorf("load bundle %s: %w", bundlePath, err)
	}
	prepared, err := b.Prepare(ctx)
	if err != nil {
		return fmt.Errorf("prepare bundle %s: %w", b.Name(), err)
	}
	session, err := prepared.CreateSession(ctx, bundle.SessionOptions{
		ParentID:  t.parentSessionID,
		WorkDir:   t.workDir,
		Providers: t.providers,
	})
	if err != nil {
		return fmt.Errorf("create session for bundle %s: %w", b.Name(), err)
	}
	defer session.Cleanup()

	// The session transport carries only text, so the issue store is not
	// reachable from inside the worker. The tracker claims the issue when the
	// session starts and writes the terminal status the worker reports in its
	// output directive.
	t.claimIssue(ctx, is.ID)

	output, err := session.Execute(ctx, instruction)
	if err != nil {
		return fmt.Errorf("execute worker for issue %s: %w", is.ID, err)
	}
	t.reportOutcome(ctx, is.ID, output)
	return nil
}

func (t *Tracker) claimIssue(ctx context.Context, issueID string) {
	_, err := t.issues.Execute(ctx, issue.Request{
		Operation: issue.OperationUpdate,
		Params:    issue.Params{IssueID: issueID, Status: issue.StatusInProgress},
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to claim issue", slog.String("issue_id", issueID), slog.String("error", err.Error()))
	}
}

// reportOutcome writes the worker's reported terminal status back to the
// issue store.
func (t *Tracker) reportOutcome(ctx context.Context, issueID, output string) {
	status, note := ParseOutcome(output)
	params := issue.Params{IssueID: issueID, Status: status}
	if note != "" {
		params.Metadata = map[string]string{"summary": note}
	}
	_, err := t.issues.Execute(ctx, issue.Request{
		Operation: issue.OperationUpdate,
		Params:    params,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to record worker outcome",
			slog.String("issue_id", issueID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

// unregister removes a task only if it is still the registered entry for the
// issue.
func (t *Tracker) unregister(issueID string, tk *task) {
	t.mu.Lock()
	if cur, ok := t.tasks[issueID]; ok && cur == tk {
		delete(t.tasks, issueID)
	}
	t.mu.Unlock()
}

// failSpawn records a spawn-time failure. This is the one place the tracker
// itself sets an issue to blocked; the worker never even started, so it
// cannot report for itself.
func (t *Tracker) failSpawn(ctx context.Context, is *issue.Issue, reason string) {
	slog.WarnContext(ctx, "failed to spawn worker", slog.String("issue_id", is.ID), slog.String("reason", reason))
	t.recordSpawnError(is.ID, reason)
	t.markBlocked(ctx, is.ID, reason)
}

func (t *Tracker) recordSpawnError(issueID, msg string) {
	t.mu.Lock()
	t.spawnErrors = append(t.spawnErrors, fmt.Sprintf("issue %s: %s", issueID, msg))
	t.mu.Unlock()
}

func (t *Tracker) markBlocked(ctx context.Context, issueID, errText string) {
	_, err := t.issues.Execute(ctx, issue.Request{
		Operation: issue.OperationUpdate,
		Params: issue.Params{
			IssueID:  issueID,
			Status:   issue.StatusBlocked,
			Metadata: map[string]string{"error": errText},
		},
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to mark issue blocked", slog.String("issue_id", issueID), slog.String("error", err.Error()))
	}
}

func (t *Tracker) finish(ctx context.Context, issueID string, state State, detail string) {
	t.mu.Lock()
	if tk, ok := t.tasks[issueID]; ok {
		tk.state = state
		tk.detail = detail
	}
	t.mu.Unlock()

	switch state {
	case StateCompleted:
		slog.InfoContext(ctx, "worker finished", slog.String("issue_id", issueID))
	case StateCancelled:
		slog.InfoContext(ctx, "worker cancelled", slog.String("issue_id", issueID))
	default:
		slog.WarnContext(ctx, "worker failed", slog.String("issue_id", issueID), slog.String("error", detail))
	}
}

// Status reports the state of every tracked task, derived from current task
// state at call time.
func (t *Tracker) Status() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.tasks))
	for id, tk := range t.tasks {
		out[id] = tk.state
	}
	return out
}

// IsLive reports whether an unfinished worker is tracked for the issue.
func (t *Tracker) IsLive(issueID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[issueID]
	return ok && !tk.state.Finished()
}

// LiveIDs returns the ids of issues with an unfinished worker.
func (t *Tracker) LiveIDs() map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]struct{})
	for id, tk := range t.tasks {
		if !tk.state.Finished() {
			out[id] = struct{}{}
		}
	}
	return out
}

// RunningCount returns the number of unfinished tracked tasks.
func (t *Tracker) RunningCount() int {
	return len(t.LiveIDs())
}

// EverSpawned reports whether a worker was ever launched for the issue in
// this process's lifetime.
func (t *Tracker) EverSpawned(issueID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.spawned[issueID]
	return ok
}

// Sweep reaps finished tasks from the table and notifies the notifier of
// each reaped outcome. Terminal states remain observable via Status until
// swept.
func (t *Tracker) Sweep(ctx context.Context) int {
	t.mu.Lock()
	var reaped []*task
	for id, tk := range t.tasks {
		if tk.state.Finished() {
			reaped = append(reaped, tk)
			delete(t.tasks, id)
		}
	}
	t.mu.Unlock()

	for _, tk := range reaped {
		t.reap(ctx, tk)
	}
	return len(reaped)
}

func (t *Tracker) reap(ctx context.Context, tk *task) {
	slog.InfoContext(ctx, "reaped worker task",
		slog.String("issue_id", tk.issueID),
		slog.String("state", string(tk.state)),
	)
	if t.notifier != nil {
		t.notifier.NotifyWorkerFinished(ctx, tk.issueID, tk.state, tk.detail)
	}
}

// DrainErrors returns accumulated spawn errors and clears the list.
func (t *Tracker) DrainErrors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	errs := t.spawnErrors
	t.spawnErrors = nil
	return errs
}

// Shutdown cancels all live tasks and waits for them to exit, bounded by ctx.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	for _, tk := range t.tasks {
		if !tk.state.Finished() {
			tk.cancel()
		}
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
