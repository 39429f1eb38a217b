package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payneio/amplifier-bundle-foreman/internal/bundle"
	"github.com/payneio/amplifier-bundle-foreman/internal/capability"
	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
	"github.com/payneio/amplifier-bundle-foreman/internal/routing"
)

// fakeLoader produces sessions whose completion the test controls through
// release. A nil loadErr means loads succeed.
type fakeLoader struct {
	mu       sync.Mutex
	loadErr  error
	execErr  error
	panics   bool
	output   string
	release  chan struct{}
	started  chan string
	executed []string
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		release: make(chan struct{}),
		started: make(chan string, 16),
	}
}

func (l *fakeLoader) Load(ctx context.Context, uri string) (bundle.Bundle, error) {
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	return &fakeBundle{loader: l}, nil
}

type fakeBundle struct{ loader *fakeLoader }

func (b *fakeBundle) Name() string { return "fake" }

func (b *fakeBundle) Prepare(ctx context.Context) (bundle.Prepared, error) {
	return &fakePrepared{loader: b.loader}, nil
}

type fakePrepared struct{ loader *fakeLoader }

func (p *fakePrepared) CreateSession(ctx context.Context, opts bundle.SessionOptions) (bundle.Session, error) {
	return &fakeSession{loader: p.loader}, nil
}

type fakeSession struct{ loader *fakeLoader }

func (s *fakeSession) Execute(ctx context.Context, instruction string) (string, error) {
	s.loader.mu.Lock()
	s.loader.executed = append(s.loader.executed, instruction)
	s.loader.mu.Unlock()
	s.loader.started <- instruction

	if s.loader.panics {
		panic("worker exploded")
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.loader.release:
	}
	out := s.loader.output
	if out == "" {
		out = "done"
	}
	return out, s.loader.execErr
}

func (s *fakeSession) Cleanup() {}

// fakeIssueTool records update calls.
type fakeIssueTool struct {
	mu      sync.Mutex
	updates []issue.Request
}

func (f *fakeIssueTool) Execute(ctx context.Context, req issue.Request) (*issue.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, req)
	return &issue.Response{}, nil
}

func (f *fakeIssueTool) blockedIssues() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, req := range f.updates {
		if req.Operation == issue.OperationUpdate && req.Params.Status == issue.StatusBlocked {
			ids = append(ids, req.Params.IssueID)
		}
	}
	return ids
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (f *fakeNotifier) NotifyWorkerFinished(ctx context.Context, issueID string, state State, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, issueID+":"+string(state))
}

func testRouter() *routing.Router {
	return routing.NewRouter(
		[]routing.Pool{{Name: "general", WorkerBundle: "/bundles/general"}},
		routing.Config{DefaultPool: "general"},
	)
}

func newTestTracker(loader *fakeLoader, issues issue.Tool, notifier Notifier) *Tracker {
	return NewTracker(TrackerOptions{
		Router:   testRouter(),
		Resolver: bundle.NewResolver(capability.NewRegistry()),
		Loader:   loader,
		Issues:   issues,
		Notifier: notifier,
	})
}

func testIssue(id string) *issue.Issue {
	return &issue.Issue{ID: id, Title: "t", Metadata: map[string]string{"type": "task"}}
}

func waitForState(t *testing.T, tr *Tracker, id string, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if s, ok := tr.Status()[id]; ok && s == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("issue %s never reached state %s (status: %v)", id, want, tr.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTracker_SpawnAndComplete(t *testing.T) {
	loader := newFakeLoader()
	issues := &fakeIssueTool{}
	tr := newTestTracker(loader, issues, nil)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started

	assert.Equal(t, StateRunning, tr.Status()["i1"])
	assert.True(t, tr.IsLive("i1"))
	assert.True(t, tr.EverSpawned("i1"))

	close(loader.release)
	waitForState(t, tr, "i1", StateCompleted)
	assert.False(t, tr.IsLive("i1"))
}

func TestTracker_DuplicateSuppression(t *testing.T) {
	loader := newFakeLoader()
	tr := newTestTracker(loader, &fakeIssueTool{}, nil)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started
	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	tr.MaybeSpawn(context.Background(), testIssue("i1"))

	// Only the first spawn ran a session.
	select {
	case inst := <-loader.started:
		t.Fatalf("unexpected second session: %q", inst)
	case <-time.After(50 * time.Millisecond):
	}

	close(loader.release)
	waitForState(t, tr, "i1", StateCompleted)
}

func TestTracker_RespawnAfterFinish(t *testing.T) {
	loader := newFakeLoader()
	tr := newTestTracker(loader, &fakeIssueTool{}, nil)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started
	close(loader.release)
	waitForState(t, tr, "i1", StateCompleted)

	// A fresh spawn for the same issue is allowed once the previous worker
	// finished, even before the finished task is swept.
	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started
	waitForState(t, tr, "i1", StateCompleted)

	loader.mu.Lock()
	defer loader.mu.Unlock()
	assert.Len(t, loader.executed, 2)
}

func TestTracker_FailureIsIsolated(t *testing.T) {
	loader := newFakeLoader()
	loader.execErr = errors.New("bundle exploded")
	issues := &fakeIssueTool{}
	tr := newTestTracker(loader, issues, nil)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started
	close(loader.release)
	waitForState(t, tr, "i1", StateFailed)

	errs := tr.DrainErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "i1")
	assert.Contains(t, errs[0], "bundle exploded")
	assert.Contains(t, issues.blockedIssues(), "i1")

	// Drain is one-shot.
	assert.Empty(t, tr.DrainErrors())
}

func TestTracker_PanicBecomesFailure(t *testing.T) {
	loader := newFakeLoader()
	loader.panics = true
	issues := &fakeIssueTool{}
	tr := newTestTracker(loader, issues, nil)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	waitForState(t, tr, "i1", StateFailed)

	errs := tr.DrainErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "worker exploded")
}

func TestTracker_LoadFailureBlocksIssue(t *testing.T) {
	loader := newFakeLoader()
	loader.loadErr = errors.New("clone failed")
	issues := &fakeIssueTool{}
	tr := newTestTracker(loader, issues, nil)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	waitForState(t, tr, "i1", StateFailed)

	assert.Contains(t, issues.blockedIssues(), "i1")
	assert.True(t, tr.EverSpawned("i1"))
}

func TestTracker_RoutingFailure(t *testing.T) {
	loader := newFakeLoader()
	issues := &fakeIssueTool{}
	tr := NewTracker(TrackerOptions{
		Router:   routing.NewRouter(nil, routing.Config{}),
		Resolver: bundle.NewResolver(capability.NewRegistry()),
		Loader:   loader,
		Issues:   issues,
	})

	tr.MaybeSpawn(context.Background(), testIssue("i1"))

	// No task was launched; the failure is a spawn error plus a blocked issue.
	assert.Empty(t, tr.Status())
	errs := tr.DrainErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "no worker pool")
	assert.Contains(t, issues.blockedIssues(), "i1")
	assert.True(t, tr.EverSpawned("i1"))
}

func TestTracker_SweepReapsAndNotifies(t *testing.T) {
	loader := newFakeLoader()
	notifier := &fakeNotifier{}
	tr := newTestTracker(loader, &fakeIssueTool{}, notifier)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started
	tr.MaybeSpawn(context.Background(), testIssue("i2"))
	<-loader.started

	// Nothing finished yet, nothing reaped.
	assert.Equal(t, 0, tr.Sweep(context.Background()))

	close(loader.release)
	waitForState(t, tr, "i1", StateCompleted)
	waitForState(t, tr, "i2", StateCompleted)

	assert.Equal(t, 2, tr.Sweep(context.Background()))
	assert.Empty(t, tr.Status())

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.ElementsMatch(t, []string{"i1:completed", "i2:completed"}, notifier.notified)
}

func TestTracker_ShutdownCancelsWorkers(t *testing.T) {
	loader := newFakeLoader()
	tr := newTestTracker(loader, &fakeIssueTool{}, nil)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Shutdown(ctx))

	assert.Equal(t, StateCancelled, tr.Status()["i1"])
	// Cancellation is benign and does not produce spawn errors.
	assert.Empty(t, tr.DrainErrors())
}

func TestTracker_InstructionReachesSession(t *testing.T) {
	loader := newFakeLoader()
	tr := newTestTracker(loader, &fakeIssueTool{}, nil)

	is := testIssue("i1")
	is.Title = "Fix the build"
	is.Description = "make it compile"
	tr.MaybeSpawn(context.Background(), is)
	inst := <-loader.started
	close(loader.release)

	assert.Contains(t, inst, "i1")
	assert.Contains(t, inst, "Fix the build")
	assert.Contains(t, inst, "make it compile")
	assert.Contains(t, inst, "FINAL_STATUS")
}

func TestTracker_ConcurrentSpawnSingleWorker(t *testing.T) {
	for i := 0; i < 25; i++ {
		loader := newFakeLoader()
		tr := newTestTracker(loader, &fakeIssueTool{}, nil)

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr.MaybeSpawn(context.Background(), testIssue("i1"))
			}()
		}
		wg.Wait()

		<-loader.started
		select {
		case inst := <-loader.started:
			t.Fatalf("iteration %d: second concurrent session started: %q", i, inst)
		case <-time.After(10 * time.Millisecond):
		}

		close(loader.release)
		waitForState(t, tr, "i1", StateCompleted)

		loader.mu.Lock()
		executed := len(loader.executed)
		loader.mu.Unlock()
		assert.Equal(t, 1, executed)
	}
}

func TestTracker_RespawnBeforeSweepReapsPriorOutcome(t *testing.T) {
	loader := newFakeLoader()
	notifier := &fakeNotifier{}
	tr := newTestTracker(loader, &fakeIssueTool{}, notifier)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started
	close(loader.release)
	waitForState(t, tr, "i1", StateCompleted)

	// Respawning before a Sweep must not lose the first worker's outcome.
	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started

	notifier.mu.Lock()
	first := append([]string(nil), notifier.notified...)
	notifier.mu.Unlock()
	assert.Equal(t, []string{"i1:completed"}, first)

	waitForState(t, tr, "i1", StateCompleted)
	assert.Equal(t, 1, tr.Sweep(context.Background()))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []string{"i1:completed", "i1:completed"}, notifier.notified)
}

func TestTracker_ClaimsAndRecordsOutcome(t *testing.T) {
	loader := newFakeLoader()
	loader.output = "I need the schema decided.\nFINAL_STATUS: pending_user_input - which schema version?"
	issues := &fakeIssueTool{}
	tr := newTestTracker(loader, issues, nil)

	tr.MaybeSpawn(context.Background(), testIssue("i1"))
	<-loader.started
	close(loader.release)
	waitForState(t, tr, "i1", StateCompleted)

	issues.mu.Lock()
	defer issues.mu.Unlock()
	require.Len(t, issues.updates, 2)

	claim := issues.updates[0]
	assert.Equal(t, issue.OperationUpdate, claim.Operation)
	assert.Equal(t, "i1", claim.Params.IssueID)
	assert.Equal(t, issue.StatusInProgress, claim.Params.Status)

	final := issues.updates[1]
	assert.Equal(t, issue.StatusPendingUserInput, final.Params.Status)
	assert.Equal(t, "which schema version?", final.Params.Metadata["summary"])
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		name   string
		output string
		status issue.Status
		note   string
	}{
		{
			name:   "completed with note",
			output: "All changes applied.\nFINAL_STATUS: completed - migrated the schema",
			status: issue.StatusCompleted,
			note:   "migrated the schema",
		},
		{
			name:   "blocked",
			output: "FINAL_STATUS: blocked - missing credentials",
			status: issue.StatusBlocked,
			note:   "missing credentials",
		},
		{
			name:   "pending user input without dash",
			output: "FINAL_STATUS: pending_user_input which approach?",
			status: issue.StatusPendingUserInput,
			note:   "which approach?",
		},
		{
			name:   "last directive wins",
			output: "FINAL_STATUS: blocked - early\nmore work\nFINAL_STATUS: completed - done after all",
			status: issue.StatusCompleted,
			note:   "done after all",
		},
		{
			name:   "missing directive defaults to completed",
			output: "it is done",
			status: issue.StatusCompleted,
		},
		{
			name:   "non-terminal status defaults to completed",
			output: "FINAL_STATUS: in_progress - still going",
			status: issue.StatusCompleted,
		},
		{
			name:   "empty output",
			output: "",
			status: issue.StatusCompleted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, note := ParseOutcome(tt.output)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.note, note)
		})
	}
}
