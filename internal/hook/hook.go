// Package hook emits lifecycle events to host-side observers. Guards run
// synchronously and may veto; subscribers receive events asynchronously.
package hook

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Lifecycle event names.
const (
	EventPromptSubmitted      = "prompt:submitted"
	EventExecutionStart       = "execution:start"
	EventExecutionEnd         = "execution:end"
	EventToolPre              = "tool:pre"
	EventToolPost             = "tool:post"
	EventOrchestratorComplete = "orchestrator:complete"
)

type Event struct {
	ID        string
	Name      string
	Payload   map[string]any
	CreatedAt time.Time
}

// Guard inspects an event synchronously before it is published. A non-nil
// error vetoes the triggering operation.
type Guard func(ctx context.Context, event *Event) error

type Registry struct {
	mu          sync.RWMutex
	guards      map[string][]Guard
	subscribers map[string]chan *Event
}

func NewRegistry() *Registry {
	return &Registry{
		guards:      make(map[string][]Guard),
		subscribers: make(map[string]chan *Event),
	}
}

// Guard registers a synchronous guard for the named event.
func (r *Registry) Guard(name string, g Guard) {
	r.mu.Lock()
	r.guards[name] = append(r.guards[name], g)
	r.mu.Unlock()
}

func (r *Registry) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	r.mu.Lock()
	r.subscribers[id] = ch
	r.mu.Unlock()
	return id, ch
}

func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	if ch, ok := r.subscribers[id]; ok {
		close(ch)
		delete(r.subscribers, id)
	}
	r.mu.Unlock()
}

// Emit runs the guards for the event in registration order, then fans the
// event out to subscribers. The first guard error stops delivery and is
// returned to the caller as a veto.
func (r *Registry) Emit(ctx context.Context, name string, payload map[string]any) error {
	event := &Event{
		ID:        ulid.Make().String(),
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.RLock()
	guards := r.guards[name]
	r.mu.RUnlock()
	for _, g := range guards {
		if err := g(ctx, event); err != nil {
			return err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
	return nil
}
