// Package bundle loads externally-versioned worker bundles and runs agent
// sessions against them.
package bundle

import "context"

// SessionOptions carry per-session context from the parent coordinator.
type SessionOptions struct {
	// ParentID is the session id of the coordinator that spawned this
	// session, recorded for lineage.
	ParentID string
	// WorkDir is the working directory the session executes in.
	WorkDir string
	// Providers are the parent's configured provider names, inherited when
	// the bundle declares none of its own.
	Providers []string
}

// Loader resolves a bundle reference into a loaded Bundle.
type Loader interface {
	Load(ctx context.Context, uri string) (Bundle, error)
}

type Bundle interface {
	Name() string
	Prepare(ctx context.Context) (Prepared, error)
}

type Prepared interface {
	CreateSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// Session is a single agent execution. Cleanup must be called on every exit
// path regardless of outcome.
type Session interface {
	Execute(ctx context.Context, instruction string) (string, error)
	Cleanup()
}
