// Package capability holds optional environment facts shared between the
// foreman and its collaborators. Consumers check presence explicitly; an
// absent capability is a normal outcome, not an error.
package capability

import "sync"

type Registry struct {
	mu         sync.RWMutex
	workingDir string
	hasWorkDir bool
	repoRoot   string
	hasRepo    bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) RegisterWorkingDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workingDir = dir
	r.hasWorkDir = dir != ""
}

func (r *Registry) RegisterRepoRoot(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repoRoot = root
	r.hasRepo = root != ""
}

// WorkingDir returns the registered working directory, if any.
func (r *Registry) WorkingDir() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workingDir, r.hasWorkDir
}

// RepoRoot returns the registered repository root, if any.
func (r *Registry) RepoRoot() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.repoRoot, r.hasRepo
}
