package bundle

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/payneio/amplifier-bundle-foreman/internal/capability"
)

// markerDirs identify a repository root when walking upward from the current
// working directory.
var markerDirs = []string{".git", ".amplifier"}

// Resolver normalizes worker bundle references. Relative paths are anchored
// to a discovered repository root so the result does not depend on the
// working directory at spawn time.
type Resolver struct {
	caps *capability.Registry
}

func NewResolver(caps *capability.Registry) *Resolver {
	return &Resolver{caps: caps}
}

// Resolve returns an addressable form of path. Already-absolute references
// (git+, http, file:, or rooted paths) pass through unchanged. Unresolvable
// relative paths are returned as-is with a warning; the later load failure is
// the durable signal.
func (r *Resolver) Resolve(path string) string {
	if strings.HasPrefix(path, "git+") ||
		strings.HasPrefix(path, "http") ||
		strings.HasPrefix(path, "file:") ||
		strings.HasPrefix(path, "/") {
		return path
	}

	if root, ok := findRepoRoot(); ok {
		return filepath.Clean(filepath.Join(root, path))
	}

	if r.caps != nil {
		if root, ok := r.caps.RepoRoot(); ok {
			return filepath.Clean(filepath.Join(root, path))
		}
	}

	slog.Warn("could not resolve bundle path to a repository root", slog.String("path", path))
	return path
}

// findRepoRoot walks upward from the current working directory looking for a
// marker directory.
func findRepoRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		for _, marker := range markerDirs {
			if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
