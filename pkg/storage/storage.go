package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested path does not exist in storage.
var ErrNotFound = errors.New("not found")

// Storage is a key-value style file store used for all durable foreman state
// (issues, conversation history, worker session records, push subscriptions).
// Paths are slash-separated and relative to the store root.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	// List returns the paths of all objects under prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}
