package config

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval is the delay after an fsnotify event before re-reading the
// file, letting atomic write-then-rename sequences settle.
const debounceInterval = 100 * time.Millisecond

// Watch reloads the config file whenever it changes on disk and invokes
// onReload with the freshly parsed config. It watches the parent directory
// rather than the file itself so atomic replaces (write temp, rename) are
// caught. Parse failures are logged and the previous config stays in effect.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	slog.InfoContext(ctx, "watching config file", slog.String("path", path))

	var lastHash [sha256.Size]byte
	if data, err := os.ReadFile(path); err == nil {
		lastHash = sha256.Sum256(data)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				data, err := os.ReadFile(path)
				if err != nil {
					slog.WarnContext(ctx, "failed to read config after change", slog.String("error", err.Error()))
					return
				}
				hash := sha256.Sum256(data)
				if hash == lastHash {
					return
				}
				cfg, err := Parse(data)
				if err != nil {
					slog.WarnContext(ctx, "config change rejected", slog.String("error", err.Error()))
					return
				}
				lastHash = hash
				slog.InfoContext(ctx, "config reloaded", slog.Int("worker_pools", len(cfg.WorkerPools)))
				onReload(cfg)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "config watcher error", slog.String("error", err.Error()))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
