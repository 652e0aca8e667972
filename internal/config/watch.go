package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces editor save bursts into one reload.
const DefaultDebounce = 300 * time.Millisecond

// Watch signals on the returned channel when any of paths (files or
// directories) changes, debounced. The channel closes when ctx is done or the
// watcher fails. Signals are dropped, not queued, while one is pending.
func Watch(ctx context.Context, debounce time.Duration, paths ...string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, p := range paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			slog.Warn("could not resolve watch path", "path", p, "error", err)
			continue
		}
		if err := watcher.Add(absPath); err != nil {
			slog.Warn("could not watch path", "path", p, "error", err)
			continue
		}
		slog.Debug("watching declarations", "path", absPath)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	reloadCh := make(chan struct{}, 1)
	go func() {
		defer close(reloadCh)
		defer watcher.Close()

		timer := time.NewTimer(debounce)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Editors save by write, by rename-over, or by remove+create.
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) ||
					event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
					slog.Debug("declaration change", "file", event.Name, "op", event.Op.String())
					timer.Reset(debounce)
				}
			case <-timer.C:
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("watcher error", "error", err)
			}
		}
	}()

	return reloadCh, nil
}
