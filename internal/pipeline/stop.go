package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchStopFlag watches for the emergency-stop flag file. Creating the
// file asserts the stop; removing it lifts the stop. The watch runs
// until ctx is cancelled.
func (p *Pipeline) WatchStopFlag(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating stop-flag watcher failed: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating stop-flag directory failed: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s failed: %w", dir, err)
	}

	// The flag may already be present from a previous run.
	if _, err := os.Stat(path); err == nil {
		p.EmergencyStop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				p.EmergencyStop(ctx)
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				p.Resume()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Printf("Stop-flag watcher error: %v", err)
		}
	}
}
