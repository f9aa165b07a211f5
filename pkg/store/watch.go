package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// WatchFile invalidates c, and reloads it, whenever the file at path is
// written or replaced. The watch runs until ctx is cancelled. The parent
// directory is watched so that editors replacing the file atomically are
// seen too.
func (c *Cache) WatchFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	go c.watchLoop(ctx, watcher, absPath)
	return nil
}

func (c *Cache) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	defer func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			c.Invalidate()
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				if err := c.Reload(ctx); err == nil {
					c.logger.InfoContext(ctx, "AIBDP manifest reloaded", "path", path)
				}
			})
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.WarnContext(ctx, "Manifest watcher error", "error", err)
		}
	}
}
