package product

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce groups bursts of writes from editors into one change.
const watchDebounce = 100 * time.Millisecond

// Watch reports the names of files in names that change in dir. The
// channel is closed when ctx is done.
func Watch(ctx context.Context, dir string, names []string) (<-chan string, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	changes := make(chan string, 16)
	go func() {
		defer close(changes)
		defer fw.Close()

		pending := make(map[string]time.Time)
		ticker := time.NewTicker(watchDebounce)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if !wanted[name] {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					pending[name] = time.Now()
				}
			case <-ticker.C:
				now := time.Now()
				for name, t := range pending {
					if now.Sub(t) < watchDebounce {
						continue
					}
					delete(pending, name)
					select {
					case changes <- name:
					case <-ctx.Done():
						return
					}
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				slog.Warn("config watch error", "dir", dir, "error", err)
			}
		}
	}()
	return changes, nil
}
