package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 500 * time.Millisecond

// WatchConfig watches the given files and emits the path of a file after
// it changed and settled for debounceDuration. The parent directories are
// watched so editors that save by rename are still seen. The channel is
// closed when ctx is done.
func WatchConfig(ctx context.Context, files ...string) <-chan string {
	reloadCh := make(chan string, len(files)+1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		close(reloadCh)
		return reloadCh
	}

	watched := make(map[string]string) // abs path -> path as given
	dirs := make(map[string]bool)
	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve absolute path for watch file", "file", file)
			continue
		}
		watched[absPath] = file
		dir := filepath.Dir(absPath)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			slog.Warn("Could not watch directory", "dir", dir, "error", err)
			continue
		}
		dirs[dir] = true
		slog.Debug("Watching configuration directory", "dir", dir)
	}

	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		timers := make(map[string]*time.Timer)
		fired := make(chan string, len(files)+1)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				file, ok := watched[filepath.Clean(event.Name)]
				if !ok {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if t, ok := timers[file]; ok {
					t.Stop()
				}
				timers[file] = time.AfterFunc(debounceDuration, func() {
					select {
					case fired <- file:
					default:
					}
				})
			case file := <-fired:
				slog.Info("Configuration change detected", "file", file)
				select {
				case reloadCh <- file:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Watcher encountered an error", "error", err)
			}
		}
	}()

	return reloadCh
}
