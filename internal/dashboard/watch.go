package dashboard

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long the themes file must stay quiet before it is reloaded.
// One save usually produces several events.
const settle = 100 * time.Millisecond

// Watch reloads the themes file at path whenever it changes and hands the
// result to onChange. A file that fails to load is logged and skipped, so the
// registry keeps serving the last good themes. Watch returns when ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Themes)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// The directory is watched rather than the file so that saves which
	// replace the file keep being seen.
	dir, name := filepath.Dir(path), filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	slog.Info("dashboard: watching themes", "path", path)

	var due <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == name && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				due = time.After(settle)
			}

		case <-due:
			due = nil
			reloadThemes(path, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("dashboard: watcher error", "err", err)
		}
	}
}

func reloadThemes(path string, onChange func(*Themes)) {
	themes, err := LoadThemes(path)
	if err != nil {
		slog.Error("dashboard: theme reload failed", "path", path, "err", err)
		return
	}
	slog.Info("dashboard: themes reloaded", "path", path, "themes", len(themes.Themes))
	onChange(themes)
}
