package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce coalesces the burst of events editors produce for a single save.
const debounce = 100 * time.Millisecond

// Watch reloads path whenever it changes and passes the result to fn until ctx
// is done. Parse failures are passed to fn as well; the caller decides whether
// to keep the previous configuration. The directory is watched rather than the
// file so that atomic rename-on-save is seen.
func Watch(ctx context.Context, path string, fn func(Config, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	go func() {
		defer w.Close()
		base := filepath.Base(path)
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				fire = time.After(debounce)
			case <-fire:
				fire = nil
				fn(Load(path))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				fn(Config{}, err)
			}
		}
	}()
	return nil
}
