package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"sessiond/internal/common/fsutil"
	"sessiond/pkg/types"
)

const rescanDelay = 200 * time.Millisecond

// Watch rescans dir whenever a *.gguf file in it is created, removed or
// renamed, and passes the new registry to fn until ctx is done.
func Watch(ctx context.Context, dir string, fn func([]types.Model, error)) error {
	abs, err := fsutil.Resolve(dir)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry watch: %w", err)
	}
	if err := w.Add(abs); err != nil {
		_ = w.Close()
		return fmt.Errorf("registry watch %s: %w", abs, err)
	}
	go func() {
		defer w.Close()
		var rescan <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(strings.ToLower(filepath.Base(ev.Name)), ".gguf") {
					continue
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					rescan = time.After(rescanDelay)
				}
			case <-rescan:
				rescan = nil
				fn(LoadDir(abs))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				fn(nil, err)
			}
		}
	}()
	return nil
}
