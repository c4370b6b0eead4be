package daemon

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader re-applies the config file after it changes. It watches the
// file's directory rather than the file, so editors and tools that save by
// writing a temp file and renaming it over the original keep triggering
// reloads. Saves that leave the content unchanged are ignored.
type Reloader struct {
	watcher  *fsnotify.Watcher
	path     string
	apply    func() error
	debounce time.Duration
	digest   [sha256.Size]byte
	log      *zap.Logger
}

// NewReloader watches path, which must exist. apply runs at most once per
// burst of changes.
func NewReloader(path string, apply func() error, log *zap.Logger) (*Reloader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(path), err)
	}

	return &Reloader{
		watcher:  watcher,
		path:     path,
		apply:    apply,
		debounce: reloadDebounce,
		digest:   sha256.Sum256(data),
		log:      log,
	}, nil
}

// Run blocks until ctx is cancelled. A failed reload keeps the previous
// configuration and is retried on the next change.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	quiet := time.NewTimer(r.debounce)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-quiet.C:
			r.reload()

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			// A rename over the file arrives as Create under its name.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			quiet.Reset(r.debounce)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) reload() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		// Mid-rename; the Create that follows schedules another attempt.
		r.log.Debug("config not readable", zap.String("config", r.path), zap.Error(err))
		return
	}
	digest := sha256.Sum256(data)
	if digest == r.digest {
		return
	}
	if err := r.apply(); err != nil {
		r.log.Error("hot-reload failed", zap.String("config", r.path), zap.Error(err))
		return
	}
	r.digest = digest
	r.log.Info("config reloaded", zap.String("config", r.path))
}
