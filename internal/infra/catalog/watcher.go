package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/metrics"
)

// ApplyFunc installs a freshly loaded catalog. Returning an error keeps
// the previous catalog in force.
type ApplyFunc func(defs []domain.BadgeDef) error

// Watcher reloads a catalog file when it changes on disk. Editors often
// write a file in several steps, so events are debounced.
type Watcher struct {
	path     string
	apply    ApplyFunc
	log      *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	reloads int
	errors  int
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, apply ApplyFunc, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		apply:    apply,
		log:      log,
		debounce: 250 * time.Millisecond,
	}
}

// Run watches until ctx is done. The directory is watched rather than the
// file so that atomic replace-by-rename is seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("catalog watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			w.Reload()
		}
	}
}

// Reload reads the file and applies it. Failures are logged and counted;
// the running catalog is left alone.
func (w *Watcher) Reload() bool {
	defs, err := Load(w.path)
	if err == nil {
		err = w.apply(defs)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.errors++
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		w.log.Warn("catalog reload rejected, keeping previous catalog",
			zap.String("path", w.path), zap.Error(err))
		return false
	}
	w.reloads++
	metrics.CatalogReloads.WithLabelValues("ok").Inc()
	w.log.Info("catalog reloaded", zap.String("path", w.path), zap.Int("badges", len(defs)))
	return true
}

// Stats returns how many reloads succeeded and failed.
func (w *Watcher) Stats() (reloads, errors int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.errors
}
