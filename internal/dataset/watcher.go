package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last event
// before firing, so a batch export shows up as one invalidation.
const DefaultDebounce = 500 * time.Millisecond

// Watcher invalidates store entries when the pipeline rewrites fixtures.
// It watches the data root and its known subdirectories rather than the
// files themselves, which survives the pipeline's write-then-rename
// replaces.
type Watcher struct {
	store    *Store
	fw       *fsnotify.Watcher
	debounce time.Duration
	onChange func(paths []string)
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer

	done chan struct{}
}

// NewWatcher starts watching the store's root. onChange receives the
// root-relative paths that changed, after the store entries for them have
// already been dropped; it may be nil.
func NewWatcher(store *Store, onChange func(paths []string), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		store:    store,
		fw:       fw,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logger,
		pending:  make(map[string]bool),
		done:     make(chan struct{}),
	}

	dirs := []string{store.Root(), filepath.Join(store.Root(), "subventions"), filepath.Join(store.Root(), "map")}
	watched := 0
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		watched++
	}
	if watched == 0 {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", store.Root(), os.ErrNotExist)
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rel, err := filepath.Rel(w.store.Root(), ev.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !strings.HasSuffix(rel, ".json") && !strings.HasSuffix(rel, ".geojson") {
				continue
			}
			w.mark(rel)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("data watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) mark(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[rel] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for rel := range w.pending {
		paths = append(paths, rel)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}

	for _, rel := range paths {
		w.store.Invalidate(rel)
	}
	w.logger.Info("data changed", zap.Strings("paths", paths))

	if w.onChange != nil {
		w.onChange(paths)
	}
}

// Close stops the watcher and waits for its goroutine to exit. Any
// still-debouncing batch is dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fw.Close()
	<-w.done
	return err
}
