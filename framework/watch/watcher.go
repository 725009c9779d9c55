// Package watch reports changes to the files a container was built from so
// a long-running process can rebuild it without a restart.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses bursts of events from editors and checkouts.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches definition files and directories.
//
// Files are watched through their parent directory so that editors which
// replace a file on save are still seen.
type Watcher struct {
	files    map[string]bool
	dirs     map[string]bool
	debounce time.Duration
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	once    sync.Once

	mu        sync.Mutex
	callbacks []func(changed []string)
	pending   map[string]bool
	timer     *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before callbacks run.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New starts watching paths. Paths that do not exist are skipped with a
// warning; a directory is watched for definition files inside it.
func New(paths []string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		stopCh:   make(chan struct{}),
		pending:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	w.watcher = fsWatcher

	watched := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("watch: %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			w.logger.Warn("Skipping missing watch path", zap.String("path", abs), zap.Error(err))
			continue
		}
		dir := filepath.Dir(abs)
		if info.IsDir() {
			w.dirs[abs] = true
			dir = abs
		} else {
			w.files[abs] = true
		}
		if watched[dir] {
			continue
		}
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("watch: add %s: %w", dir, err)
		}
		watched[dir] = true
		w.logger.Debug("Watching directory", zap.String("path", dir))
	}

	go w.watchLoop()
	return w, nil
}

// OnChange registers fn. It receives the sorted changed paths of one
// debounced burst.
func (w *Watcher) OnChange(fn func(changed []string)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Stop ends the watch. Pending callbacks are dropped.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) watchLoop() {
	defer w.watcher.Close()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			w.logger.Debug("Definition file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()),
			)
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) relevant(path string) bool {
	if w.files[path] {
		return true
	}
	return w.dirs[filepath.Dir(path)] && isDefinitionFile(path)
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	w.mu.Lock()
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	w.pending = make(map[string]bool)
	callbacks := append([]func([]string){}, w.callbacks...)
	w.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	w.logger.Info("Container definitions changed", zap.Strings("files", changed))

	for i, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Change callback panicked",
						zap.Int("callback_index", i),
						zap.Any("panic", r),
					)
				}
			}()
			cb(changed)
		}()
	}
}

func isDefinitionFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".env":
		return true
	}
	return false
}
