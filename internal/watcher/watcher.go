// Package watcher reports changes of individual files, e.g. the
// configuration of a running server.
package watcher

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/czcorpus/wag-sub001/internal/logging"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// Event represents a file system event
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeHandler is called with the events of one quiet period
type ChangeHandler func(events []Event)

// Config contains watcher configuration
type Config struct {
	DebounceMs int `json:"debounceMs" mapstructure:"debounceMs"`
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{DebounceMs: 500}
}

// Watcher watches single files. Editors often replace a file instead of
// writing it, so the parent directories are watched and events of other
// files are dropped.
type Watcher struct {
	config  Config
	logger  *logging.Logger
	handler ChangeHandler
	fsw     *fsnotify.Watcher
	batch   *BatchDebouncer

	mu    sync.RWMutex
	files map[string]struct{}
	dirs  map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new file watcher
func New(config Config, logger *logging.Logger, handler ChangeHandler) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		config:  config,
		logger:  logger.With(map[string]interface{}{"component": "watcher"}),
		handler: handler,
		fsw:     fsw,
		files:   make(map[string]struct{}),
		dirs:    make(map[string]struct{}),
	}
	w.batch = NewBatchDebouncer(time.Duration(config.DebounceMs)*time.Millisecond, w.emit)
	return w, nil
}

// Watch adds a file to watch. The file itself does not have to exist yet.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.files[abs]; exists {
		return nil
	}
	dir := filepath.Dir(abs)
	if _, exists := w.dirs[dir]; !exists {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = struct{}{}
	}
	w.files[abs] = struct{}{}
	w.logger.Info("Watching file", map[string]interface{}{"path": abs})
	return nil
}

// Files returns the watched files, sorted
func (w *Watcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ans := make([]string, 0, len(w.files))
	for f := range w.files {
		ans = append(ans, f)
	}
	sort.Strings(ans)
	return ans
}

// Start begins delivering events until ctx ends or Stop is called
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop stops watching and drops events not delivered yet
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.batch.Cancel()
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if e, ok := w.convert(ev); ok {
				w.batch.Add(e)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) convert(ev fsnotify.Event) (Event, bool) {
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return Event{}, false
	}
	w.mu.RLock()
	_, watched := w.files[abs]
	w.mu.RUnlock()
	if !watched {
		return Event{}, false
	}
	var t EventType
	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		t = EventCreate
	case ev.Op&fsnotify.Write == fsnotify.Write:
		t = EventModify
	case ev.Op&fsnotify.Remove == fsnotify.Remove:
		t = EventDelete
	case ev.Op&fsnotify.Rename == fsnotify.Rename:
		t = EventRename
	default:
		return Event{}, false
	}
	return Event{Type: t, Path: abs, Timestamp: time.Now()}, true
}

func (w *Watcher) emit(events []Event) {
	w.logger.Debug("File changes detected", map[string]interface{}{"eventCount": len(events)})
	if w.handler != nil {
		w.handler(events)
	}
}
