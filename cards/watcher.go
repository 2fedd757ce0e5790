package cards

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reloads a Registry when card files change.
type Watcher struct {
	reg      *Registry
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onReload func(error)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnReload registers a callback invoked after each reload with its result.
func OnReload(fn func(error)) WatchOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher creates the card directories if needed and watches them.
func NewWatcher(reg *Registry, opts ...WatchOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{reg: reg, fsw: fsw, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	for _, k := range Kinds {
		dir := filepath.Join(reg.Dir(), k.Dir())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			reg.logger.Warn("cards: create dir", "dir", dir, "error", err)
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Start runs the event loop in a goroutine until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(ctx)
}

// Stop ends the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()
	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			w.reg.logger.Debug("cards: change", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.reg.logger.Error("cards: watcher error", "error", err)
		case <-timer.C:
			err := w.reg.Load()
			if err != nil {
				w.reg.logger.Error("cards: reload failed", "error", err)
			}
			if w.onReload != nil {
				w.onReload(err)
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !strings.HasSuffix(ev.Name, ".yaml") {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
