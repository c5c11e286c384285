package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay lets editors finish writing before the file is re-read.
const settleDelay = 100 * time.Millisecond

// changeNotifier fans reload results out to registered callbacks.
type changeNotifier struct {
	mu        sync.RWMutex
	callbacks []func(error)
}

func newChangeNotifier() *changeNotifier {
	return &changeNotifier{}
}

func (n *changeNotifier) OnChange(callback func(error)) {
	if callback == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = append(n.callbacks, callback)
}

func (n *changeNotifier) NotifyChange(err error) {
	n.mu.RLock()
	callbacks := append(([]func(error))(nil), n.callbacks...)
	n.mu.RUnlock()

	for _, callback := range callbacks {
		callback(err)
	}
}

// hotReloader watches the directory holding the configuration file. Watching
// the directory rather than the file survives editors that replace the file
// by renaming a temporary one over it.
type hotReloader struct {
	watcher  *fsnotify.Watcher
	path     string
	reload   func() error
	notifier *changeNotifier

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newHotReloader(path string, reload func() error, notifier *changeNotifier) (*hotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &hotReloader{
		watcher:  watcher,
		path:     filepath.Clean(path),
		reload:   reload,
		notifier: notifier,
	}, nil
}

func (h *hotReloader) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return errors.New("hot reload already started")
	}
	if err := h.watcher.Add(filepath.Dir(h.path)); err != nil {
		return fmt.Errorf("failed to watch config file %s: %w", h.path, err)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.watch(ctx, h.done)
	return nil
}

// Stop closes the watcher and waits for the watch loop to exit.
func (h *hotReloader) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = h.watcher.Close()
	if done != nil {
		<-done
	}
}

func (h *hotReloader) watch(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.handleChange(ctx)

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.notifier.NotifyChange(fmt.Errorf("file watcher error: %w", err))

		case <-ctx.Done():
			return
		}
	}
}

func (h *hotReloader) handleChange(ctx context.Context) {
	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return
	}

	if err := h.reload(); err != nil {
		h.notifier.NotifyChange(fmt.Errorf("configuration reload failed: %w", err))
		return
	}
	h.notifier.NotifyChange(nil)
}
