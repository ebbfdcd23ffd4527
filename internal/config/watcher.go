package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the config file and reloads it on change, with
// debouncing so editors that write in several bursts trigger one reload.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	loader    *Loader
	debounce  time.Duration
	onReload  chan Config
	done      chan struct{}
}

// DefaultDebounce is the reload debounce interval.
const DefaultDebounce = 500 * time.Millisecond

// NewWatcher creates a watcher around loader. debounce <= 0 uses the
// default.
func NewWatcher(loader *Loader, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsWatcher: fsw,
		loader:    loader,
		debounce:  debounce,
		onReload:  make(chan Config, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory. Watching the directory
// rather than the file survives rename-style atomic saves. Returns a
// channel delivering the reloaded config after each change.
func (w *Watcher) Start() (<-chan Config, error) {
	dir := filepath.Dir(w.loader.Path())
	if err := w.fsWatcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}
	go w.loop()
	return w.onReload, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-timerC(timer):
			if pending {
				cfg := w.loader.Load()
				// Non-blocking send; an unconsumed reload is superseded.
				select {
				case w.onReload <- cfg:
				default:
				}
				pending = false
			}

		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Base(event.Name) == filepath.Base(w.loader.Path())
}
