package config

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from its backing file whenever that file
// changes on disk, publishing the new value through Current. Watching is
// scoped to a single file and a single atomic pointer swap; a write that
// fails to parse or validate leaves the previous Config live.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	errs    chan error
	done    chan struct{}
}

// NewInMemoryWatcher wraps cfg in a Watcher with no backing file: reloads
// never happen, but callers (e.g. the admin /tune endpoint) can still
// Publish updates through the same atomic-pointer interface. Used when the
// host process was started without --config.
func NewInMemoryWatcher(cfg *Config) *Watcher {
	w := &Watcher{errs: make(chan error, 10), done: make(chan struct{})}
	w.current.Store(cfg)
	return w
}

// Publish validates cfg and, if valid, atomically makes it the Watcher's
// Current value — the same mechanism a file reload uses, exposed for
// programmatic updates (e.g. the admin /tune endpoint).
func (w *Watcher) Publish(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	w.current.Store(cfg)
	return nil
}

// NewWatcher loads path once via LoadConfig, then watches it for further
// changes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		watcher: fsw,
		errs:    make(chan error, 10),
		done:    make(chan struct{}),
	}
	w.current.Store(cfg)

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded, validated Config. Safe to call
// concurrently with reloads.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Errors surfaces reload failures (a write that produced invalid JSON or a
// Config that fails Validate). The previous valid Config stays live until a
// later write corrects the problem.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops watching and releases the underlying fsnotify watcher. A
// no-op beyond closing done for an in-memory Watcher (no fsnotify handle).
func (w *Watcher) Close() error {
	close(w.done)
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		select {
		case w.errs <- fmt.Errorf("config: reload of %s rejected: %w", w.path, err):
		default:
		}
		return
	}
	w.current.Store(cfg)
}
