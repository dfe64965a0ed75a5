package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback is called with the freshly loaded configuration after
// the config file changes on disk.
type ReloadCallback func(cfg *AgentConfig)

// ErrorCallback is called when a reload attempt fails. The previous
// configuration stays in effect.
type ErrorCallback func(err error)

// Watcher reloads the agent configuration when the file changes.
// Editors replace config files by rename, so the parent directory is
// watched rather than the file itself.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	onReload ReloadCallback
	onError  ErrorCallback

	mu   sync.Mutex
	done chan struct{}
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, onReload ReloadCallback, onError ErrorCallback) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	return &Watcher{
		path:     path,
		fsw:      fsw,
		onReload: onReload,
		onError:  onError,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Runs until Stop is called.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	close(w.done)
	w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadAgentConfig(w.path)
			if err != nil {
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			w.onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}
