package executor

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/maestro/internal/state"
)

// ControlWatcher lets operators steer running tasks through a control
// directory. Dropping a file named "pause-<task-id>", "resume-<task-id>",
// or "cancel-<task-id>" applies that transition; a file named "stop"
// requests worker shutdown. Signal files are consumed on handling.
type ControlWatcher struct {
	dir   string
	store state.TaskStore

	mu         sync.RWMutex
	stopSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewControlWatcher creates a watcher over the given control directory,
// creating it if needed. If the filesystem watcher cannot be set up,
// the ControlWatcher still works through the polling check in
// ShouldStop.
func NewControlWatcher(dir string, store state.TaskStore) (*ControlWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	cw := &ControlWatcher{
		dir:   dir,
		store: store,
		done:  make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return cw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return cw, nil
	}
	cw.watcher = watcher

	go cw.watchSignals()
	return cw, nil
}

// watchSignals monitors the control directory for signal files.
func (cw *ControlWatcher) watchSignals() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0 {
				cw.handleSignal(filepath.Base(event.Name))
			}
		case <-cw.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// handleSignal applies one signal file and removes it.
func (cw *ControlWatcher) handleSignal(name string) {
	switch {
	case name == "stop":
		cw.mu.Lock()
		cw.stopSignal = true
		cw.mu.Unlock()
		return

	case strings.HasPrefix(name, "pause-"):
		taskID := strings.TrimPrefix(name, "pause-")
		if err := cw.store.PauseTask(taskID, "operator", nil); err != nil {
			log.Printf("[control] pause %s: %v", taskID, err)
		}

	case strings.HasPrefix(name, "resume-"):
		taskID := strings.TrimPrefix(name, "resume-")
		if err := cw.store.ResumeTask(taskID); err != nil {
			log.Printf("[control] resume %s: %v", taskID, err)
		}

	case strings.HasPrefix(name, "cancel-"):
		taskID := strings.TrimPrefix(name, "cancel-")
		if err := cw.store.CancelTask(taskID, "cancelled by operator"); err != nil {
			log.Printf("[control] cancel %s: %v", taskID, err)
		}

	default:
		return
	}

	os.Remove(filepath.Join(cw.dir, name))
}

// ShouldStop returns true if a stop signal has been received.
// It also checks the stop file directly in case the watcher missed it.
func (cw *ControlWatcher) ShouldStop() bool {
	stopPath := filepath.Join(cw.dir, "stop")
	if _, err := os.Stat(stopPath); err == nil {
		cw.mu.Lock()
		cw.stopSignal = true
		cw.mu.Unlock()
	}

	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.stopSignal
}

// SendStop creates a stop signal file.
func SendStop(dir string) error {
	path := filepath.Join(dir, "stop")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes all signal files and resets signal state.
func (cw *ControlWatcher) ClearSignals() {
	cw.mu.Lock()
	cw.stopSignal = false
	cw.mu.Unlock()

	entries, err := os.ReadDir(cw.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.Remove(filepath.Join(cw.dir, e.Name()))
	}
}

// Close shuts down the control watcher.
func (cw *ControlWatcher) Close() {
	close(cw.done)
	if cw.watcher != nil {
		cw.watcher.Close()
	}
}
