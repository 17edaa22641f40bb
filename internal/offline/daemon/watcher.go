package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates the trigger file was created.
	OpCreate EventOp = iota
	// OpModify indicates the trigger file was written.
	OpModify
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	default:
		return "unknown"
	}
}

// TriggerEvent is one touch of the trigger file.
type TriggerEvent struct {
	Path string
	Op   EventOp
	At   time.Time
}

// TriggerWatcher watches a single trigger file. It watches the parent
// directory so the file may be created, removed and recreated freely.
type TriggerWatcher struct {
	watcher *fsnotify.Watcher
	events  chan TriggerEvent
	errors  chan error
	done    chan struct{}
	wg      gosync.WaitGroup
	mu      gosync.Mutex
	running bool
	path    string
}

// NewTriggerWatcher creates a watcher. It emits nothing until Start.
func NewTriggerWatcher() (*TriggerWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &TriggerWatcher{
		watcher: watcher,
		events:  make(chan TriggerEvent, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching path. Its directory is created if missing.
func (tw *TriggerWatcher) Start(path string) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve trigger file %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create trigger directory %s: %w", dir, err)
	}
	if err := tw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	tw.path = abs
	tw.running = true
	tw.wg.Add(1)
	go tw.processEvents()

	return nil
}

// Stop stops watching and closes the Events and Errors channels. Calling
// it on a watcher that never started only releases the fsnotify handle.
func (tw *TriggerWatcher) Stop() error {
	tw.mu.Lock()
	if !tw.running {
		tw.mu.Unlock()
		return tw.watcher.Close()
	}
	tw.running = false
	tw.mu.Unlock()

	close(tw.done)

	if err := tw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	tw.wg.Wait()

	close(tw.events)
	close(tw.errors)

	return nil
}

// Events returns the trigger notifications.
func (tw *TriggerWatcher) Events() <-chan TriggerEvent {
	return tw.events
}

// Errors returns watcher errors.
func (tw *TriggerWatcher) Errors() <-chan error {
	return tw.errors
}

// IsRunning reports whether the watcher is started.
func (tw *TriggerWatcher) IsRunning() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.running
}

func (tw *TriggerWatcher) processEvents() {
	defer tw.wg.Done()

	for {
		select {
		case <-tw.done:
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if ev, ok := tw.convertEvent(event); ok {
				select {
				case tw.events <- ev:
				case <-tw.done:
					return
				}
			}

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case tw.errors <- err:
			case <-tw.done:
				return
			}
		}
	}
}

// convertEvent keeps Create and Write events on the trigger file. Removes,
// renames and chmods are ignored.
func (tw *TriggerWatcher) convertEvent(event fsnotify.Event) (TriggerEvent, bool) {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != tw.path {
		return TriggerEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	default:
		return TriggerEvent{}, false
	}
	return TriggerEvent{Path: abs, Op: op, At: time.Now()}, true
}
