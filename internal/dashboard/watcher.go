package dashboard

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DBWatcher reports changes to a SQLite database file and its WAL.
//
// Writes arrive as bursts of events on the -wal and -shm files; they are
// coalesced so a burst yields one signal on Changes once it has been quiet
// for the debounce interval.
type DBWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	names    map[string]bool
	debounce time.Duration

	changes chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	pending time.Time
}

// NewDBWatcher creates a watcher for dbPath. It emits nothing until Start.
func NewDBWatcher(dbPath string, debounce time.Duration) (*DBWatcher, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dbPath, err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	base := filepath.Base(abs)
	return &DBWatcher{
		watcher:  watcher,
		dir:      filepath.Dir(abs),
		names:    map[string]bool{base: true, base + "-wal": true, base + "-journal": true},
		debounce: debounce,
		changes:  make(chan struct{}, 1),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the database directory.
func (w *DBWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", w.dir, err)
	}

	w.running = true
	w.wg.Add(2)
	go w.processEvents()
	go w.flushLoop()
	return nil
}

// Stop stops watching and waits for the goroutines to exit.
func (w *DBWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}

// Changes emits once per quiet period after the database changed.
func (w *DBWatcher) Changes() <-chan struct{} {
	return w.changes
}

// Errors emits watcher errors.
func (w *DBWatcher) Errors() <-chan error {
	return w.errors
}

// Relevant reports whether a file event path belongs to the database.
func (w *DBWatcher) Relevant(path string) bool {
	return filepath.Dir(path) == w.dir && w.names[filepath.Base(path)]
}

func (w *DBWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !w.Relevant(abs) {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *DBWatcher) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && now.Sub(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if ready {
				select {
				case w.changes <- struct{}{}:
				default:
				}
			}
		}
	}
}
