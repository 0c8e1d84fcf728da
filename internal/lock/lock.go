// Package lock provides the cross-process advisory lock that serializes
// writers on a pearls database.
//
// The lock is an exclusive flock(2) on a sibling file: the database path with
// its extension replaced by ".lock" (pearls.db -> pearls.lock). Readers never
// take it. The kernel drops the lock when the holding process exits, so a
// crashed writer cannot wedge the store.
package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pearls-dev/pearls/internal/types"
)

// ErrWouldBlock is returned by TryLock when another holder owns the lock.
var ErrWouldBlock = errors.New("lock held by another process")

// pollInterval is how often Lock retries while waiting on a context.
const pollInterval = 10 * time.Millisecond

// PathFor returns the lock file path for a database path.
func PathFor(dbPath string) string {
	ext := filepath.Ext(dbPath)
	return strings.TrimSuffix(dbPath, ext) + ".lock"
}

// FileLock is an exclusive advisory lock on a lock file.
//
// One FileLock may be shared by goroutines: Lock waits for the current
// holder in this process before contending for the file. Separate FileLock
// values on the same path also exclude each other, since each holds its own
// open file description.
type FileLock struct {
	path string

	// turn has capacity one and is full while a goroutine owns this handle,
	// from acquisition through Unlock.
	turn chan struct{}

	mu   sync.Mutex
	file *os.File
}

// New returns an unlocked FileLock guarding the database at dbPath.
func New(dbPath string) *FileLock {
	return &FileLock{
		path: PathFor(dbPath),
		turn: make(chan struct{}, 1),
	}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return &types.LockError{Path: l.path, Err: ctx.Err()}
	}

	for {
		err := l.flock()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			<-l.turn
			return err
		}

		select {
		case <-ctx.Done():
			<-l.turn
			return &types.LockError{Path: l.path, Err: ctx.Err()}
		case <-time.After(pollInterval):
		}
	}
}

// TryLock acquires the lock without waiting. It returns an error wrapping
// ErrWouldBlock if another goroutine or process holds it.
func (l *FileLock) TryLock() error {
	select {
	case l.turn <- struct{}{}:
	default:
		return &types.LockError{Path: l.path, Err: ErrWouldBlock}
	}

	if err := l.flock(); err != nil {
		<-l.turn
		return err
	}
	return nil
}

// flock opens the lock file and takes the kernel lock without waiting. The
// caller must own l.turn.
func (l *FileLock) flock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return &types.LockError{Path: l.path, Err: err}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return &types.LockError{Path: l.path, Err: err}
	}

	if err := tryFlock(f); err != nil {
		_ = f.Close()
		return &types.LockError{Path: l.path, Err: err}
	}

	l.file = f
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *FileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	unlockErr := unflock(f)
	closeErr := f.Close()
	<-l.turn

	if unlockErr != nil {
		return &types.LockError{Path: l.path, Err: unlockErr}
	}
	if closeErr != nil {
		return &types.LockError{Path: l.path, Err: closeErr}
	}
	return nil
}

// Held reports whether this handle currently owns the lock.
func (l *FileLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}
