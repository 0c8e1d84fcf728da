package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, the lock and both front ends.
//
// Use errors.Is to classify:
//
//	if errors.Is(err, types.ErrNotFound) {
//	    // report a missing task
//	}
var (
	// ErrNotFound is returned when a requested task does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for unparseable states, non-integer
	// identifiers and malformed filters or tool arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorage is returned when the underlying database fails.
	ErrStorage = errors.New("storage error")

	// ErrLock is returned when the cross-process lock cannot be acquired or
	// released.
	ErrLock = errors.New("lock error")
)

// NotFoundError names the missing task.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError wraps a database failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// LockError wraps a failure to acquire or release the lock at Path.
type LockError struct {
	Path string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %s: %v", e.Path, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

func (e *LockError) Is(target error) bool {
	return target == ErrLock
}

// Machine-readable error codes used by the tool surface.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeStorage         = "storage_error"
	CodeLock            = "lock_error"
	CodeInternal        = "internal_error"
)

// ErrorCode classifies err into one of the Code* constants.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrLock):
		return CodeLock
	case errors.Is(err, ErrStorage):
		return CodeStorage
	default:
		return CodeInternal
	}
}
