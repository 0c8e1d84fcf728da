// Package tracker is the operation layer shared by the CLI and the tool
// server.
//
// Reads go straight to the store. Every mutation runs with the database's
// advisory lock held, so multi-statement sequences (claim-next's select then
// update, add-then-link) are not interleaved with other writers. The
// sequences are still not transactional: a failure part way leaves the
// statements already executed in place.
package tracker

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pearls-dev/pearls/internal/types"
)

// Store is the subset of *store.DB the tracker needs.
type Store interface {
	AddTask(ctx context.Context, title, description string, priority *int64) (*types.Task, error)
	PutTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, id int64) (*types.Task, error)
	ListTasks(ctx context.Context, filter types.ListFilter) ([]*types.Task, error)
	UpdateMetadata(ctx context.Context, id int64, update types.MetadataUpdate) (int, error)
	AddDependency(ctx context.Context, parentID, childID int64) error
	UpdateDependency(ctx context.Context, id int64, update types.DependencyUpdate) error
	ClaimNext(ctx context.Context) (*types.Task, error)
}

// Locker is the cross-process writer lock. *lock.FileLock implements it.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// Config holds configuration for the service.
type Config struct {
	// Logger for tracker activity
	Logger *log.Logger
}

// DefaultConfig returns a config that logs to stderr.
func DefaultConfig() *Config {
	return &Config{
		Logger: log.New(os.Stderr, "[tracker] ", log.LstdFlags),
	}
}

// Service runs task operations against a store.
type Service struct {
	store  Store
	locker Locker
	logger *log.Logger
}

// New creates a Service. A nil config uses DefaultConfig.
func New(store Store, locker Locker, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{store: store, locker: locker, logger: logger}
}

// withLock runs fn while holding the writer lock. The lock is released on
// every return path, including a panic in fn.
func (s *Service) withLock(ctx context.Context, fn func() error) (err error) {
	if err := s.locker.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if unlockErr := s.locker.Unlock(); unlockErr != nil {
			s.logger.Printf("Warning: failed to release lock: %v", unlockErr)
			if err == nil {
				err = unlockErr
			}
		}
	}()
	return fn()
}

// List returns tasks whose effective state matches filter.
func (s *Service) List(ctx context.Context, filter types.ListFilter) ([]*types.Task, error) {
	return s.store.ListTasks(ctx, filter)
}

// Ready returns every task whose effective state is ready.
func (s *Service) Ready(ctx context.Context) ([]*types.Task, error) {
	return s.store.ListTasks(ctx, types.ListFilter{States: []types.State{types.StateReady}})
}

// Get returns one resolved task.
func (s *Service) Get(ctx context.Context, id int64) (*types.Task, error) {
	return s.store.GetTask(ctx, id)
}

// AddRequest describes a new task and optional links to existing ones.
type AddRequest struct {
	Title       string
	Description string
	Priority    *int64

	// ParentOf makes the new task a parent of this id.
	ParentOf *int64
	// ChildOf makes the new task a child of this id.
	ChildOf *int64
}

// AddResult is the created task plus any link failures.
type AddResult struct {
	Task *types.Task

	// Warnings holds link errors. The task exists even when this is non-empty.
	Warnings []error
}

// Add inserts a task and then links it. Link failures do not undo the
// insert; they are returned as warnings next to the created task.
func (s *Service) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	var result *AddResult
	err := s.withLock(ctx, func() error {
		task, err := s.store.AddTask(ctx, req.Title, req.Description, req.Priority)
		if err != nil {
			return err
		}
		s.logger.Printf("Added task %d", task.ID)
		result = &AddResult{Task: task}

		linked := false
		if req.ParentOf != nil {
			if err := s.store.AddDependency(ctx, task.ID, *req.ParentOf); err != nil {
				s.logger.Printf("Warning: task %d created but not linked as parent of %d: %v", task.ID, *req.ParentOf, err)
				result.Warnings = append(result.Warnings,
					fmt.Errorf("failed to link task %d as parent of %d: %w", task.ID, *req.ParentOf, err))
			} else {
				linked = true
			}
		}
		if req.ChildOf != nil {
			if err := s.store.AddDependency(ctx, *req.ChildOf, task.ID); err != nil {
				s.logger.Printf("Warning: task %d created but not linked as child of %d: %v", task.ID, *req.ChildOf, err)
				result.Warnings = append(result.Warnings,
					fmt.Errorf("failed to link task %d as child of %d: %w", task.ID, *req.ChildOf, err))
			} else {
				linked = true
			}
		}

		if linked {
			reread, err := s.store.GetTask(ctx, task.ID)
			if err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Errorf("failed to reload task %d: %w", task.ID, err))
				return nil
			}
			result.Task = reread
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateMetadata applies the supplied fields to task id and returns the
// updated task and how many fields were written.
//
// changed == 0 means no field was supplied; the task is nil in that case
// and the id was not checked.
func (s *Service) UpdateMetadata(ctx context.Context, id int64, update types.MetadataUpdate) (*types.Task, int, error) {
	var task *types.Task
	var changed int
	err := s.withLock(ctx, func() error {
		n, err := s.store.UpdateMetadata(ctx, id, update)
		if err != nil {
			return err
		}
		changed = n
		if n == 0 {
			return nil
		}
		s.logger.Printf("Updated %d field(s) on task %d", n, id)
		task, err = s.store.GetTask(ctx, id)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return task, changed, nil
}

// UpdateDependency edits the edges around task id and returns it resolved.
// The task itself must exist; the ids on the other end of each edge are not
// checked.
func (s *Service) UpdateDependency(ctx context.Context, id int64, update types.DependencyUpdate) (*types.Task, error) {
	var task *types.Task
	err := s.withLock(ctx, func() error {
		if _, err := s.store.GetTask(ctx, id); err != nil {
			return err
		}
		if err := s.store.UpdateDependency(ctx, id, update); err != nil {
			return err
		}
		s.logger.Printf("Updated dependencies of task %d", id)

		var err error
		task, err = s.store.GetTask(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ClaimNext moves the most urgent ready task to in_progress. It returns nil
// when nothing is ready.
func (s *Service) ClaimNext(ctx context.Context) (*types.Task, error) {
	var task *types.Task
	err := s.withLock(ctx, func() error {
		var err error
		task, err = s.store.ClaimNext(ctx)
		if err != nil {
			return err
		}
		if task != nil {
			s.logger.Printf("Claimed task %d", task.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ImportStats counts what Import wrote.
type ImportStats struct {
	Tasks        int
	Dependencies int
}

// Import writes tasks with their ids and stored states, then the edges.
// Existing rows with the same id are replaced. Nothing is rolled back on
// failure.
func (s *Service) Import(ctx context.Context, tasks []*types.Task, edges []types.Dependency) (*ImportStats, error) {
	stats := &ImportStats{}
	err := s.withLock(ctx, func() error {
		for _, t := range tasks {
			if err := s.store.PutTask(ctx, t); err != nil {
				return err
			}
			stats.Tasks++
		}
		for _, e := range edges {
			if err := s.store.AddDependency(ctx, e.ParentID, e.ChildID); err != nil {
				return err
			}
			stats.Dependencies++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	s.logger.Printf("Imported %d tasks, %d dependencies", stats.Tasks, stats.Dependencies)
	return stats, nil
}
