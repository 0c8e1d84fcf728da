package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pearls-dev/pearls/internal/types"
)

// Source is what the publisher reads. *store.DB implements it.
type Source interface {
	ListTasks(ctx context.Context, filter types.ListFilter) ([]*types.Task, error)
	DependencyCount(ctx context.Context) (int, error)
}

// Publisher turns database reads into dashboard messages.
type Publisher struct {
	src    Source
	server *Server
	logger *log.Logger

	last []byte
}

// NewPublisher creates a publisher broadcasting on server.
func NewPublisher(src Source, server *Server, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{src: src, server: server, logger: logger}
}

// Publish reads every task and broadcasts a snapshot and stats message. It
// reports whether anything was sent; an unchanged snapshot is not resent.
func (p *Publisher) Publish(ctx context.Context) (bool, error) {
	tasks, err := p.src.ListTasks(ctx, types.ListFilter{})
	if err != nil {
		return false, err
	}
	deps, err := p.src.DependencyCount(ctx)
	if err != nil {
		return false, err
	}
	if tasks == nil {
		tasks = []*types.Task{}
	}

	snapshot, err := json.Marshal(SnapshotData{Tasks: tasks})
	if err != nil {
		return false, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	stats := ComputeStats(tasks, deps)
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return false, fmt.Errorf("failed to marshal stats: %w", err)
	}

	combined := append(append([]byte{}, snapshot...), statsJSON...)
	if p.last != nil && bytes.Equal(p.last, combined) {
		return false, nil
	}
	p.last = combined

	now := time.Now()
	p.server.Broadcast(Message{Type: MessageTypeSnapshot, Timestamp: now, Data: snapshot})
	p.server.Broadcast(Message{Type: MessageTypeStats, Timestamp: now, Data: statsJSON})
	p.logger.Printf("Published %d tasks (%d ready, %d blocked)", stats.Total, stats.Ready, stats.Blocked)
	return true, nil
}

// ComputeStats counts tasks by effective state.
func ComputeStats(tasks []*types.Task, dependencies int) StatsData {
	stats := StatsData{Total: len(tasks), Dependencies: dependencies}
	for _, t := range tasks {
		switch t.State {
		case types.StateReady:
			stats.Ready++
		case types.StateBlocked:
			stats.Blocked++
		case types.StateInProgress:
			stats.InProgress++
		case types.StateClosed:
			stats.Closed++
		}
	}
	return stats
}

// RunConfig configures Run.
type RunConfig struct {
	DBPath string
	Port   int

	// DebounceInterval batches bursts of file events
	DebounceInterval time.Duration

	// RefreshInterval re-reads the database even without file events
	RefreshInterval time.Duration

	Logger *log.Logger

	// Ready, if set, is called with the listening address once serving
	Ready func(addr string)
}

// Run serves the dashboard for src until ctx is cancelled.
func Run(ctx context.Context, src Source, cfg RunConfig) error {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = 100 * time.Millisecond
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	server := NewServer(&Config{Port: cfg.Port, Logger: cfg.Logger})
	publisher := NewPublisher(src, server, cfg.Logger)

	if _, err := publisher.Publish(ctx); err != nil {
		return fmt.Errorf("initial snapshot failed: %w", err)
	}

	watcher, err := NewDBWatcher(cfg.DBPath, cfg.DebounceInterval)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	if cfg.Ready != nil {
		cfg.Ready(server.GetAddr())
	}

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watcher.Changes():
		case <-ticker.C:
		case err := <-watcher.Errors():
			server.logger.Printf("Watcher error: %v", err)
			continue
		}

		if _, err := publisher.Publish(ctx); err != nil && ctx.Err() == nil {
			server.logger.Printf("Failed to publish: %v", err)
		}
	}
}
