// Package migrate exports a pearls database to JSONL or YAML and imports it
// back.
//
// A snapshot carries each task's stored state (never the derived one) and
// every dependency edge, including edges whose tasks no longer exist, so an
// export followed by an import reproduces the same effective states.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pearls-dev/pearls/internal/tracker"
	"github.com/pearls-dev/pearls/internal/types"
)

// Format is a snapshot encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts "jsonl", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jsonl", "":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: unknown format: %s", types.ErrInvalidArgument, s)
}

// FormatForPath picks the format from a file extension, defaulting to JSONL.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSONL
}

// TaskRecord is the persisted part of a task.
type TaskRecord struct {
	ID       int64       `json:"id" yaml:"id"`
	Title    string      `json:"title" yaml:"title"`
	Desc     string      `json:"desc" yaml:"desc"`
	Priority int64       `json:"priority" yaml:"priority"`
	State    types.State `json:"state" yaml:"state"`
}

// Snapshot is the full exported content of a database.
type Snapshot struct {
	Tasks        []TaskRecord       `json:"tasks" yaml:"tasks"`
	Dependencies []types.Dependency `json:"dependencies" yaml:"dependencies"`
}

// line is one JSONL record. Exactly one of Task or Dependency is set.
type line struct {
	Type       string            `json:"type"`
	Task       *TaskRecord       `json:"task,omitempty"`
	Dependency *types.Dependency `json:"dependency,omitempty"`
}

const (
	lineTask       = "task"
	lineDependency = "dependency"
)

// Source is what Export reads from. *store.DB implements it.
type Source interface {
	ListTasks(ctx context.Context, filter types.ListFilter) ([]*types.Task, error)
	ListDependencies(ctx context.Context) ([]types.Dependency, error)
}

// Importer is what Import writes to. *tracker.Service implements it.
type Importer interface {
	Import(ctx context.Context, tasks []*types.Task, edges []types.Dependency) (*tracker.ImportStats, error)
}

// Collect reads every task and edge from src.
func Collect(ctx context.Context, src Source) (*Snapshot, error) {
	tasks, err := src.ListTasks(ctx, types.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	edges, err := src.ListDependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}

	snap := &Snapshot{
		Tasks:        make([]TaskRecord, 0, len(tasks)),
		Dependencies: edges,
	}
	if snap.Dependencies == nil {
		snap.Dependencies = []types.Dependency{}
	}
	for _, t := range tasks {
		snap.Tasks = append(snap.Tasks, TaskRecord{
			ID:       t.ID,
			Title:    t.Title,
			Desc:     t.Description,
			Priority: t.Priority,
			State:    t.StoredState,
		})
	}
	return snap, nil
}

// Write encodes snap to w.
func Write(w io.Writer, snap *Snapshot, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for i := range snap.Tasks {
			if err := enc.Encode(line{Type: lineTask, Task: &snap.Tasks[i]}); err != nil {
				return fmt.Errorf("failed to encode task %d: %w", snap.Tasks[i].ID, err)
			}
		}
		for i := range snap.Dependencies {
			if err := enc.Encode(line{Type: lineDependency, Dependency: &snap.Dependencies[i]}); err != nil {
				return fmt.Errorf("failed to encode dependency %s: %w", snap.Dependencies[i], err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: unknown format: %s", types.ErrInvalidArgument, format)
}

// WriteFile writes snap to path atomically via a temp file.
func WriteFile(path string, snap *Snapshot, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	bw := bufio.NewWriter(f)
	if err := Write(bw, snap, format); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to flush temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Read decodes a snapshot from r.
func Read(r io.Reader, format Format) (*Snapshot, error) {
	switch format {
	case FormatYAML:
		var snap Snapshot
		if err := yaml.NewDecoder(r).Decode(&snap); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
		return &snap, nil
	case FormatJSONL:
		return readJSONL(r)
	}
	return nil, fmt.Errorf("%w: unknown format: %s", types.ErrInvalidArgument, format)
}

func readJSONL(r io.Reader) (*Snapshot, error) {
	snap := &Snapshot{}
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	lineNum := 0

	for {
		var l line
		if err := decoder.Decode(&l); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		switch {
		case l.Type == lineTask && l.Task != nil:
			snap.Tasks = append(snap.Tasks, *l.Task)
		case l.Type == lineDependency && l.Dependency != nil:
			snap.Dependencies = append(snap.Dependencies, *l.Dependency)
		default:
			return nil, fmt.Errorf("%w: line %d: unknown record type %q", types.ErrInvalidArgument, lineNum, l.Type)
		}
	}
	return snap, nil
}

// ReadFile decodes the snapshot at path, choosing the format by extension.
func ReadFile(path string) (*Snapshot, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Read(bufio.NewReader(f), FormatForPath(path))
}

// Import validates snap and writes it through imp.
func Import(ctx context.Context, imp Importer, snap *Snapshot) (*tracker.ImportStats, error) {
	tasks := make([]*types.Task, 0, len(snap.Tasks))
	seen := make(map[int64]bool, len(snap.Tasks))
	for _, rec := range snap.Tasks {
		if rec.ID <= 0 {
			return nil, fmt.Errorf("%w: task id must be positive (got %d)", types.ErrInvalidArgument, rec.ID)
		}
		if seen[rec.ID] {
			return nil, fmt.Errorf("%w: duplicate task id %d", types.ErrInvalidArgument, rec.ID)
		}
		seen[rec.ID] = true

		state := rec.State
		if state == "" {
			state = types.StateReady
		}
		if !state.IsValid() {
			return nil, fmt.Errorf("%w: task %d: unknown state: %s", types.ErrInvalidArgument, rec.ID, rec.State)
		}
		tasks = append(tasks, &types.Task{
			ID:          rec.ID,
			Title:       rec.Title,
			Description: rec.Desc,
			Priority:    rec.Priority,
			StoredState: state,
		})
	}
	return imp.Import(ctx, tasks, snap.Dependencies)
}
