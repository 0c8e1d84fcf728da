// Package types defines the task model shared by the store, the deriver and
// both front ends.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// State is a task status. The same values are used for the persisted stored
// state and for the derived effective state.
type State string

const (
	StateReady      State = "ready"
	StateBlocked    State = "blocked"
	StateInProgress State = "in_progress"
	StateClosed     State = "closed"
)

// AllStates lists every state in display order.
var AllStates = []State{StateReady, StateBlocked, StateInProgress, StateClosed}

// DefaultListStates is the filter used by `tasks list` and tasks.list when no
// state is given: everything that is not closed.
func DefaultListStates() []State {
	return []State{StateReady, StateBlocked, StateInProgress}
}

// IsValid reports whether s is one of the known states.
func (s State) IsValid() bool {
	switch s {
	case StateReady, StateBlocked, StateInProgress, StateClosed:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// ParseState parses a single state name. Surrounding whitespace is ignored
// and "in-progress" is accepted as an alias of "in_progress".
func ParseState(value string) (State, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, "-", "_")
	s := State(v)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: unknown state: %s", ErrInvalidArgument, value)
	}
	return s, nil
}

// ParseStates parses a comma separated list of state names. Duplicates are
// dropped; an empty string yields an empty (unfiltered) list.
func ParseStates(value string) ([]State, error) {
	var states []State
	seen := make(map[State]bool)
	for _, part := range strings.Split(value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseState(part)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		states = append(states, s)
	}
	return states, nil
}

// Task is the resolved view of a task row.
//
// StoredState is the persisted value. State is the effective state computed
// at read time from StoredState and the stored states of the task's parents;
// it is never written back.
type Task struct {
	ID          int64   `json:"id" yaml:"id"`
	Title       string  `json:"title" yaml:"title"`
	Description string  `json:"desc" yaml:"desc"`
	Priority    int64   `json:"priority" yaml:"priority"`
	State       State   `json:"state" yaml:"state"`
	StoredState State   `json:"stored_state" yaml:"stored_state"`
	Parents     []int64 `json:"parents" yaml:"parents"`
	Children    []int64 `json:"children" yaml:"children"`
}

// DefaultPriority is applied when a task is added without a priority.
const DefaultPriority int64 = 1

// Dependency is a directed edge: Child cannot be ready while Parent is open.
type Dependency struct {
	ParentID int64 `json:"parent_id" yaml:"parent_id"`
	ChildID  int64 `json:"child_id" yaml:"child_id"`
}

func (d Dependency) String() string {
	return fmt.Sprintf("%d->%d", d.ParentID, d.ChildID)
}

// ListFilter selects tasks by effective state. An empty States slice means
// no filtering. Offset and Limit apply to the filtered result; Limit 0 means
// no limit.
type ListFilter struct {
	States []State
	Offset int
	Limit  int
}

// Matches reports whether a task with the given effective state passes the
// state filter.
func (f ListFilter) Matches(s State) bool {
	if len(f.States) == 0 {
		return true
	}
	for _, want := range f.States {
		if want == s {
			return true
		}
	}
	return false
}

// MetadataUpdate carries the optional fields of update-metadata. Nil fields
// are left untouched.
type MetadataUpdate struct {
	Title       *string
	Description *string
	Priority    *int64
	State       *State
}

// IsEmpty reports whether no field was supplied.
func (u MetadataUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil && u.State == nil
}

// DependencyUpdate lists the edges to add and remove around one task. They
// are applied in field order: AddParents, RemoveParents, AddChildren,
// RemoveChildren.
type DependencyUpdate struct {
	AddParents     []int64
	RemoveParents  []int64
	AddChildren    []int64
	RemoveChildren []int64
}

// IsEmpty reports whether the update would touch no edge.
func (u DependencyUpdate) IsEmpty() bool {
	return len(u.AddParents) == 0 && len(u.RemoveParents) == 0 &&
		len(u.AddChildren) == 0 && len(u.RemoveChildren) == 0
}

// SortIDs sorts ids ascending in place and returns them.
func SortIDs(ids []int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
