package graph

import (
	"reflect"
	"testing"

	"github.com/pearls-dev/pearls/internal/types"
)

func task(id int64, stored types.State) *types.Task {
	return &types.Task{ID: id, Priority: 1, StoredState: stored}
}

func TestEffectiveState(t *testing.T) {
	closed := types.StateClosed
	ready := types.StateReady
	inProgress := types.StateInProgress
	blocked := types.StateBlocked

	tests := []struct {
		name    string
		stored  types.State
		parents []types.State
		want    types.State
	}{
		{"no parents keeps ready", ready, nil, ready},
		{"no parents keeps stored blocked", blocked, nil, blocked},
		{"no parents keeps in progress", inProgress, nil, inProgress},
		{"open parent blocks ready", ready, []types.State{ready}, blocked},
		{"open parent blocks in progress", inProgress, []types.State{inProgress}, blocked},
		{"one of many open parents blocks", ready, []types.State{closed, blocked, closed}, blocked},
		{"closed parents restore ready", ready, []types.State{closed, closed}, ready},
		{"closed parents do not reset in progress", inProgress, []types.State{closed}, inProgress},
		{"closed stays closed with open parent", closed, []types.State{ready}, closed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveState(tt.stored, tt.parents); got != tt.want {
				t.Errorf("EffectiveState(%q, %v) = %q, want %q", tt.stored, tt.parents, got, tt.want)
			}
		})
	}
}

func TestAdjacency_SortsAndDedupes(t *testing.T) {
	edges := []types.Dependency{
		{ParentID: 5, ChildID: 1},
		{ParentID: 2, ChildID: 1},
		{ParentID: 5, ChildID: 1},
		{ParentID: 1, ChildID: 9},
		{ParentID: 1, ChildID: 3},
	}

	parents, children := Adjacency(edges)

	if got := parents[1]; !reflect.DeepEqual(got, []int64{2, 5}) {
		t.Errorf("parents[1] = %v, want [2 5]", got)
	}
	if got := children[1]; !reflect.DeepEqual(got, []int64{3, 9}) {
		t.Errorf("children[1] = %v, want [3 9]", got)
	}
	if got := children[5]; !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("children[5] = %v, want [1]", got)
	}
}

func TestMissingParents(t *testing.T) {
	edges := []types.Dependency{
		{ParentID: 10, ChildID: 1},
		{ParentID: 2, ChildID: 1},
		{ParentID: 10, ChildID: 3},
		{ParentID: 7, ChildID: 2},
	}
	known := map[int64]types.State{1: types.StateReady, 2: types.StateReady, 3: types.StateReady}

	got := MissingParents(edges, known)
	if !reflect.DeepEqual(got, []int64{7, 10}) {
		t.Errorf("MissingParents = %v, want [7 10]", got)
	}
}

func TestResolve(t *testing.T) {
	parent := task(1, types.StateReady)
	child := task(2, types.StateReady)
	loner := task(3, types.StateInProgress)
	tasks := []*types.Task{parent, child, loner}
	edges := []types.Dependency{{ParentID: 1, ChildID: 2}}

	Resolve(tasks, edges, StatesOf(tasks))

	if parent.State != types.StateReady {
		t.Errorf("parent state = %q, want ready", parent.State)
	}
	if !reflect.DeepEqual(parent.Children, []int64{2}) || len(parent.Parents) != 0 {
		t.Errorf("parent adjacency = %v / %v", parent.Parents, parent.Children)
	}
	if child.State != types.StateBlocked {
		t.Errorf("child state = %q, want blocked", child.State)
	}
	if child.StoredState != types.StateReady {
		t.Errorf("child stored state changed to %q", child.StoredState)
	}
	if loner.State != types.StateInProgress {
		t.Errorf("loner state = %q, want in_progress", loner.State)
	}
	if loner.Parents == nil || loner.Children == nil {
		t.Error("adjacency lists should be empty, not nil")
	}
}

func TestResolve_ClosingParentRevertsToStoredState(t *testing.T) {
	parent := task(1, types.StateClosed)
	child := task(2, types.StateInProgress)
	tasks := []*types.Task{parent, child}

	Resolve(tasks, []types.Dependency{{ParentID: 1, ChildID: 2}}, StatesOf(tasks))

	if child.State != types.StateInProgress {
		t.Errorf("child state = %q, want in_progress", child.State)
	}
}

func TestResolve_ParentOutsideBatch(t *testing.T) {
	child := task(2, types.StateReady)
	states := StatesOf([]*types.Task{child})
	states[1] = types.StateInProgress

	Resolve([]*types.Task{child}, []types.Dependency{{ParentID: 1, ChildID: 2}}, states)

	if child.State != types.StateBlocked {
		t.Errorf("child state = %q, want blocked", child.State)
	}
}

func TestResolve_DanglingParentDoesNotBlock(t *testing.T) {
	child := task(2, types.StateReady)
	tasks := []*types.Task{child}

	Resolve(tasks, []types.Dependency{{ParentID: 99, ChildID: 2}}, StatesOf(tasks))

	if child.State != types.StateReady {
		t.Errorf("child state = %q, want ready", child.State)
	}
	if !reflect.DeepEqual(child.Parents, []int64{99}) {
		t.Errorf("parents = %v, want [99]", child.Parents)
	}
}

func TestResolve_CycleBlocksBothSides(t *testing.T) {
	a := task(1, types.StateReady)
	b := task(2, types.StateReady)
	tasks := []*types.Task{a, b}
	edges := []types.Dependency{{ParentID: 1, ChildID: 2}, {ParentID: 2, ChildID: 1}}

	Resolve(tasks, edges, StatesOf(tasks))

	if a.State != types.StateBlocked || b.State != types.StateBlocked {
		t.Errorf("states = %q, %q; want both blocked", a.State, b.State)
	}
}
