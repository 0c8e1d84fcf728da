// Package graph derives dependency adjacency and effective task states for a
// batch of tasks.
//
// Everything here is pure: the store fetches the batch, the edges touching it
// and the stored states of any parents outside it, then hands them to
// Resolve. Nothing computed here is ever written back.
package graph

import (
	"github.com/pearls-dev/pearls/internal/types"
)

// EffectiveState applies the blocking rule to a single task.
//
// A closed task is always closed. Otherwise, if any parent is not closed the
// task is blocked; if every parent is closed (or there are none) the stored
// state stands. Blocking only demotes: an in-progress task whose parents all
// closed stays in progress.
func EffectiveState(stored types.State, parentStates []types.State) types.State {
	if stored == types.StateClosed {
		return types.StateClosed
	}
	for _, ps := range parentStates {
		if ps != types.StateClosed {
			return types.StateBlocked
		}
	}
	return stored
}

// Adjacency builds parent and child lists from an edge set. Lists are sorted
// ascending and duplicate edges are collapsed.
func Adjacency(edges []types.Dependency) (parentsByChild, childrenByParent map[int64][]int64) {
	parentsByChild = make(map[int64][]int64)
	childrenByParent = make(map[int64][]int64)

	seen := make(map[types.Dependency]bool, len(edges))
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		parentsByChild[e.ChildID] = append(parentsByChild[e.ChildID], e.ParentID)
		childrenByParent[e.ParentID] = append(childrenByParent[e.ParentID], e.ChildID)
	}

	for _, ids := range parentsByChild {
		types.SortIDs(ids)
	}
	for _, ids := range childrenByParent {
		types.SortIDs(ids)
	}
	return parentsByChild, childrenByParent
}

// MissingParents returns the parent ids referenced by edges whose stored
// state is not in known, sorted ascending. The store fetches these in one
// extra query.
func MissingParents(edges []types.Dependency, known map[int64]types.State) []int64 {
	seen := make(map[int64]bool)
	var missing []int64
	for _, e := range edges {
		if _, ok := known[e.ParentID]; ok {
			continue
		}
		if seen[e.ParentID] {
			continue
		}
		seen[e.ParentID] = true
		missing = append(missing, e.ParentID)
	}
	return types.SortIDs(missing)
}

// Resolve attaches parents and children to each task and computes its
// effective state.
//
// states must hold the stored state of every task in the batch and of every
// parent the store could find. A parent with no entry (a dangling edge to a
// task that does not exist) never blocks.
func Resolve(tasks []*types.Task, edges []types.Dependency, states map[int64]types.State) {
	parentsByChild, childrenByParent := Adjacency(edges)

	for _, task := range tasks {
		task.Parents = append([]int64{}, parentsByChild[task.ID]...)
		task.Children = append([]int64{}, childrenByParent[task.ID]...)

		var parentStates []types.State
		for _, pid := range task.Parents {
			if s, ok := states[pid]; ok {
				parentStates = append(parentStates, s)
			}
		}
		task.State = EffectiveState(task.StoredState, parentStates)
	}
}

// StatesOf indexes the stored state of each task by id.
func StatesOf(tasks []*types.Task) map[int64]types.State {
	states := make(map[int64]types.State, len(tasks))
	for _, t := range tasks {
		states[t.ID] = t.StoredState
	}
	return states
}

// IDsOf returns the ids of tasks in order.
func IDsOf(tasks []*types.Task) []int64 {
	ids := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
