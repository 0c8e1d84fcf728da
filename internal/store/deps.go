package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pearls-dev/pearls/internal/graph"
	"github.com/pearls-dev/pearls/internal/types"
)

// AddDependency inserts the edge parent -> child. Inserting an existing edge
// is a no-op.
func (db *DB) AddDependency(ctx context.Context, parentID, childID int64) error {
	query := `
	INSERT INTO dependencies (parent_id, child_id)
	VALUES (?, ?)
	ON CONFLICT(parent_id, child_id) DO NOTHING
	`
	if _, err := db.conn.ExecContext(ctx, query, parentID, childID); err != nil {
		return storageErr(fmt.Sprintf("add dependency %d->%d", parentID, childID), err)
	}
	return nil
}

// RemoveDependency deletes the edge parent -> child. Deleting a missing edge
// is a no-op.
func (db *DB) RemoveDependency(ctx context.Context, parentID, childID int64) error {
	query := `DELETE FROM dependencies WHERE parent_id = ? AND child_id = ?`
	if _, err := db.conn.ExecContext(ctx, query, parentID, childID); err != nil {
		return storageErr(fmt.Sprintf("remove dependency %d->%d", parentID, childID), err)
	}
	return nil
}

// UpdateDependency edits the edges around task id in a fixed order:
// add parents, remove parents, add children, remove children. An id present
// in both an add and a remove list for the same role ends up removed.
//
// Each edge is its own statement. A failure stops the sequence and leaves
// the edges applied so far in place.
func (db *DB) UpdateDependency(ctx context.Context, id int64, update types.DependencyUpdate) error {
	for _, parent := range update.AddParents {
		if err := db.AddDependency(ctx, parent, id); err != nil {
			return err
		}
	}
	for _, parent := range update.RemoveParents {
		if err := db.RemoveDependency(ctx, parent, id); err != nil {
			return err
		}
	}
	for _, child := range update.AddChildren {
		if err := db.AddDependency(ctx, id, child); err != nil {
			return err
		}
	}
	for _, child := range update.RemoveChildren {
		if err := db.RemoveDependency(ctx, id, child); err != nil {
			return err
		}
	}
	return nil
}

// ListDependencies returns every edge ordered by parent then child.
func (db *DB) ListDependencies(ctx context.Context) ([]types.Dependency, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT parent_id, child_id FROM dependencies ORDER BY parent_id ASC, child_id ASC`)
	if err != nil {
		return nil, storageErr("list dependencies", err)
	}
	defer rows.Close()

	return scanEdges(rows)
}

// resolve attaches adjacency and effective state to a batch of tasks.
//
// It issues at most two queries regardless of batch size: one for every edge
// touching the batch and one for the stored states of parents outside it.
// Id sets are passed as a single JSON array and expanded with json_each, so
// large batches never hit the bound-parameter limit.
func (db *DB) resolve(ctx context.Context, tasks []*types.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	ids, err := idsJSON(graph.IDsOf(tasks))
	if err != nil {
		return err
	}

	rows, err := db.conn.QueryContext(ctx, `
	SELECT parent_id, child_id
	FROM dependencies
	WHERE child_id IN (SELECT value FROM json_each(?))
	   OR parent_id IN (SELECT value FROM json_each(?))
	`, ids, ids)
	if err != nil {
		return storageErr("load dependencies", err)
	}
	edges, err := scanEdges(rows)
	rows.Close()
	if err != nil {
		return err
	}

	states := graph.StatesOf(tasks)
	if missing := graph.MissingParents(edges, states); len(missing) > 0 {
		if err := db.loadStates(ctx, missing, states); err != nil {
			return err
		}
	}

	graph.Resolve(tasks, edges, states)
	return nil
}

// loadStates adds the stored state of each id that exists to states.
func (db *DB) loadStates(ctx context.Context, ids []int64, states map[int64]types.State) error {
	arg, err := idsJSON(ids)
	if err != nil {
		return err
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, state FROM tasks WHERE id IN (SELECT value FROM json_each(?))`, arg)
	if err != nil {
		return storageErr("load parent states", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var state string
		if err := rows.Scan(&id, &state); err != nil {
			return storageErr("scan parent state", err)
		}
		states[id] = types.State(state)
	}
	if err := rows.Err(); err != nil {
		return storageErr("iterate parent states", err)
	}
	return nil
}

func scanEdges(rows *sql.Rows) ([]types.Dependency, error) {
	var edges []types.Dependency
	for rows.Next() {
		var e types.Dependency
		if err := rows.Scan(&e.ParentID, &e.ChildID); err != nil {
			return nil, storageErr("scan dependency", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate dependencies", err)
	}
	return edges, nil
}

func idsJSON(ids []int64) (string, error) {
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ids: %w", err)
	}
	return string(data), nil
}
