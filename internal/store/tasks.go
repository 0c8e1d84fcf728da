package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pearls-dev/pearls/internal/types"
)

const taskColumns = `id, title, "desc", priority, state`

// AddTask inserts a task and returns its resolved view.
//
// A nil priority lets the column default (1) apply. New tasks are always
// stored as ready and have no edges yet.
func (db *DB) AddTask(ctx context.Context, title, description string, priority *int64) (*types.Task, error) {
	columns := []string{"title", `"desc"`}
	args := []any{title, description}
	if priority != nil {
		columns = append(columns, "priority")
		args = append(args, *priority)
	}

	query := fmt.Sprintf("INSERT INTO tasks (%s) VALUES (%s)",
		strings.Join(columns, ", "), placeholders(len(columns)))

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("insert task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("read inserted task id", err)
	}

	return db.GetTask(ctx, id)
}

// PutTask inserts or replaces the row for task.ID with the task's stored
// state. Edges are not touched. Used by import.
func (db *DB) PutTask(ctx context.Context, task *types.Task) error {
	if task.ID <= 0 {
		return fmt.Errorf("%w: task id must be positive (got %d)", types.ErrInvalidArgument, task.ID)
	}
	state := task.StoredState
	if state == "" {
		state = types.StateReady
	}
	if !state.IsValid() {
		return fmt.Errorf("%w: unknown state: %s", types.ErrInvalidArgument, state)
	}

	query := `
	INSERT INTO tasks (id, title, "desc", priority, state)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		"desc" = excluded."desc",
		priority = excluded.priority,
		state = excluded.state
	`
	if _, err := db.conn.ExecContext(ctx, query,
		task.ID, task.Title, task.Description, task.Priority, string(state)); err != nil {
		return storageErr(fmt.Sprintf("upsert task %d", task.ID), err)
	}
	return nil
}

// GetTask retrieves a single resolved task. Returns *types.NotFoundError if
// no row has the id.
func (db *DB) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, storageErr(fmt.Sprintf("load task %d", id), err)
	}

	if err := db.resolve(ctx, []*types.Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks fetches every task, resolves the whole batch, then filters by
// effective state and paginates the filtered result. Results are ordered by
// ascending id.
func (db *DB) ListTasks(ctx context.Context, filter types.ListFilter) ([]*types.Task, error) {
	if filter.Offset < 0 || filter.Limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", types.ErrInvalidArgument)
	}

	rows, err := db.conn.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY id ASC")
	if err != nil {
		return nil, storageErr("list tasks", err)
	}
	defer rows.Close()

	all, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	if err := db.resolve(ctx, all); err != nil {
		return nil, err
	}

	filtered := make([]*types.Task, 0, len(all))
	for _, t := range all {
		if filter.Matches(t.State) {
			filtered = append(filtered, t)
		}
	}

	return paginate(filtered, filter.Offset, filter.Limit), nil
}

// UpdateMetadata applies the supplied fields of update to task id.
//
// It returns the number of columns written. With no fields supplied it
// returns 0 without touching the database, so 0 says nothing about whether
// id exists. When fields are supplied and no row matched, it returns
// *types.NotFoundError.
func (db *DB) UpdateMetadata(ctx context.Context, id int64, update types.MetadataUpdate) (int, error) {
	var sets []string
	var args []any

	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Description != nil {
		sets = append(sets, `"desc" = ?`)
		args = append(args, *update.Description)
	}
	if update.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *update.Priority)
	}
	if update.State != nil {
		if !update.State.IsValid() {
			return 0, fmt.Errorf("%w: unknown state: %s", types.ErrInvalidArgument, *update.State)
		}
		sets = append(sets, "state = ?")
		args = append(args, string(*update.State))
	}

	if len(sets) == 0 {
		return 0, nil
	}

	args = append(args, id)
	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr(fmt.Sprintf("update task %d", id), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(fmt.Sprintf("update task %d", id), err)
	}
	if affected == 0 {
		return 0, &types.NotFoundError{ID: id}
	}

	return len(sets), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var task types.Task
	var title, desc sql.NullString
	var state string

	if err := row.Scan(&task.ID, &title, &desc, &task.Priority, &state); err != nil {
		return nil, err
	}

	task.Title = title.String
	task.Description = desc.String
	task.StoredState = types.State(state)
	task.State = task.StoredState
	task.Parents = []int64{}
	task.Children = []int64{}
	return &task, nil
}

// scanTasks scans every row into tasks.
func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, storageErr("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate tasks", err)
	}
	return tasks, nil
}

func paginate(tasks []*types.Task, offset, limit int) []*types.Task {
	if offset >= len(tasks) {
		return []*types.Task{}
	}
	tasks = tasks[offset:]
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}
