package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pearls-dev/pearls/internal/types"
)

// readyQuery selects the most urgent task whose effective state is ready:
// stored ready with no existing parent that is still open. Parents without a
// task row are ignored, matching graph.Resolve.
const readyQuery = `
SELECT t.id
FROM tasks t
WHERE t.state = 'ready'
  AND NOT EXISTS (
	SELECT 1
	FROM dependencies d
	JOIN tasks p ON p.id = d.parent_id
	WHERE d.child_id = t.id AND p.state != 'closed'
  )
ORDER BY t.priority ASC, t.id ASC
LIMIT 1
`

// NextReady returns the id of the task ClaimNext would pick, or 0 when no
// task is ready.
func (db *DB) NextReady(ctx context.Context) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, readyQuery).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("select next ready task", err)
	}
	return id, nil
}

// ClaimNext moves the most urgent ready task (lowest priority, then lowest
// id) to in_progress and returns it resolved. It returns nil, nil when no
// task is ready.
//
// Selection and update are separate statements. The caller must hold the
// advisory lock; the state guard on the update only keeps an unlocked racer
// from double-claiming, it does not make the pair atomic.
func (db *DB) ClaimNext(ctx context.Context) (*types.Task, error) {
	for {
		id, err := db.NextReady(ctx)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, nil
		}

		res, err := db.conn.ExecContext(ctx,
			`UPDATE tasks SET state = 'in_progress' WHERE id = ? AND state = 'ready'`, id)
		if err != nil {
			return nil, storageErr("claim task", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, storageErr("claim task", err)
		}
		if affected == 0 {
			db.logger.Printf("Task %d changed between select and claim, retrying", id)
			continue
		}

		return db.GetTask(ctx, id)
	}
}
