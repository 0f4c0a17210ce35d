package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marketorder/gateway/internal/model"
)

// ResultStore is the durable order_hash -> serialized Task mapping with
// take-once read semantics (§4.4, §8 law 5): at most one successful read
// after a Task goes terminal.
type ResultStore struct{}

// NewResultStore returns a ResultStore backed by the shared pool.
func NewResultStore() *ResultStore { return &ResultStore{} }

// Insert persists a terminal Task snapshot. Best-effort: callers log and
// continue on error per §7's propagation policy for worker-loop database
// errors.
func (s *ResultStore) Insert(ctx context.Context, task model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	_, err = Pool().Exec(ctx, `
		INSERT INTO completed_tasks (order_hash, data, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_hash) DO UPDATE SET data = EXCLUDED.data`,
		task.OrderHash, string(data), time.Now().Unix())
	return err
}

// TakeOnce deletes and returns the row for hash, so a second call for the
// same hash returns ErrNotFound — the DELETE ... RETURNING pattern named in
// §4.4 and §8.
func (s *ResultStore) TakeOnce(ctx context.Context, hash string) (model.Task, error) {
	row := Pool().QueryRow(ctx, `
		DELETE FROM completed_tasks WHERE order_hash = $1
		RETURNING data`, hash)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, err
	}

	var task model.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return model.Task{}, err
	}
	return task, nil
}
