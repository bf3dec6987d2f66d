package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rozdum/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, customer_id, executor_id, category, tags, description, price,
	       priority, frozen_amount, status, created_at, updated_at, completed_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var tags []byte
	err := row.Scan(&t.ID, &t.CustomerID, &t.ExecutorID, &t.Category, &tags, &t.Description, &t.Price,
		&t.Priority, &t.FrozenAmount, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &t.Tags)
	}
	return &t, nil
}

func (r *TaskRepo) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// UpdateStatusIf performs a compare-and-set on the task status. It reports
// whether the row was actually moved; a false return means someone else won
// the race or the task was not in the expected state.
func (r *TaskRepo) UpdateStatusIf(ctx context.Context, id int64, from, to string) (bool, error) {
	if !models.IsValidTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = now() WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type TaskFilter struct {
	CustomerID *int64
	ExecutorID *int64
	Status     *string
	Limit      int
	Offset     int
}

func (r *TaskRepo) List(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.CustomerID != nil {
		where = append(where, fmt.Sprintf("customer_id = $%d", argIdx))
		args = append(args, *f.CustomerID)
		argIdx++
	}
	if f.ExecutorID != nil {
		where = append(where, fmt.Sprintf("executor_id = $%d", argIdx))
		args = append(args, *f.ExecutorID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// SearchingWithoutPendingOffer lists tasks stuck in searching with no live
// offer — the worker periodically feeds these back to the dispatcher.
func (r *TaskRepo) SearchingWithoutPendingOffer(ctx context.Context, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		WHERE t.status = 'searching'
		  AND NOT EXISTS (SELECT 1 FROM offers o WHERE o.task_id = t.id AND o.status = 'pending')
		ORDER BY t.priority DESC, t.created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
