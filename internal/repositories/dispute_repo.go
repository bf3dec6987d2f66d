package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rozdum/backend/internal/models"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

// Create opens a dispute and parks the task in disputed status in one
// transaction, so funds stay frozen until an arbiter rules.
func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute, fromStatus string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'disputed', updated_at = now()
		WHERE id = $1 AND status = $2
	`, d.TaskID, fromStatus)
	if err != nil {
		return fmt.Errorf("mark task disputed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %d is not %s", models.ErrInvalidTransition, d.TaskID, fromStatus)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO disputes (task_id, customer_id, executor_id, reason, status)
		VALUES ($1, $2, $3, $4, 'open')
		RETURNING id, status, created_at
	`, d.TaskID, d.CustomerID, d.ExecutorID, d.Reason).Scan(&d.ID, &d.Status, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return tx.Commit(ctx)
}

const disputeWithTaskQuery = `
	SELECT d.id, d.task_id, d.customer_id, d.executor_id, d.reason, d.status,
	       d.outcome, d.resolved_by, d.created_at, d.resolved_at,
	       t.description, t.price, t.category
	FROM disputes d
	JOIN tasks t ON t.id = d.task_id
`

func scanDisputeWithTask(row pgx.Row) (*models.DisputeWithTask, error) {
	var d models.DisputeWithTask
	err := row.Scan(&d.ID, &d.TaskID, &d.CustomerID, &d.ExecutorID, &d.Reason, &d.Status,
		&d.Outcome, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt,
		&d.TaskDescription, &d.TaskPrice, &d.TaskCategory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DisputeRepo) GetByID(ctx context.Context, id int64) (*models.DisputeWithTask, error) {
	return scanDisputeWithTask(r.pool.QueryRow(ctx, disputeWithTaskQuery+` WHERE d.id = $1`, id))
}

func (r *DisputeRepo) ListOpen(ctx context.Context) ([]models.DisputeWithTask, error) {
	rows, err := r.pool.Query(ctx, disputeWithTaskQuery+` WHERE d.status = 'open' ORDER BY d.created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []models.DisputeWithTask
	for rows.Next() {
		d, err := scanDisputeWithTask(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, *d)
	}
	return disputes, rows.Err()
}
