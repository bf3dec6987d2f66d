package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rozdum/backend/internal/models"
)

// OfferRepo owns the single-pending-offer-per-task invariant. Offer creation
// and resolution always move the task status in the same transaction, so an
// offer is never visible while the task still reads searching (and vice
// versa).
type OfferRepo struct {
	pool *pgxpool.Pool
}

func NewOfferRepo(pool *pgxpool.Pool) *OfferRepo {
	return &OfferRepo{pool: pool}
}

const offerColumns = `id, task_id, executor_id, status, created_at, expires_at`

func scanOffer(row pgx.Row) (*models.Offer, error) {
	var o models.Offer
	err := row.Scan(&o.ID, &o.TaskID, &o.ExecutorID, &o.Status, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *OfferRepo) GetByID(ctx context.Context, id int64) (*models.Offer, error) {
	return scanOffer(r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
}

func (r *OfferRepo) ListByTask(ctx context.Context, taskID int64) ([]models.Offer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+offerColumns+` FROM offers WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

// MissedExecutorIDs returns executors who already rejected or let expire an
// offer for this task; the matcher excludes them on re-dispatch.
func (r *OfferRepo) MissedExecutorIDs(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT executor_id FROM offers
		WHERE task_id = $1 AND status IN ('rejected', 'expired')
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreatePending creates a pending offer and flips the task searching ->
// offered in one transaction. The partial unique index backstops the
// one-pending-offer invariant against concurrent dispatchers.
func (r *OfferRepo) CreatePending(ctx context.Context, taskID, executorID int64, expiresAt time.Time) (*models.Offer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'offered', executor_id = $1, updated_at = now()
		WHERE id = $2 AND status = 'searching'
	`, executorID, taskID)
	if err != nil {
		return nil, fmt.Errorf("mark task offered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: task %d is not searching", models.ErrInvalidTransition, taskID)
	}

	o := &models.Offer{TaskID: taskID, ExecutorID: executorID, Status: models.OfferStatusPending, ExpiresAt: expiresAt}
	err = tx.QueryRow(ctx, `
		INSERT INTO offers (task_id, executor_id, status, expires_at)
		VALUES ($1, $2, 'pending', $3)
		RETURNING id, created_at
	`, taskID, executorID, expiresAt).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, fmt.Errorf("%w: task %d already has a pending offer", models.ErrInvalidTransition, taskID)
		}
		return nil, fmt.Errorf("insert offer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// Accept resolves a pending offer as accepted and moves the task offered ->
// in_progress atomically. The task status is re-validated inside the
// transaction: if the task was cancelled (or re-dispatched) concurrently the
// acceptance loses, the offer is marked cancelled and ErrInvalidTransition is
// returned.
func (r *OfferRepo) Accept(ctx context.Context, offerID, executorID int64) (*models.Offer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o := &models.Offer{ID: offerID, ExecutorID: executorID, Status: models.OfferStatusAccepted}
	err = tx.QueryRow(ctx, `
		UPDATE offers SET status = 'accepted'
		WHERE id = $1 AND executor_id = $2 AND status = 'pending' AND expires_at > now()
		RETURNING task_id, created_at, expires_at
	`, offerID, executorID).Scan(&o.TaskID, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyUnresolvable(ctx, offerID, executorID)
		}
		return nil, fmt.Errorf("accept offer: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'in_progress', executor_id = $1, updated_at = now()
		WHERE id = $2 AND status = 'offered' AND executor_id = $1
	`, executorID, o.TaskID)
	if err != nil {
		return nil, fmt.Errorf("assign task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Task moved under us (cancelled or requeued). Void the offer instead.
		_ = tx.Rollback(ctx)
		_, _ = r.pool.Exec(ctx, `
			UPDATE offers SET status = 'cancelled' WHERE id = $1 AND status = 'pending'
		`, offerID)
		return nil, fmt.Errorf("%w: task %d is no longer offered", models.ErrInvalidTransition, o.TaskID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// MarkMissed resolves a pending offer as rejected or expired and returns the
// task to searching. The pending guard makes timeout and explicit decline
// race-safe: whichever fires first wins and the loser gets
// ErrInvalidTransition.
func (r *OfferRepo) MarkMissed(ctx context.Context, offerID int64, status string) (*models.Offer, error) {
	if status != models.OfferStatusRejected && status != models.OfferStatusExpired {
		return nil, fmt.Errorf("%w: cannot mark offer %s", models.ErrInvalidTransition, status)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o := &models.Offer{ID: offerID, Status: status}
	err = tx.QueryRow(ctx, `
		UPDATE offers SET status = $1
		WHERE id = $2 AND status = 'pending'
		RETURNING task_id, executor_id, created_at, expires_at
	`, status, offerID).Scan(&o.TaskID, &o.ExecutorID, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: offer %d is not pending", models.ErrInvalidTransition, offerID)
		}
		return nil, fmt.Errorf("resolve offer: %w", err)
	}

	// Requeue the task. Zero rows here is fine: the task may have been
	// cancelled concurrently, in which case it must not go back to searching.
	_, err = tx.Exec(ctx, `
		UPDATE tasks SET status = 'searching', executor_id = NULL, updated_at = now()
		WHERE id = $1 AND status = 'offered'
	`, o.TaskID)
	if err != nil {
		return nil, fmt.Errorf("requeue task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// ListPending returns all live offers, used for timer recovery on restart.
func (r *OfferRepo) ListPending(ctx context.Context) ([]models.Offer, error) {
	return r.listPendingWhere(ctx, ``)
}

// ListOverduePending is the worker safety net for offers whose in-process
// timer was lost.
func (r *OfferRepo) ListOverduePending(ctx context.Context, grace time.Duration) ([]models.Offer, error) {
	return r.listPendingWhere(ctx, fmt.Sprintf(`AND expires_at < now() - interval '%d seconds'`, int(grace.Seconds())))
}

func (r *OfferRepo) listPendingWhere(ctx context.Context, extra string) ([]models.Offer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+offerColumns+` FROM offers WHERE status = 'pending' `+extra+` ORDER BY expires_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

func (r *OfferRepo) classifyUnresolvable(ctx context.Context, offerID, executorID int64) error {
	o, err := r.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	return classifyOffer(o, executorID, time.Now())
}

// classifyOffer explains why a resolution guard matched no row. A pending
// offer that only failed the deadline check is reported as expired, not as
// still pending.
func classifyOffer(o *models.Offer, executorID int64, now time.Time) error {
	if o.ExecutorID != executorID {
		return models.ErrNotFound
	}
	if o.Status == models.OfferStatusPending && !o.ExpiresAt.After(now) {
		return fmt.Errorf("%w: offer %d is expired", models.ErrInvalidTransition, o.ID)
	}
	return fmt.Errorf("%w: offer %d is %s", models.ErrInvalidTransition, o.ID, o.Status)
}
