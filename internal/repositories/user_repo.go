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

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, username, available_balance, frozen_balance, lifetime_earned, withdrawn_total,
	       rating, reviews_count, completed_tasks, executor_tags, reliability_counter,
	       is_accepting_work, is_blocked, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var tags []byte
	err := row.Scan(&u.ID, &u.Username, &u.AvailableBalance, &u.FrozenBalance, &u.LifetimeEarned, &u.WithdrawnTotal,
		&u.Rating, &u.ReviewsCount, &u.CompletedTasks, &tags, &u.ReliabilityCounter,
		&u.IsAcceptingWork, &u.IsBlocked, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &u.ExecutorTags)
	}
	return &u, nil
}

// Upsert registers the account on first contact and refreshes the username.
func (r *UserRepo) Upsert(ctx context.Context, id int64, username *string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, username)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			username = COALESCE(EXCLUDED.username, accounts.username),
			updated_at = now()
		RETURNING `+userColumns, id, username))
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *UserRepo) SetAcceptingWork(ctx context.Context, id int64, accepting bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET is_accepting_work = $1, updated_at = now() WHERE id = $2
	`, accepting, id)
	return err
}

func (r *UserRepo) UpdateExecutorTags(ctx context.Context, id int64, tags map[string][]string) error {
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE accounts SET executor_tags = $1, updated_at = now() WHERE id = $2
	`, data, id)
	return err
}

// IncrementReliability bumps the consecutive-miss counter atomically and
// returns the new value. Concurrent timeouts for different tasks targeting the
// same executor are safe: the increment happens in the database, not in Go.
func (r *UserRepo) IncrementReliability(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		UPDATE accounts SET reliability_counter = reliability_counter + 1, updated_at = now()
		WHERE id = $1
		RETURNING reliability_counter
	`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

func (r *UserRepo) ResetReliability(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET reliability_counter = 0, updated_at = now() WHERE id = $1
	`, id)
	return err
}

// FindEligibleExecutors returns executors who are accepting work, not blocked,
// meet the rating floor and declare at least one tag in the category. An
// executor already holding a live pending offer is skipped: one offer at a
// time, so a busy executor cannot collect misses for offers they could not
// answer. Tag overlap against the task's required tags is scored by the
// matcher.
func (r *UserRepo) FindEligibleExecutors(ctx context.Context, minRating float64, category string) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM accounts
		WHERE is_accepting_work = true
		  AND is_blocked = false
		  AND rating >= $1
		  AND jsonb_array_length(COALESCE(executor_tags->$2, '[]'::jsonb)) > 0
		  AND NOT EXISTS (
		      SELECT 1 FROM offers o
		      WHERE o.executor_id = accounts.id AND o.status = 'pending'
		  )
	`, minRating, category)
	if err != nil {
		return nil, fmt.Errorf("query eligible executors: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
