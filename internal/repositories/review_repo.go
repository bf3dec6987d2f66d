package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rozdum/backend/internal/models"
)

type ReviewRepo struct {
	pool *pgxpool.Pool
}

func NewReviewRepo(pool *pgxpool.Pool) *ReviewRepo {
	return &ReviewRepo{pool: pool}
}

var ErrAlreadyReviewed = errors.New("task already reviewed by this user")

// Add inserts the review and recomputes the reviewed user's aggregate rating
// in one transaction. The unique constraint makes double reviews a no-op
// error rather than a rating skew.
func (r *ReviewRepo) Add(ctx context.Context, rev *models.Review) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO reviews (task_id, reviewer_id, reviewed_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id, reviewer_id, reviewed_id) DO NOTHING
		RETURNING id, created_at
	`, rev.TaskID, rev.ReviewerID, rev.ReviewedID, rev.Rating, rev.Comment).
		Scan(&rev.ID, &rev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyReviewed
		}
		return fmt.Errorf("insert review: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts SET
			rating        = (SELECT AVG(rating)::numeric(3,2) FROM reviews WHERE reviewed_id = $1),
			reviews_count = (SELECT COUNT(*) FROM reviews WHERE reviewed_id = $1),
			updated_at    = now()
		WHERE id = $1
	`, rev.ReviewedID)
	if err != nil {
		return fmt.Errorf("recompute rating: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *ReviewRepo) ListForUser(ctx context.Context, userID int64, limit int) ([]models.Review, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, reviewer_id, reviewed_id, rating, comment, created_at
		FROM reviews
		WHERE reviewed_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var rev models.Review
		if err := rows.Scan(&rev.ID, &rev.TaskID, &rev.ReviewerID, &rev.ReviewedID, &rev.Rating, &rev.Comment, &rev.CreatedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, rev)
	}
	return reviews, rows.Err()
}
