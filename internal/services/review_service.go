package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rozdum/backend/internal/models"
	"github.com/rozdum/backend/internal/repositories"
	"go.uber.org/zap"
)

type ReviewService struct {
	reviewRepo *repositories.ReviewRepo
	taskRepo   *repositories.TaskRepo
	log        *zap.Logger
}

func NewReviewService(reviewRepo *repositories.ReviewRepo, taskRepo *repositories.TaskRepo, log *zap.Logger) *ReviewService {
	return &ReviewService{reviewRepo: reviewRepo, taskRepo: taskRepo, log: log}
}

// Add records a 1-5 review from one party of a completed task about the
// other. The reviewed user's aggregate rating is recomputed in the same
// transaction as the insert.
func (s *ReviewService) Add(ctx context.Context, taskID, reviewerID int64, rating int, comment string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}

	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task %d is not completed", models.ErrInvalidTransition, taskID)
	}
	if task.ExecutorID == nil {
		return nil, fmt.Errorf("%w: task %d has no executor", models.ErrInvalidTransition, taskID)
	}

	var reviewedID int64
	switch reviewerID {
	case task.CustomerID:
		reviewedID = *task.ExecutorID
	case *task.ExecutorID:
		reviewedID = task.CustomerID
	default:
		return nil, models.ErrUnauthorized
	}

	rev := &models.Review{
		TaskID:     taskID,
		ReviewerID: reviewerID,
		ReviewedID: reviewedID,
		Rating:     rating,
	}
	if c := strings.TrimSpace(comment); c != "" {
		rev.Comment = &c
	}
	if err := s.reviewRepo.Add(ctx, rev); err != nil {
		return nil, err
	}

	s.log.Info("review added",
		zap.Int64("task_id", taskID),
		zap.Int64("reviewer_id", reviewerID),
		zap.Int("rating", rating))
	return rev, nil
}

func (s *ReviewService) ListForUser(ctx context.Context, userID int64, limit int) ([]models.Review, error) {
	return s.reviewRepo.ListForUser(ctx, userID, limit)
}
