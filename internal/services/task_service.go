package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/events"
	"github.com/rozdum/backend/internal/models"
	"github.com/rozdum/backend/internal/repositories"
	"go.uber.org/zap"
)

type TaskService struct {
	taskRepo    *repositories.TaskRepo
	disputeRepo *repositories.DisputeRepo
	escrow      *EscrowCoordinator
	dispatcher  *Dispatcher
	notifier    Notifier
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewTaskService(
	taskRepo *repositories.TaskRepo,
	disputeRepo *repositories.DisputeRepo,
	escrow *EscrowCoordinator,
	dispatcher *Dispatcher,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *TaskService {
	return &TaskService{
		taskRepo:    taskRepo,
		disputeRepo: disputeRepo,
		escrow:      escrow,
		dispatcher:  dispatcher,
		notifier:    notifier,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

type SubmitTaskInput struct {
	Category    string
	Tags        []string
	Description string
	Price       float64
	Priority    bool
}

// Submit validates the task, freezes the customer's funds and starts the
// executor search. A submit with no eligible executor still succeeds; the
// task waits in searching and the worker retries.
func (s *TaskService) Submit(ctx context.Context, customerID int64, in SubmitTaskInput) (*models.Task, error) {
	if strings.TrimSpace(in.Category) == "" {
		return nil, errors.New("category is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, errors.New("description is required")
	}
	if in.Price < s.cfg.MinTaskPrice {
		return nil, fmt.Errorf("price %.2f is below the minimum %.2f", in.Price, s.cfg.MinTaskPrice)
	}

	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}

	task := &models.Task{
		CustomerID:  customerID,
		Category:    strings.ToLower(strings.TrimSpace(in.Category)),
		Tags:        tags,
		Description: in.Description,
		Price:       in.Price,
		Priority:    in.Priority,
	}

	if err := s.escrow.Freeze(ctx, task); err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, task); err != nil && !errors.Is(err, models.ErrNoEligibleCandidate) {
		s.log.Error("initial dispatch failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}

	// Dispatch may have moved the task to offered already.
	fresh, err := s.taskRepo.GetByID(ctx, task.ID)
	if err != nil {
		return task, nil
	}
	return fresh, nil
}

// Get returns a task to one of its parties or an admin.
func (s *TaskService) Get(ctx context.Context, taskID, requesterID int64) (*models.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !s.isParty(task, requesterID) && !s.cfg.IsAdmin(requesterID) {
		return nil, models.ErrUnauthorized
	}
	return task, nil
}

func (s *TaskService) List(ctx context.Context, filter repositories.TaskFilter) ([]models.Task, error) {
	return s.taskRepo.List(ctx, filter)
}

// ReportCompletion is the executor saying "done": the task moves to
// pending_approval and the customer is asked to review the result.
func (s *TaskService) ReportCompletion(ctx context.Context, taskID, executorID int64) (*models.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ExecutorID == nil || *task.ExecutorID != executorID {
		return nil, models.ErrUnauthorized
	}

	ok, err := s.taskRepo.UpdateStatusIf(ctx, taskID, models.TaskStatusInProgress, models.TaskStatusPendingApproval)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task %d is %s", models.ErrInvalidTransition, taskID, task.Status)
	}
	task.Status = models.TaskStatusPendingApproval

	s.publishStatus(ctx, taskID, models.TaskStatusInProgress, models.TaskStatusPendingApproval)
	s.notifier.Notify(ctx, task.CustomerID, fmt.Sprintf(
		"Task #%d is reported complete. Approve to release payment, or open a dispute.", taskID))
	return task, nil
}

// Approve releases the escrow to the executor and completes the task.
func (s *TaskService) Approve(ctx context.Context, taskID, customerID int64) (*models.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CustomerID != customerID {
		return nil, models.ErrUnauthorized
	}

	if err := s.escrow.Release(ctx, task, models.TaskStatusPendingApproval); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusCompleted

	share, _ := s.escrow.Split(task.Price)
	s.notifier.Notify(ctx, *task.ExecutorID, fmt.Sprintf(
		"Task #%d approved, %.2f credited to your balance.", taskID, share))
	return task, nil
}

// Cancel aborts a task that has not started yet and refunds the customer in
// full. Any pending offer is voided atomically with the cancellation.
func (s *TaskService) Cancel(ctx context.Context, taskID, customerID int64) (*models.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CustomerID != customerID {
		return nil, models.ErrUnauthorized
	}

	err = s.escrow.Refund(ctx, task, models.TaskStatusSearching, models.TaskStatusOffered)
	if err != nil {
		return nil, err
	}
	s.dispatcher.Disarm(taskID)

	if task.Status == models.TaskStatusOffered && task.ExecutorID != nil {
		s.notifier.Notify(ctx, *task.ExecutorID, fmt.Sprintf(
			"Task #%d was cancelled by the customer; the offer is withdrawn.", taskID))
	}
	task.Status = models.TaskStatusCancelled
	task.ExecutorID = nil
	return task, nil
}

// OpenDispute freezes the task in disputed status until an admin rules on it.
// Either party may open one while the work is in progress or awaiting
// approval.
func (s *TaskService) OpenDispute(ctx context.Context, taskID, openerID int64, reason string) (*models.Dispute, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !s.isParty(task, openerID) {
		return nil, models.ErrUnauthorized
	}
	if task.Status != models.TaskStatusInProgress && task.Status != models.TaskStatusPendingApproval {
		return nil, fmt.Errorf("%w: cannot dispute a %s task", models.ErrInvalidTransition, task.Status)
	}
	if task.ExecutorID == nil {
		return nil, fmt.Errorf("%w: task %d has no executor", models.ErrInvalidTransition, taskID)
	}

	d := &models.Dispute{
		TaskID:     taskID,
		CustomerID: task.CustomerID,
		ExecutorID: *task.ExecutorID,
		Reason:     reason,
	}
	if err := s.disputeRepo.Create(ctx, d, task.Status); err != nil {
		return nil, err
	}

	_ = s.publisher.Publish(ctx, events.StreamTask, events.Event{
		Type: events.EventDisputeOpened,
		Payload: map[string]any{
			"dispute_id": d.ID,
			"task_id":    taskID,
			"opened_by":  openerID,
		},
	})

	other := d.ExecutorID
	if openerID == d.ExecutorID {
		other = d.CustomerID
	}
	s.notifier.Notify(ctx, other, fmt.Sprintf(
		"A dispute was opened for task #%d. Funds stay frozen until it is resolved.", taskID))
	for _, adminID := range s.cfg.AdminIDs {
		s.notifier.Notify(ctx, adminID, fmt.Sprintf("Dispute #%d opened for task #%d.", d.ID, taskID))
	}

	s.log.Info("dispute opened",
		zap.Int64("dispute_id", d.ID),
		zap.Int64("task_id", taskID),
		zap.Int64("opened_by", openerID))
	return d, nil
}

func (s *TaskService) isParty(task *models.Task, userID int64) bool {
	if task.CustomerID == userID {
		return true
	}
	return task.ExecutorID != nil && *task.ExecutorID == userID
}

func (s *TaskService) publishStatus(ctx context.Context, taskID int64, oldStatus, newStatus string) {
	_ = s.publisher.Publish(ctx, events.StreamTask, events.Event{
		Type: events.EventTaskStatusChanged,
		Payload: map[string]any{
			"task_id":    taskID,
			"old_status": oldStatus,
			"new_status": newStatus,
		},
	})
}
