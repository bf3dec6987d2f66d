package services

import (
	"context"
	"fmt"

	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/events"
	"github.com/rozdum/backend/internal/models"
	"github.com/rozdum/backend/internal/repositories"
	"go.uber.org/zap"
)

// DisputeResolver applies admin rulings to open disputes.
type DisputeResolver struct {
	disputeRepo *repositories.DisputeRepo
	taskRepo    *repositories.TaskRepo
	escrow      *EscrowCoordinator
	notifier    Notifier
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewDisputeResolver(
	disputeRepo *repositories.DisputeRepo,
	taskRepo *repositories.TaskRepo,
	escrow *EscrowCoordinator,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *DisputeResolver {
	return &DisputeResolver{
		disputeRepo: disputeRepo,
		taskRepo:    taskRepo,
		escrow:      escrow,
		notifier:    notifier,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

// Resolve settles an open dispute. Only configured admins may rule; a repeat
// ruling on the same dispute fails inside the settlement transaction without
// touching balances.
func (r *DisputeResolver) Resolve(ctx context.Context, disputeID, resolverID int64, outcome string) (*models.DisputeWithTask, error) {
	if !r.cfg.IsAdmin(resolverID) {
		return nil, models.ErrUnauthorized
	}
	if !models.IsValidOutcome(outcome) {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}

	d, err := r.disputeRepo.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	task, err := r.taskRepo.GetByID(ctx, d.TaskID)
	if err != nil {
		return nil, err
	}

	if err := r.escrow.Settle(ctx, disputeID, resolverID, outcome, task); err != nil {
		return nil, err
	}
	d.Status = models.DisputeStatusResolved
	d.Outcome = &outcome
	d.ResolvedBy = &resolverID

	_ = r.publisher.Publish(ctx, events.StreamTask, events.Event{
		Type: events.EventDisputeResolved,
		Payload: map[string]any{
			"dispute_id": disputeID,
			"task_id":    d.TaskID,
			"outcome":    outcome,
		},
	})

	switch outcome {
	case models.OutcomeFavorCustomer:
		r.notifier.Notify(ctx, d.CustomerID, fmt.Sprintf(
			"Dispute for task #%d resolved in your favor, the full amount is refunded.", d.TaskID))
		r.notifier.Notify(ctx, d.ExecutorID, fmt.Sprintf(
			"Dispute for task #%d was resolved in the customer's favor.", d.TaskID))
	case models.OutcomeFavorExecutor:
		share, _ := r.escrow.Split(task.Price)
		r.notifier.Notify(ctx, d.ExecutorID, fmt.Sprintf(
			"Dispute for task #%d resolved in your favor, %.2f credited.", d.TaskID, share))
		r.notifier.Notify(ctx, d.CustomerID, fmt.Sprintf(
			"Dispute for task #%d was resolved in the executor's favor.", d.TaskID))
	}

	r.log.Info("dispute resolved",
		zap.Int64("dispute_id", disputeID),
		zap.Int64("resolver_id", resolverID),
		zap.String("outcome", outcome))
	return d, nil
}

// ListOpen returns the admin queue of unresolved disputes.
func (r *DisputeResolver) ListOpen(ctx context.Context, requesterID int64) ([]models.DisputeWithTask, error) {
	if !r.cfg.IsAdmin(requesterID) {
		return nil, models.ErrUnauthorized
	}
	return r.disputeRepo.ListOpen(ctx)
}

// Get returns a dispute to its parties or an admin.
func (r *DisputeResolver) Get(ctx context.Context, disputeID, requesterID int64) (*models.DisputeWithTask, error) {
	d, err := r.disputeRepo.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if requesterID != d.CustomerID && requesterID != d.ExecutorID && !r.cfg.IsAdmin(requesterID) {
		return nil, models.ErrUnauthorized
	}
	return d, nil
}
