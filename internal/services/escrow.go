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

// LedgerStore is the coordinator's view of the ledger repo. Every method is
// a single settlement transaction.
type LedgerStore interface {
	CreateTaskFrozen(ctx context.Context, task *models.Task, freezeAmount float64) error
	ReleaseEscrow(ctx context.Context, rel repositories.EscrowRelease) error
	RefundEscrow(ctx context.Context, ref repositories.EscrowRefund) error
	SettleDispute(ctx context.Context, s repositories.DisputeSettlement) error
}

// EscrowCoordinator owns the money flow around a task's lifecycle: freeze on
// submission, release (minus commission) on approval, refund on cancellation,
// and dispute settlements. The amount math lives here; the atomicity lives in
// the ledger transactions.
type EscrowCoordinator struct {
	ledger    LedgerStore
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewEscrowCoordinator(ledger LedgerStore, publisher events.Publisher, cfg *config.Config, log *zap.Logger) *EscrowCoordinator {
	return &EscrowCoordinator{ledger: ledger, publisher: publisher, cfg: cfg, log: log}
}

// FreezeAmount is what the customer pays up front: the task price plus the
// flat priority surcharge for priority tasks.
func (e *EscrowCoordinator) FreezeAmount(task *models.Task) float64 {
	amount := task.Price
	if task.Priority {
		amount += e.cfg.PrioritySurcharge(task.Price)
	}
	return amount
}

// Split divides the task price into the executor's payout and the platform
// commission. The priority surcharge is never part of the split; it stays
// with the platform.
func (e *EscrowCoordinator) Split(price float64) (executorShare, commission float64) {
	commission = price * e.cfg.CommissionRate
	return price - commission, commission
}

// Freeze creates the task with the customer's funds moved into frozen
// balance, all in one transaction. The frozen amount sticks to the task:
// release and refund settle against it, not against whatever the surcharge
// config says later.
func (e *EscrowCoordinator) Freeze(ctx context.Context, task *models.Task) error {
	if err := e.ledger.CreateTaskFrozen(ctx, task, e.FreezeAmount(task)); err != nil {
		return err
	}
	e.log.Info("escrow frozen",
		zap.Int64("task_id", task.ID),
		zap.Int64("customer_id", task.CustomerID),
		zap.Float64("amount", task.FrozenAmount))
	return nil
}

// Release pays the executor and completes the task, moving it out of
// fromStatus. Fails without moving money if the task already left fromStatus.
func (e *EscrowCoordinator) Release(ctx context.Context, task *models.Task, fromStatus string) error {
	if task.ExecutorID == nil {
		return fmt.Errorf("%w: task %d has no executor", models.ErrInvalidTransition, task.ID)
	}
	share, commission := e.Split(task.Price)
	err := e.ledger.ReleaseEscrow(ctx, repositories.EscrowRelease{
		TaskID:        task.ID,
		FromStatus:    fromStatus,
		CustomerID:    task.CustomerID,
		ExecutorID:    *task.ExecutorID,
		FrozenAmount:  task.FrozenAmount,
		ExecutorShare: share,
		Commission:    commission,
	})
	if err != nil {
		return err
	}
	e.publishStatus(ctx, task.ID, fromStatus, models.TaskStatusCompleted)
	e.log.Info("escrow released",
		zap.Int64("task_id", task.ID),
		zap.Int64("executor_id", *task.ExecutorID),
		zap.Float64("share", share),
		zap.Float64("commission", commission))
	return nil
}

// Refund returns the full frozen amount (surcharge included) to the customer
// and cancels the task. Allowed only from the given statuses.
func (e *EscrowCoordinator) Refund(ctx context.Context, task *models.Task, fromStatuses ...string) error {
	err := e.ledger.RefundEscrow(ctx, repositories.EscrowRefund{
		TaskID:       task.ID,
		FromStatuses: fromStatuses,
		CustomerID:   task.CustomerID,
		FrozenAmount: task.FrozenAmount,
	})
	if err != nil {
		return err
	}
	e.publishStatus(ctx, task.ID, task.Status, models.TaskStatusCancelled)
	e.log.Info("escrow refunded",
		zap.Int64("task_id", task.ID),
		zap.Int64("customer_id", task.CustomerID),
		zap.Float64("amount", task.FrozenAmount))
	return nil
}

// Settle applies a dispute ruling. favor_customer refunds the full frozen
// amount and cancels the task; favor_executor pays out as a normal approval
// would. The dispute's open->resolved flip and the escrow movement share one
// transaction, so a dispute can settle at most once.
func (e *EscrowCoordinator) Settle(ctx context.Context, disputeID, resolverID int64, outcome string, task *models.Task) error {
	s := repositories.DisputeSettlement{
		DisputeID:  disputeID,
		ResolverID: resolverID,
		Outcome:    outcome,
	}
	switch outcome {
	case models.OutcomeFavorCustomer:
		s.Refund = &repositories.EscrowRefund{
			TaskID:       task.ID,
			FromStatuses: []string{models.TaskStatusDisputed},
			CustomerID:   task.CustomerID,
			FrozenAmount: task.FrozenAmount,
		}
	case models.OutcomeFavorExecutor:
		if task.ExecutorID == nil {
			return fmt.Errorf("%w: task %d has no executor", models.ErrInvalidTransition, task.ID)
		}
		share, commission := e.Split(task.Price)
		s.Release = &repositories.EscrowRelease{
			TaskID:        task.ID,
			FromStatus:    models.TaskStatusDisputed,
			CustomerID:    task.CustomerID,
			ExecutorID:    *task.ExecutorID,
			FrozenAmount:  task.FrozenAmount,
			ExecutorShare: share,
			Commission:    commission,
		}
	default:
		return fmt.Errorf("%w: unknown outcome %q", models.ErrInvalidTransition, outcome)
	}

	if err := e.ledger.SettleDispute(ctx, s); err != nil {
		return err
	}
	e.log.Info("dispute settled",
		zap.Int64("dispute_id", disputeID),
		zap.Int64("task_id", task.ID),
		zap.String("outcome", outcome))
	return nil
}

func (e *EscrowCoordinator) publishStatus(ctx context.Context, taskID int64, oldStatus, newStatus string) {
	_ = e.publisher.Publish(ctx, events.StreamTask, events.Event{
		Type: events.EventTaskStatusChanged,
		Payload: map[string]any{
			"task_id":    taskID,
			"old_status": oldStatus,
			"new_status": newStatus,
		},
	})
}
