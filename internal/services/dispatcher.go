package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/events"
	"github.com/rozdum/backend/internal/models"
	"go.uber.org/zap"
)

// TaskStore is the dispatcher's view of the task repo.
type TaskStore interface {
	GetByID(ctx context.Context, id int64) (*models.Task, error)
}

// OfferStore is the dispatcher's view of the offer repo. Every resolving
// method is a conditional update: concurrent resolutions race safely and the
// loser gets models.ErrInvalidTransition.
type OfferStore interface {
	CreatePending(ctx context.Context, taskID, executorID int64, expiresAt time.Time) (*models.Offer, error)
	Accept(ctx context.Context, offerID, executorID int64) (*models.Offer, error)
	MarkMissed(ctx context.Context, offerID int64, status string) (*models.Offer, error)
	MissedExecutorIDs(ctx context.Context, taskID int64) ([]int64, error)
	ListPending(ctx context.Context) ([]models.Offer, error)
}

// ReliabilityStore tracks consecutive missed offers per executor.
type ReliabilityStore interface {
	IncrementReliability(ctx context.Context, userID int64) (int, error)
	ResetReliability(ctx context.Context, userID int64) error
	SetAcceptingWork(ctx context.Context, userID int64, accepting bool) error
}

// CandidateMatcher abstracts the Matcher for tests.
type CandidateMatcher interface {
	Match(ctx context.Context, task *models.Task, exclude []int64) (*models.User, error)
}

// Dispatcher runs the offer protocol: match an executor, create a pending
// offer, arm an expiry timer and react to accept/decline/timeout. Timers are
// in-process and keyed by task id; the worker's periodic sweep backstops
// offers whose timer died with the process.
type Dispatcher struct {
	tasks     TaskStore
	offers    OfferStore
	directory ReliabilityStore
	matcher   CandidateMatcher
	notifier  Notifier
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger

	mu     sync.Mutex
	timers map[int64]*time.Timer // task id -> expiry timer
}

func NewDispatcher(
	tasks TaskStore,
	offers OfferStore,
	directory ReliabilityStore,
	matcher CandidateMatcher,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		tasks:     tasks,
		offers:    offers,
		directory: directory,
		matcher:   matcher,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		timers:    make(map[int64]*time.Timer),
	}
}

// Dispatch finds an executor for a searching task and extends a pending
// offer. Executors who already missed an offer for this task are excluded.
// When nobody qualifies the task simply stays searching; the worker retries
// later.
func (d *Dispatcher) Dispatch(ctx context.Context, task *models.Task) error {
	if task.Status != models.TaskStatusSearching {
		return fmt.Errorf("%w: task %d is %s, not searching", models.ErrInvalidTransition, task.ID, task.Status)
	}

	exclude, err := d.offers.MissedExecutorIDs(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("load missed executors: %w", err)
	}

	executor, err := d.matcher.Match(ctx, task, exclude)
	if err != nil {
		var gap *TagGapError
		if errors.As(err, &gap) {
			d.log.Info("near-miss match, suggesting tag change",
				zap.Int64("task_id", task.ID),
				zap.Strings("missing_tags", gap.MissingTags))
			_ = d.publisher.Publish(ctx, events.StreamNotify, events.Event{
				Type: events.EventTagSuggestion,
				Payload: map[string]any{
					"task_id":      task.ID,
					"customer_id":  task.CustomerID,
					"missing_tags": gap.MissingTags,
				},
			})
			d.notifier.Notify(ctx, task.CustomerID, fmt.Sprintf(
				"No executor covers all tags for task #%d. Consider removing: %s",
				task.ID, strings.Join(gap.MissingTags, ", ")))
			return models.ErrNoEligibleCandidate
		}
		if errors.Is(err, models.ErrNoEligibleCandidate) {
			d.log.Info("no eligible executor", zap.Int64("task_id", task.ID))
			return err
		}
		return err
	}

	expiresAt := time.Now().Add(d.cfg.OfferTimeout)
	offer, err := d.offers.CreatePending(ctx, task.ID, executor.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	d.arm(task.ID, offer.ID, d.cfg.OfferTimeout)

	_ = d.publisher.Publish(ctx, events.StreamTask, events.Event{
		Type: events.EventOfferCreated,
		Payload: map[string]any{
			"offer_id":    offer.ID,
			"task_id":     task.ID,
			"executor_id": executor.ID,
			"expires_at":  offer.ExpiresAt,
		},
	})
	d.notifier.Notify(ctx, executor.ID, fmt.Sprintf(
		"New offer: task #%d (%s, %.2f). You have %s to respond.",
		task.ID, task.Category, task.Price, d.cfg.OfferTimeout))

	d.log.Info("offer created",
		zap.Int64("task_id", task.ID),
		zap.Int64("offer_id", offer.ID),
		zap.Int64("executor_id", executor.ID))
	return nil
}

// RespondToOffer handles an executor's accept or decline. Acceptance is
// re-validated against the task status inside the store transaction, so a
// task cancelled while the offer was pending cannot be accepted.
func (d *Dispatcher) RespondToOffer(ctx context.Context, offerID, executorID int64, accept bool) (*models.Offer, error) {
	if accept {
		offer, err := d.offers.Accept(ctx, offerID, executorID)
		if err != nil {
			return nil, err
		}
		d.Disarm(offer.TaskID)

		if err := d.directory.ResetReliability(ctx, executorID); err != nil {
			d.log.Warn("reset reliability", zap.Int64("executor_id", executorID), zap.Error(err))
		}

		d.publishResolved(ctx, offer)
		if task, err := d.tasks.GetByID(ctx, offer.TaskID); err == nil {
			d.notifier.Notify(ctx, task.CustomerID, fmt.Sprintf(
				"Task #%d accepted, work is starting.", task.ID))
		}
		return offer, nil
	}

	offer, err := d.offers.MarkMissed(ctx, offerID, models.OfferStatusRejected)
	if err != nil {
		return nil, err
	}
	d.Disarm(offer.TaskID)
	d.afterMiss(ctx, offer)
	return offer, nil
}

// ExpireOffer resolves an overdue pending offer as expired. Called by the
// in-process timer and by the worker sweep; the pending guard makes the
// second caller a no-op.
func (d *Dispatcher) ExpireOffer(ctx context.Context, offerID int64) error {
	offer, err := d.offers.MarkMissed(ctx, offerID, models.OfferStatusExpired)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return nil // already resolved elsewhere
		}
		return err
	}
	d.Disarm(offer.TaskID)
	d.notifier.Notify(ctx, offer.ExecutorID, fmt.Sprintf(
		"Offer for task #%d expired without a response.", offer.TaskID))
	d.afterMiss(ctx, offer)
	return nil
}

// afterMiss applies the reliability penalty and immediately tries the next
// executor.
func (d *Dispatcher) afterMiss(ctx context.Context, offer *models.Offer) {
	d.publishResolved(ctx, offer)

	misses, err := d.directory.IncrementReliability(ctx, offer.ExecutorID)
	if err != nil {
		d.log.Error("increment reliability", zap.Int64("executor_id", offer.ExecutorID), zap.Error(err))
	} else {
		switch {
		case misses >= d.cfg.ReliabilityThreshold:
			if err := d.directory.SetAcceptingWork(ctx, offer.ExecutorID, false); err != nil {
				d.log.Error("deactivate executor", zap.Int64("executor_id", offer.ExecutorID), zap.Error(err))
			} else {
				d.log.Info("executor deactivated after consecutive misses",
					zap.Int64("executor_id", offer.ExecutorID),
					zap.Int("misses", misses))
				d.notifier.Notify(ctx, offer.ExecutorID,
					"You missed several offers in a row, so new offers are paused. Re-enable availability in your profile when you are back.")
			}
		case misses == d.cfg.ReliabilityThreshold-1:
			d.notifier.Notify(ctx, offer.ExecutorID,
				"Heads up: one more missed offer and we will pause new offers for you.")
		}
	}

	task, err := d.tasks.GetByID(ctx, offer.TaskID)
	if err != nil {
		d.log.Error("reload task after miss", zap.Int64("task_id", offer.TaskID), zap.Error(err))
		return
	}
	if task.Status != models.TaskStatusSearching {
		return // cancelled meanwhile, nothing to redo
	}
	if err := d.Dispatch(ctx, task); err != nil && !errors.Is(err, models.ErrNoEligibleCandidate) {
		d.log.Error("re-dispatch after miss", zap.Int64("task_id", task.ID), zap.Error(err))
	}
}

func (d *Dispatcher) publishResolved(ctx context.Context, offer *models.Offer) {
	_ = d.publisher.Publish(ctx, events.StreamTask, events.Event{
		Type: events.EventOfferResolved,
		Payload: map[string]any{
			"offer_id":    offer.ID,
			"task_id":     offer.TaskID,
			"executor_id": offer.ExecutorID,
			"status":      offer.Status,
		},
	})
}

func (d *Dispatcher) arm(taskID, offerID int64, after time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[taskID]; ok {
		t.Stop()
	}
	d.timers[taskID] = time.AfterFunc(after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.ExpireOffer(ctx, offerID); err != nil {
			d.log.Error("expire offer", zap.Int64("offer_id", offerID), zap.Error(err))
		}
	})
}

// Disarm stops the expiry timer for a task, if any. Safe to call for tasks
// with no armed timer.
func (d *Dispatcher) Disarm(taskID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[taskID]; ok {
		t.Stop()
		delete(d.timers, taskID)
	}
}

// Recover re-arms timers for pending offers after a restart. Offers already
// past their deadline are expired immediately.
func (d *Dispatcher) Recover(ctx context.Context) error {
	pending, err := d.offers.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending offers: %w", err)
	}
	now := time.Now()
	for _, o := range pending {
		if remaining := o.ExpiresAt.Sub(now); remaining > 0 {
			d.arm(o.TaskID, o.ID, remaining)
			continue
		}
		if err := d.ExpireOffer(ctx, o.ID); err != nil {
			d.log.Error("expire stale offer on recovery", zap.Int64("offer_id", o.ID), zap.Error(err))
		}
	}
	d.log.Info("offer timers recovered", zap.Int("pending", len(pending)))
	return nil
}

// Stop cancels all armed timers. Pending offers stay pending; the next
// Recover or the worker sweep picks them up.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}
