package main

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/db"
	"github.com/rozdum/backend/internal/events"
	"github.com/rozdum/backend/internal/models"
	"github.com/rozdum/backend/internal/repositories"
	"github.com/rozdum/backend/internal/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// The worker is the safety net behind the API process: it re-feeds searching
// tasks to the dispatcher and expires pending offers whose in-process timer
// was lost. All its writes go through the same conditional updates as the
// API, so overlapping work is harmless.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	userRepo := repositories.NewUserRepo(pool)
	taskRepo := repositories.NewTaskRepo(pool)
	offerRepo := repositories.NewOfferRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)
	var notifier services.Notifier = services.NopNotifier{}
	if cfg.NotifyBridgeURL != "" {
		notifier = services.NewBridgeClient(cfg.NotifyBridgeURL, cfg.BridgeToken, log)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	matcher := services.NewMatcher(userRepo, cfg, rng, log)
	dispatcher := services.NewDispatcher(taskRepo, offerRepo, userRepo, matcher, notifier, publisher, cfg, log)
	defer dispatcher.Stop()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	log.Info("worker started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runLoop(gctx, cfg.RedispatchInterval, func() {
			redispatchSearching(gctx, taskRepo, dispatcher, log)
		})
	})
	g.Go(func() error {
		return runLoop(gctx, cfg.OfferSweepInterval, func() {
			sweepOverdueOffers(gctx, offerRepo, dispatcher, cfg, log)
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("worker error", zap.Error(err))
	}
}

func runLoop(ctx context.Context, interval time.Duration, job func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			job()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// redispatchSearching retries tasks that are searching with no live offer:
// submissions that found nobody, plus anything orphaned by a crash.
func redispatchSearching(ctx context.Context, taskRepo *repositories.TaskRepo, dispatcher *services.Dispatcher, log *zap.Logger) {
	tasks, err := taskRepo.SearchingWithoutPendingOffer(ctx, 100)
	if err != nil {
		log.Error("load searching tasks", zap.Error(err))
		return
	}
	for i := range tasks {
		task := tasks[i]
		err := dispatcher.Dispatch(ctx, &task)
		if err != nil && !errors.Is(err, models.ErrNoEligibleCandidate) && !errors.Is(err, models.ErrInvalidTransition) {
			log.Error("re-dispatch task", zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}
}

// sweepOverdueOffers expires pending offers past their deadline plus a grace
// period. The grace keeps the sweep from racing a healthy API timer.
func sweepOverdueOffers(ctx context.Context, offerRepo *repositories.OfferRepo, dispatcher *services.Dispatcher, cfg *config.Config, log *zap.Logger) {
	offers, err := offerRepo.ListOverduePending(ctx, cfg.OfferSweepGrace)
	if err != nil {
		log.Error("load overdue offers", zap.Error(err))
		return
	}
	for _, o := range offers {
		log.Info("sweeping overdue offer",
			zap.Int64("offer_id", o.ID),
			zap.Int64("task_id", o.TaskID))
		if err := dispatcher.ExpireOffer(ctx, o.ID); err != nil {
			log.Error("expire overdue offer", zap.Int64("offer_id", o.ID), zap.Error(err))
		}
	}
}
