package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/events"
	"github.com/rozdum/backend/internal/models"
	"go.uber.org/zap"
)

type fakeTasks struct {
	mu    sync.Mutex
	tasks map[int64]*models.Task
}

func (f *fakeTasks) GetByID(_ context.Context, id int64) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTasks) setStatus(id int64, status string, executorID *int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[id].Status = status
	f.tasks[id].ExecutorID = executorID
}

func (f *fakeTasks) status(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id].Status
}

// fakeOffers mirrors the store's transactional behavior: creating and
// resolving an offer moves the task status in the same call.
type fakeOffers struct {
	mu     sync.Mutex
	nextID int64
	offers map[int64]*models.Offer
	tasks  *fakeTasks

	acceptErr error
}

func newFakeOffers(tasks *fakeTasks) *fakeOffers {
	return &fakeOffers{offers: map[int64]*models.Offer{}, tasks: tasks}
}

func (f *fakeOffers) CreatePending(_ context.Context, taskID, executorID int64, expiresAt time.Time) (*models.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tasks.status(taskID) != models.TaskStatusSearching {
		return nil, models.ErrInvalidTransition
	}
	f.nextID++
	o := &models.Offer{
		ID:         f.nextID,
		TaskID:     taskID,
		ExecutorID: executorID,
		Status:     models.OfferStatusPending,
		CreatedAt:  time.Now(),
		ExpiresAt:  expiresAt,
	}
	f.offers[o.ID] = o
	f.tasks.setStatus(taskID, models.TaskStatusOffered, &executorID)
	return o, nil
}

func (f *fakeOffers) Accept(_ context.Context, offerID, executorID int64) (*models.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	o, ok := f.offers[offerID]
	if !ok || o.ExecutorID != executorID {
		return nil, models.ErrNotFound
	}
	if o.Status != models.OfferStatusPending {
		return nil, fmt.Errorf("%w: offer is %s", models.ErrInvalidTransition, o.Status)
	}
	o.Status = models.OfferStatusAccepted
	f.tasks.setStatus(o.TaskID, models.TaskStatusInProgress, &executorID)
	cp := *o
	return &cp, nil
}

func (f *fakeOffers) MarkMissed(_ context.Context, offerID int64, status string) (*models.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[offerID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if o.Status != models.OfferStatusPending {
		return nil, fmt.Errorf("%w: offer is %s", models.ErrInvalidTransition, o.Status)
	}
	o.Status = status
	if f.tasks.status(o.TaskID) == models.TaskStatusOffered {
		f.tasks.setStatus(o.TaskID, models.TaskStatusSearching, nil)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOffers) MissedExecutorIDs(_ context.Context, taskID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, o := range f.offers {
		if o.TaskID == taskID && o.Missed() {
			ids = append(ids, o.ExecutorID)
		}
	}
	return ids, nil
}

func (f *fakeOffers) ListPending(_ context.Context) ([]models.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Offer
	for _, o := range f.offers {
		if o.Status == models.OfferStatusPending {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOffers) get(id int64) models.Offer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.offers[id]
}

type fakeReliability struct {
	mu        sync.Mutex
	counters  map[int64]int
	accepting map[int64]bool
}

func newFakeReliability() *fakeReliability {
	return &fakeReliability{counters: map[int64]int{}, accepting: map[int64]bool{}}
}

func (f *fakeReliability) IncrementReliability(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[userID]++
	return f.counters[userID], nil
}

func (f *fakeReliability) ResetReliability(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[userID] = 0
	return nil
}

func (f *fakeReliability) SetAcceptingWork(_ context.Context, userID int64, accepting bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepting[userID] = accepting
	return nil
}

func (f *fakeReliability) counter(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[userID]
}

func (f *fakeReliability) deactivated(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.accepting[userID]
	return ok && !v
}

// fakeMatcher hands out executors from a queue, then reports no candidates.
type fakeMatcher struct {
	mu    sync.Mutex
	queue []int64
}

func (f *fakeMatcher) Match(_ context.Context, _ *models.Task, _ []int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, models.ErrNoEligibleCandidate
	}
	id := f.queue[0]
	f.queue = f.queue[1:]
	return &models.User{ID: id}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, _ string, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) byType(t string) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages map[int64][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: map[int64][]string{}}
}

func (f *fakeNotifier) Notify(_ context.Context, userID int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[userID] = append(f.messages[userID], text)
}

func (f *fakeNotifier) count(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[userID])
}

type dispatcherFixture struct {
	d         *Dispatcher
	tasks     *fakeTasks
	offers    *fakeOffers
	dir       *fakeReliability
	matcher   *fakeMatcher
	notifier  *fakeNotifier
	publisher *fakePublisher
}

func newDispatcherFixture(cfg *config.Config, executorQueue ...int64) *dispatcherFixture {
	tasks := &fakeTasks{tasks: map[int64]*models.Task{}}
	offers := newFakeOffers(tasks)
	dir := newFakeReliability()
	matcher := &fakeMatcher{queue: executorQueue}
	notifier := newFakeNotifier()
	publisher := &fakePublisher{}
	d := NewDispatcher(tasks, offers, dir, matcher, notifier, publisher, cfg, zap.NewNop())
	return &dispatcherFixture{d: d, tasks: tasks, offers: offers, dir: dir, matcher: matcher, notifier: notifier, publisher: publisher}
}

func (fx *dispatcherFixture) addTask(id int64) *models.Task {
	t := &models.Task{
		ID:         id,
		CustomerID: 100,
		Category:   "design",
		Tags:       []string{"logo"},
		Price:      100,
		Status:     models.TaskStatusSearching,
	}
	fx.tasks.mu.Lock()
	fx.tasks.tasks[id] = t
	fx.tasks.mu.Unlock()
	cp := *t
	return &cp
}

func dispatchCfg() *config.Config {
	cfg := testConfig()
	cfg.OfferTimeout = time.Minute
	return cfg
}

func TestDispatchCreatesPendingOffer(t *testing.T) {
	fx := newDispatcherFixture(dispatchCfg(), 7)
	defer fx.d.Stop()
	task := fx.addTask(1)

	if err := fx.d.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if got := fx.tasks.status(1); got != models.TaskStatusOffered {
		t.Errorf("task status = %s, want offered", got)
	}
	offer := fx.offers.get(1)
	if offer.ExecutorID != 7 || offer.Status != models.OfferStatusPending {
		t.Errorf("offer = %+v, want pending for executor 7", offer)
	}
	if got := fx.publisher.byType(events.EventOfferCreated); len(got) != 1 {
		t.Errorf("offer_created events = %d, want 1", len(got))
	}
	if fx.notifier.count(7) == 0 {
		t.Error("executor was not notified about the offer")
	}
}

func TestDeclinePenalizesAndRedispatches(t *testing.T) {
	fx := newDispatcherFixture(dispatchCfg(), 7, 8)
	defer fx.d.Stop()
	task := fx.addTask(1)

	if err := fx.d.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	offer, err := fx.d.RespondToOffer(context.Background(), 1, 7, false)
	if err != nil {
		t.Fatalf("RespondToOffer: %v", err)
	}
	if offer.Status != models.OfferStatusRejected {
		t.Errorf("offer status = %s, want rejected", offer.Status)
	}
	if got := fx.dir.counter(7); got != 1 {
		t.Errorf("reliability counter = %d, want 1", got)
	}

	// The decline triggers an immediate re-dispatch to the next executor.
	next := fx.offers.get(2)
	if next.ExecutorID != 8 || next.Status != models.OfferStatusPending {
		t.Errorf("re-dispatched offer = %+v, want pending for executor 8", next)
	}
	if got := fx.tasks.status(1); got != models.TaskStatusOffered {
		t.Errorf("task status = %s, want offered", got)
	}
}

func TestAcceptAssignsTaskAndResetsReliability(t *testing.T) {
	fx := newDispatcherFixture(dispatchCfg(), 7)
	defer fx.d.Stop()
	task := fx.addTask(1)
	fx.dir.counters[7] = 2 // two prior misses, one accept forgives them

	if err := fx.d.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	offer, err := fx.d.RespondToOffer(context.Background(), 1, 7, true)
	if err != nil {
		t.Fatalf("RespondToOffer: %v", err)
	}
	if offer.Status != models.OfferStatusAccepted {
		t.Errorf("offer status = %s, want accepted", offer.Status)
	}
	if got := fx.tasks.status(1); got != models.TaskStatusInProgress {
		t.Errorf("task status = %s, want in_progress", got)
	}
	if got := fx.dir.counter(7); got != 0 {
		t.Errorf("reliability counter = %d, want 0 after accept", got)
	}
	if fx.notifier.count(100) == 0 {
		t.Error("customer was not notified about the acceptance")
	}
}

func TestConsecutiveMissesDeactivateExecutor(t *testing.T) {
	fx := newDispatcherFixture(dispatchCfg(), 7)
	defer fx.d.Stop()
	task := fx.addTask(1)
	fx.dir.counters[7] = 2 // next miss hits the threshold of 3

	if err := fx.d.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := fx.d.RespondToOffer(context.Background(), 1, 7, false); err != nil {
		t.Fatalf("RespondToOffer: %v", err)
	}

	if !fx.dir.deactivated(7) {
		t.Error("executor was not deactivated at the miss threshold")
	}
	if fx.notifier.count(7) < 2 {
		t.Error("executor did not get a deactivation notice")
	}
}

func TestWarningBeforeThreshold(t *testing.T) {
	fx := newDispatcherFixture(dispatchCfg(), 7)
	defer fx.d.Stop()
	task := fx.addTask(1)
	fx.dir.counters[7] = 1 // next miss is threshold-1

	if err := fx.d.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := fx.d.RespondToOffer(context.Background(), 1, 7, false); err != nil {
		t.Fatalf("RespondToOffer: %v", err)
	}

	if fx.dir.deactivated(7) {
		t.Error("executor deactivated one miss early")
	}
	// Offer notice plus the warning.
	if fx.notifier.count(7) < 2 {
		t.Error("executor did not get a warning before the threshold")
	}
}

func TestOfferTimeoutExpires(t *testing.T) {
	cfg := dispatchCfg()
	cfg.OfferTimeout = 30 * time.Millisecond
	fx := newDispatcherFixture(cfg, 7)
	defer fx.d.Stop()
	task := fx.addTask(1)

	if err := fx.d.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fx.offers.get(1).Status == models.OfferStatusExpired {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := fx.offers.get(1).Status; got != models.OfferStatusExpired {
		t.Fatalf("offer status = %s, want expired", got)
	}
	if got := fx.dir.counter(7); got != 1 {
		t.Errorf("reliability counter = %d, want 1 after timeout", got)
	}
	if got := fx.tasks.status(1); got != models.TaskStatusSearching {
		t.Errorf("task status = %s, want searching after timeout with no candidates left", got)
	}
}

func TestExpireAlreadyResolvedOfferIsNoop(t *testing.T) {
	fx := newDispatcherFixture(dispatchCfg(), 7)
	defer fx.d.Stop()
	task := fx.addTask(1)

	if err := fx.d.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := fx.d.RespondToOffer(context.Background(), 1, 7, true); err != nil {
		t.Fatalf("RespondToOffer: %v", err)
	}

	// The sweep racing a handled offer must not fail or double-penalize.
	if err := fx.d.ExpireOffer(context.Background(), 1); err != nil {
		t.Fatalf("ExpireOffer on resolved offer: %v", err)
	}
	if got := fx.dir.counter(7); got != 0 {
		t.Errorf("reliability counter = %d, want 0", got)
	}
}

func TestAcceptLosesRaceToCancellation(t *testing.T) {
	fx := newDispatcherFixture(dispatchCfg(), 7)
	defer fx.d.Stop()
	task := fx.addTask(1)

	if err := fx.d.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	fx.offers.acceptErr = fmt.Errorf("%w: task is no longer offered", models.ErrInvalidTransition)

	_, err := fx.d.RespondToOffer(context.Background(), 1, 7, true)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestRecoverRearmsAndExpires(t *testing.T) {
	fx := newDispatcherFixture(dispatchCfg())
	defer fx.d.Stop()
	fx.addTask(1)
	fx.addTask(2)

	// One offer still live, one already past its deadline.
	fx.tasks.setStatus(1, models.TaskStatusSearching, nil)
	if _, err := fx.offers.CreatePending(context.Background(), 1, 7, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.offers.CreatePending(context.Background(), 2, 8, time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	if err := fx.d.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if got := fx.offers.get(1).Status; got != models.OfferStatusPending {
		t.Errorf("live offer status = %s, want pending", got)
	}
	if got := fx.offers.get(2).Status; got != models.OfferStatusExpired {
		t.Errorf("stale offer status = %s, want expired", got)
	}

	fx.d.mu.Lock()
	_, armed := fx.d.timers[1]
	fx.d.mu.Unlock()
	if !armed {
		t.Error("timer for the live offer was not re-armed")
	}
}
