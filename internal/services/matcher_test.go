package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/models"
	"go.uber.org/zap"
)

type fakeDirectory struct {
	users []models.User

	lastMinRating float64
	lastCategory  string
}

func (f *fakeDirectory) FindEligibleExecutors(_ context.Context, minRating float64, category string) ([]models.User, error) {
	f.lastMinRating = minRating
	f.lastCategory = category
	var out []models.User
	for _, u := range f.users {
		if u.Rating >= minRating {
			out = append(out, u)
		}
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		CommissionRate:        0.10,
		ReliabilityThreshold:  3,
		MinRatingPriority:     4.0,
		MinTaskPrice:          25,
		PrioritySurchargeLow:  10,
		PrioritySurchargeHigh: 15,
		PrioritySurchargeCut:  100,
	}
}

func executor(id int64, rating float64, completed int, tags ...string) models.User {
	return models.User{
		ID:              id,
		Rating:          rating,
		CompletedTasks:  completed,
		IsAcceptingWork: true,
		ExecutorTags:    map[string][]string{"design": tags},
	}
}

func newTestMatcher(dir *fakeDirectory) *Matcher {
	return NewMatcher(dir, testConfig(), rand.New(rand.NewSource(1)), zap.NewNop())
}

func TestMatchPrefersFullCoverage(t *testing.T) {
	// Both executors are candidates, but the partial one scores 0.4*0.75 on
	// the tag term plus half rating: far outside the top scorer's band.
	dir := &fakeDirectory{users: []models.User{
		executor(1, 3.0, 0, "logo", "banner", "print"),
		executor(2, 5.0, 50, "logo", "banner", "print", "icon"),
	}}
	m := newTestMatcher(dir)

	task := &models.Task{ID: 10, CustomerID: 99, Category: "design", Tags: []string{"logo", "banner", "print", "icon"}, Price: 100}
	for i := 0; i < 20; i++ {
		got, err := m.Match(context.Background(), task, nil)
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if got.ID != 2 {
			t.Fatalf("draw %d matched executor %d, want 2", i, got.ID)
		}
	}
}

func TestMatchAdmitsPartialCoverage(t *testing.T) {
	// 3 of 4 tags is above the 70% candidacy floor and below the near-miss
	// band: the executor is dispatched with a reduced tag score.
	dir := &fakeDirectory{users: []models.User{
		executor(1, 5.0, 10, "logo", "banner", "print"),
	}}
	m := newTestMatcher(dir)

	task := &models.Task{ID: 10, CustomerID: 99, Category: "design", Tags: []string{"logo", "banner", "print", "icon"}, Price: 100}
	got, err := m.Match(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got.ID != 1 {
		t.Errorf("matched executor %d, want 1", got.ID)
	}
}

func TestMatchCandidacyFloor(t *testing.T) {
	// 2 of 3 tags (~67%) sits under the floor: no candidate.
	dir := &fakeDirectory{users: []models.User{
		executor(1, 5.0, 50, "logo", "banner"),
	}}
	m := newTestMatcher(dir)

	task := &models.Task{ID: 10, CustomerID: 99, Category: "design", Tags: []string{"logo", "banner", "print"}, Price: 100}
	_, err := m.Match(context.Background(), task, nil)
	if !errors.Is(err, models.ErrNoEligibleCandidate) {
		t.Fatalf("err = %v, want ErrNoEligibleCandidate", err)
	}
}

func TestMatchExcludesCustomerAndMissedExecutors(t *testing.T) {
	dir := &fakeDirectory{users: []models.User{
		executor(99, 5.0, 50, "logo"), // the customer
		executor(1, 5.0, 50, "logo"),  // already missed an offer
		executor(2, 4.0, 5, "logo"),
	}}
	m := newTestMatcher(dir)

	task := &models.Task{ID: 10, CustomerID: 99, Category: "design", Tags: []string{"logo"}, Price: 100}
	got, err := m.Match(context.Background(), task, []int64{1})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got.ID != 2 {
		t.Errorf("matched executor %d, want 2", got.ID)
	}
}

func TestMatchNoEligibleCandidate(t *testing.T) {
	dir := &fakeDirectory{users: []models.User{
		executor(1, 5.0, 50, "logo"), // covers 1 of 3 tags
	}}
	m := newTestMatcher(dir)

	task := &models.Task{ID: 10, CustomerID: 99, Category: "design", Tags: []string{"logo", "banner", "print"}, Price: 100}
	_, err := m.Match(context.Background(), task, nil)
	if !errors.Is(err, models.ErrNoEligibleCandidate) {
		t.Fatalf("err = %v, want ErrNoEligibleCandidate", err)
	}
}

func TestMatchNearMissReportsTagGap(t *testing.T) {
	// 9 of 10 tags covered: 90% is a near miss, not a match.
	required := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10"}
	have := required[:9]

	dir := &fakeDirectory{users: []models.User{executor(1, 5.0, 50, have...)}}
	m := newTestMatcher(dir)

	task := &models.Task{ID: 10, CustomerID: 99, Category: "design", Tags: required, Price: 100}
	_, err := m.Match(context.Background(), task, nil)

	var gap *TagGapError
	if !errors.As(err, &gap) {
		t.Fatalf("err = %v, want *TagGapError", err)
	}
	if gap.BestCoverage != 0.9 {
		t.Errorf("BestCoverage = %v, want 0.9", gap.BestCoverage)
	}
	if len(gap.MissingTags) != 1 || gap.MissingTags[0] != "t10" {
		t.Errorf("MissingTags = %v, want [t10]", gap.MissingTags)
	}
}

func TestMatchPriorityRaisesRatingFloor(t *testing.T) {
	dir := &fakeDirectory{users: []models.User{
		executor(1, 3.5, 50, "logo"),
		executor(2, 4.5, 5, "logo"),
	}}
	m := newTestMatcher(dir)

	task := &models.Task{ID: 10, CustomerID: 99, Category: "design", Tags: []string{"logo"}, Price: 100, Priority: true}
	got, err := m.Match(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if dir.lastMinRating != 4.0 {
		t.Errorf("minRating = %v, want 4.0", dir.lastMinRating)
	}
	if got.ID != 2 {
		t.Errorf("matched executor %d, want 2", got.ID)
	}
}

func TestMatchSpreadsWithinBand(t *testing.T) {
	// Two identical executors: both sit in the selection band, and over many
	// seeded draws each must win at least once.
	dir := &fakeDirectory{users: []models.User{
		executor(1, 4.8, 20, "logo"),
		executor(2, 4.8, 20, "logo"),
	}}
	m := newTestMatcher(dir)

	task := &models.Task{ID: 10, CustomerID: 99, Category: "design", Tags: []string{"logo"}, Price: 100}
	wins := map[int64]int{}
	for i := 0; i < 50; i++ {
		got, err := m.Match(context.Background(), task, nil)
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		wins[got.ID]++
	}
	if wins[1] == 0 || wins[2] == 0 {
		t.Errorf("expected both executors to win at least once, got %v", wins)
	}
}

func TestMatchBandExcludesLowScorers(t *testing.T) {
	// Executor 2 scores far below executor 1, outside the 10% band, so the
	// top scorer must win every draw.
	dir := &fakeDirectory{users: []models.User{
		executor(1, 5.0, 50, "logo"),
		executor(2, 1.0, 0, "logo"),
	}}
	m := newTestMatcher(dir)

	task := &models.Task{ID: 10, CustomerID: 99, Category: "design", Tags: []string{"logo"}, Price: 100}
	for i := 0; i < 20; i++ {
		got, err := m.Match(context.Background(), task, nil)
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if got.ID != 1 {
			t.Fatalf("draw %d matched executor %d, want 1", i, got.ID)
		}
	}
}

func TestScoreCaps(t *testing.T) {
	task := &models.Task{Category: "design", Tags: []string{"logo"}}

	// Experience bonus caps at 0.3, superset bonus at 0.2: a veteran with a
	// huge tag list cannot exceed 0.4 + 0.5 + 0.3 + 0.2.
	manyTags := []string{"logo", "a", "b", "c", "d", "e", "f", "g", "h", "i"}
	veteran := executor(1, 5.0, 1000, manyTags...)
	if got, want := score(task, &veteran, 1.0), 1.4; math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %v, want %v", got, want)
	}

	rookie := executor(2, 1.0, 0, "logo")
	if got, want := score(task, &rookie, 1.0), 0.4; got != want {
		t.Errorf("rookie score = %v, want %v", got, want)
	}
	if got, want := score(task, &rookie, 0.75), 0.3; math.Abs(got-want) > 1e-9 {
		t.Errorf("partial-coverage score = %v, want %v", got, want)
	}
}

func TestTagCoverageEmptyRequired(t *testing.T) {
	cov, missing := tagCoverage(nil, []string{"logo"})
	if cov != 1.0 || missing != nil {
		t.Errorf("tagCoverage(nil) = %v, %v; want 1.0, nil", cov, missing)
	}
}
