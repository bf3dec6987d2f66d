package services

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/models"
	"go.uber.org/zap"
)

// Scoring weights. Executors covering at least 70% of the requested tags are
// candidates; score ranks them by tag coverage, rating and experience, with a
// capped bonus for knowing more of the category than asked.
const (
	weightTags       = 0.4
	weightRating     = 0.5
	experienceStep   = 0.05
	experienceCap    = 0.3
	supersetStep     = 0.05
	supersetCap      = 0.2
	candidateFloor   = 0.7
	nearMissFloor    = 0.9
	selectionBandPct = 0.10
)

// ExecutorDirectory is the matcher's view of the account store.
type ExecutorDirectory interface {
	FindEligibleExecutors(ctx context.Context, minRating float64, category string) ([]models.User, error)
}

// TagGapError reports a near miss: the best available executor covers at
// least 90% of the requested tags but not all of them. Dispatch is held back
// so the caller can suggest dropping MissingTags to the customer.
type TagGapError struct {
	BestCoverage float64
	MissingTags  []string
}

func (e *TagGapError) Error() string {
	return fmt.Sprintf("no full tag coverage (best %.0f%%, missing: %s)",
		e.BestCoverage*100, strings.Join(e.MissingTags, ", "))
}

type Matcher struct {
	directory ExecutorDirectory
	cfg       *config.Config
	log       *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMatcher builds a matcher around the given RNG. Production wiring passes
// a time-seeded source; tests pass a fixed seed.
func NewMatcher(directory ExecutorDirectory, cfg *config.Config, rng *rand.Rand, log *zap.Logger) *Matcher {
	return &Matcher{directory: directory, cfg: cfg, rng: rng, log: log}
}

type scoredCandidate struct {
	user  models.User
	score float64
}

// Match picks an executor for the task, excluding its customer and every id
// in exclude (executors who already missed an offer for it). Returns
// models.ErrNoEligibleCandidate when nobody qualifies, or *TagGapError when
// the best coverage on offer is a near miss.
func (m *Matcher) Match(ctx context.Context, task *models.Task, exclude []int64) (*models.User, error) {
	minRating := 0.0
	if task.Priority {
		minRating = m.cfg.MinRatingPriority
	}

	pool, err := m.directory.FindEligibleExecutors(ctx, minRating, task.Category)
	if err != nil {
		return nil, fmt.Errorf("load executor pool: %w", err)
	}

	excluded := make(map[int64]bool, len(exclude)+1)
	excluded[task.CustomerID] = true
	for _, id := range exclude {
		excluded[id] = true
	}

	var candidates []scoredCandidate
	bestCoverage := 0.0
	var bestMissing []string

	for _, u := range pool {
		if excluded[u.ID] {
			continue
		}
		coverage, missing := tagCoverage(task.Tags, u.TagsForCategory(task.Category))
		if coverage > bestCoverage {
			bestCoverage = coverage
			bestMissing = missing
		}
		if coverage < candidateFloor {
			continue
		}
		candidates = append(candidates, scoredCandidate{user: u, score: score(task, &u, coverage)})
	}

	// A best match just short of full coverage means the customer likely
	// over-specified a tag: hold the dispatch and suggest dropping it instead
	// of settling for a weaker candidate.
	if bestCoverage >= nearMissFloor && bestCoverage < 1.0 {
		return nil, &TagGapError{BestCoverage: bestCoverage, MissingTags: bestMissing}
	}
	if len(candidates) == 0 {
		return nil, models.ErrNoEligibleCandidate
	}

	pick := m.pick(candidates)
	m.log.Debug("matched executor",
		zap.Int64("task_id", task.ID),
		zap.Int64("executor_id", pick.user.ID),
		zap.Float64("score", pick.score),
		zap.Int("pool", len(candidates)))
	return &pick.user, nil
}

// pick selects uniformly among candidates whose score is within the band of
// the top score, so a single high scorer does not monopolize offers.
func (m *Matcher) pick(candidates []scoredCandidate) scoredCandidate {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].user.ID < candidates[j].user.ID
	})

	cutoff := candidates[0].score * (1 - selectionBandPct)
	band := 1
	for band < len(candidates) && candidates[band].score >= cutoff {
		band++
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return candidates[m.rng.Intn(band)]
}

// tagCoverage returns the fraction of required tags the executor declares,
// plus the tags still missing. No required tags means full coverage.
func tagCoverage(required, have []string) (float64, []string) {
	if len(required) == 0 {
		return 1.0, nil
	}
	haveSet := make(map[string]bool, len(have))
	for _, t := range have {
		haveSet[t] = true
	}
	var missing []string
	matched := 0
	for _, t := range required {
		if haveSet[t] {
			matched++
		} else {
			missing = append(missing, t)
		}
	}
	return float64(matched) / float64(len(required)), missing
}

func score(task *models.Task, u *models.User, coverage float64) float64 {
	s := weightTags * coverage
	s += weightRating * normalizedRating(u.Rating)
	s += capped(float64(u.CompletedTasks)*experienceStep, experienceCap)

	extra := len(u.TagsForCategory(task.Category)) - len(task.Tags)
	if extra > 0 {
		s += capped(float64(extra)*supersetStep, supersetCap)
	}
	return s
}

// normalizedRating maps the 1..5 rating scale onto [0,1].
func normalizedRating(rating float64) float64 {
	n := (rating - 1) / 4
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func capped(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}
