// Package registry stores scheduled school runs and classifies them into
// upcoming and past buckets.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/schoolrun/internal/model"
)

// Clock returns the current instant
type Clock func() time.Time

// IDGenerator returns a fresh run identifier
type IDGenerator func() string

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the clock used for upcoming/past classification
func WithClock(clock Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithIDGenerator overrides how IDs are assigned on Create
func WithIDGenerator(gen IDGenerator) Option {
	return func(r *Registry) {
		r.newID = gen
	}
}

// Counts summarizes the registry contents at a point in time
type Counts struct {
	Total     int `json:"total"`
	Upcoming  int `json:"upcoming"`
	Past      int `json:"past"`
	Completed int `json:"completed"`
}

// Registry owns the set of scheduled runs. Runs are kept in insertion order;
// reads always return copies.
type Registry struct {
	logger *zap.Logger
	clock  Clock
	newID  IDGenerator

	mu    sync.RWMutex
	runs  map[string]*model.ScheduledRun
	order []string
}

// New creates an empty registry
func New(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger: logger.Named("registry"),
		clock:  time.Now,
		newID:  uuid.NewString,
		runs:   make(map[string]*model.ScheduledRun),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores an already validated run. An empty ID is assigned from the
// ID generator; a supplied ID is kept.
func (r *Registry) Create(run model.ScheduledRun) (model.ScheduledRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := run.Clone()
	if stored.ID == "" {
		stored.ID = r.newID()
	}
	if _, exists := r.runs[stored.ID]; exists {
		return model.ScheduledRun{}, fmt.Errorf("%w: %s", ErrDuplicateRun, stored.ID)
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.clock()
	}
	for i := range stored.Stops {
		if stored.Stops[i].ID == "" {
			stored.Stops[i].ID = fmt.Sprintf("%s-%d", stored.ID, i)
		}
	}

	r.runs[stored.ID] = &stored
	r.order = append(r.order, stored.ID)

	r.logger.Info("Run created",
		zap.String("run_id", stored.ID),
		zap.String("name", stored.Name),
		zap.Time("scheduled_at", stored.ScheduledAt()),
		zap.Int("stops", len(stored.Stops)))

	return stored.Clone(), nil
}

// Get returns the run with the given ID
func (r *Registry) Get(id string) (model.ScheduledRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return model.ScheduledRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run.Clone(), nil
}

// All returns every stored run in insertion order
func (r *Registry) All() []model.ScheduledRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(func(*model.ScheduledRun) bool { return true })
}

// Upcoming returns runs that are not completed and are scheduled today or
// later, earliest first.
func (r *Registry) Upcoming() []model.ScheduledRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock()
	runs := r.collect(func(run *model.ScheduledRun) bool {
		return !isPast(run, now)
	})
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].ScheduledAt().Before(runs[j].ScheduledAt())
	})
	return runs
}

// Past returns runs that are completed or scheduled before today, most
// recent first.
func (r *Registry) Past() []model.ScheduledRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock()
	runs := r.collect(func(run *model.ScheduledRun) bool {
		return isPast(run, now)
	})
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].ScheduledAt().After(runs[j].ScheduledAt())
	})
	return runs
}

// MarkCompleted flags a run as completed. Marking a completed run again is a
// no-op.
func (r *Registry) MarkCompleted(id string) (model.ScheduledRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return model.ScheduledRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if !run.IsCompleted {
		run.IsCompleted = true
		r.logger.Info("Run marked completed", zap.String("run_id", id))
	}
	return run.Clone(), nil
}

// Delete removes a run
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	delete(r.runs, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("Run deleted", zap.String("run_id", id))
	return nil
}

// Counts classifies every run against the current clock
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock()
	counts := Counts{Total: len(r.order)}
	for _, id := range r.order {
		run := r.runs[id]
		if run.IsCompleted {
			counts.Completed++
		}
		if isPast(run, now) {
			counts.Past++
		} else {
			counts.Upcoming++
		}
	}
	return counts
}

// collect must be called with mu held
func (r *Registry) collect(keep func(*model.ScheduledRun) bool) []model.ScheduledRun {
	runs := make([]model.ScheduledRun, 0, len(r.order))
	for _, id := range r.order {
		run := r.runs[id]
		if keep(run) {
			runs = append(runs, run.Clone())
		}
	}
	return runs
}

// isPast is the single classification predicate: a completed run is past
// even when its date is still ahead. "Today" is taken in the run's own
// location, so a run keeps its local calendar day whatever zone the clock
// reports in.
func isPast(run *model.ScheduledRun, now time.Time) bool {
	if run.IsCompleted {
		return true
	}
	at := run.ScheduledAt()
	return at.Before(startOfDay(now.In(at.Location())))
}

// startOfDay truncates t to midnight in t's location
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
