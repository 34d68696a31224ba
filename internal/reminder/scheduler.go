// Package reminder periodically announces school runs that are about to start.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/schoolrun/internal/events"
	"github.com/t77yq/schoolrun/internal/model"
)

// DefaultSpec sweeps at the top of every minute
const DefaultSpec = "0 * * * * *"

// RunSource lists the runs that may need a reminder
type RunSource interface {
	Upcoming() []model.ScheduledRun
}

// Config defines when reminders are sent
type Config struct {
	// Spec is a six-field cron expression (with seconds) for the sweep
	Spec string
	// Lead is how far ahead of a run's scheduled instant it is announced
	Lead time.Duration
}

// Scheduler runs the reminder sweep on a cron schedule
type Scheduler struct {
	logger    *zap.Logger
	cron      *cron.Cron
	schedule  cron.Schedule
	config    Config
	source    RunSource
	publisher events.Publisher
	clock     func() time.Time

	mu       sync.Mutex
	reminded map[string]time.Time
	entryID  cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewScheduler creates a reminder scheduler. clock may be nil to use time.Now.
func NewScheduler(config Config, source RunSource, publisher events.Publisher, clock func() time.Time, logger *zap.Logger) (*Scheduler, error) {
	if config.Spec == "" {
		config.Spec = DefaultSpec
	}
	schedule, err := specParser.Parse(config.Spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}

	logger = logger.Named("reminder")
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithParser(specParser),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		cron.WithLogger(cronLogger),
	}

	return &Scheduler{
		logger:    logger,
		cron:      cron.New(cronOptions...),
		schedule:  schedule,
		config:    config,
		source:    source,
		publisher: publisher,
		clock:     clock,
		reminded:  make(map[string]time.Time),
	}, nil
}

// Start registers the sweep job and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	entryID, err := s.cron.AddJob(s.config.Spec, &sweepJob{scheduler: s, ctx: ctx})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.mu.Lock()
	s.entryID = entryID
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Reminder scheduler started",
		zap.String("spec", s.config.Spec),
		zap.Duration("lead", s.config.Lead),
		zap.Time("next_sweep", s.NextSweep()))
	return nil
}

// Stop stops the cron runner and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Reminder scheduler stopped")
}

// NextSweep returns when the next sweep is due
func (s *Scheduler) NextSweep() time.Time {
	return s.schedule.Next(s.clock())
}

// Sweep publishes a reminder for every upcoming run whose scheduled instant
// falls within the lead window. A run is reminded once per scheduled instant.
// It returns the number of reminders published.
func (s *Scheduler) Sweep(ctx context.Context) int {
	now := s.clock()
	horizon := now.Add(s.config.Lead)
	sent := 0

	for _, run := range s.source.Upcoming() {
		at := run.ScheduledAt()
		if at.Before(now) || at.After(horizon) {
			continue
		}

		key := reminderKey(run.ID, at)
		s.mu.Lock()
		_, done := s.reminded[key]
		s.mu.Unlock()
		if done {
			continue
		}

		data := map[string]interface{}{
			"scheduled_at":      at,
			"starts_in_minutes": int(at.Sub(now).Minutes()),
		}
		if len(run.Stops) > 0 {
			data["first_stop"] = run.Stops[0].Name
		}
		err := s.publisher.Publish(ctx, events.Event{
			Type:    events.TypeReminderDue,
			RunID:   run.ID,
			RunName: run.Name,
			Data:    data,
		})
		if err != nil {
			s.logger.Error("Failed to publish reminder",
				zap.String("run_id", run.ID),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.reminded[key] = now
		s.mu.Unlock()
		sent++

		s.logger.Info("Reminder published",
			zap.String("run_id", run.ID),
			zap.String("name", run.Name),
			zap.Time("scheduled_at", at))
	}

	s.prune(now)
	return sent
}

// prune forgets reminders for instants that have passed
func (s *Scheduler) prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, sentAt := range s.reminded {
		if now.Sub(sentAt) > s.config.Lead+24*time.Hour {
			delete(s.reminded, key)
		}
	}
}

func reminderKey(runID string, at time.Time) string {
	return fmt.Sprintf("%s@%d", runID, at.Unix())
}

// sweepJob implements cron.Job
type sweepJob struct {
	scheduler *Scheduler
	ctx       context.Context
}

// Run implements cron.Job
func (j *sweepJob) Run() {
	if j.ctx.Err() != nil {
		return
	}
	sent := j.scheduler.Sweep(j.ctx)
	j.scheduler.logger.Debug("Reminder sweep finished",
		zap.Int("sent", sent),
		zap.Time("next_sweep", j.scheduler.NextSweep()))
}
