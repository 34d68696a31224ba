// Package session connects the run registry and the execution controller for
// the screen that is currently driving a school run.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/schoolrun/internal/events"
	"github.com/t77yq/schoolrun/internal/execution"
	"github.com/t77yq/schoolrun/internal/model"
	"github.com/t77yq/schoolrun/internal/registry"
	"github.com/t77yq/schoolrun/internal/storage"
	"github.com/t77yq/schoolrun/internal/validation"
)

// Config holds session settings
type Config struct {
	// ConfirmDelay is applied before a stop confirmation reaches the engine
	ConfirmDelay time.Duration
}

// ControllerFactory builds the controller for a new execution
type ControllerFactory func() *execution.Controller

// Option configures a Session
type Option func(*Session)

// WithPublisher sets where lifecycle events are sent
func WithPublisher(p events.Publisher) Option {
	return func(s *Session) {
		s.publisher = p
	}
}

// WithJournal records every execution in journal
func WithJournal(journal storage.Journal) Option {
	return func(s *Session) {
		s.journal = journal
	}
}

// WithDelayer overrides how ConfirmDelay is waited out
func WithDelayer(d Delayer) Option {
	return func(s *Session) {
		s.delayer = d
	}
}

// WithClock overrides the clock used for journal timestamps
func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// Session serializes commands from one UI owner and reconciles execution
// outcomes with the registry
type Session struct {
	config    Config
	logger    *zap.Logger
	registry  *registry.Registry
	newCtrl   ControllerFactory
	publisher events.Publisher
	journal   storage.Journal
	delayer   Delayer
	clock     func() time.Time

	mu sync.Mutex
	// ctrl drives the current or most recent execution
	ctrl   *execution.Controller
	record *storage.ExecutionRecord
}

// New creates a session. newCtrl is called once up front and again for every
// run started after the previous execution finished.
func New(config Config, reg *registry.Registry, newCtrl ControllerFactory, logger *zap.Logger, opts ...Option) *Session {
	s := &Session{
		config:    config,
		logger:    logger.Named("session"),
		registry:  reg,
		newCtrl:   newCtrl,
		ctrl:      newCtrl(),
		publisher: events.NopPublisher{},
		delayer:   SleepDelayer{},
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRun validates a draft and commits it to the registry. Validation
// problems are returned as validation.ValidationErrors and nothing is stored.
func (s *Session) CreateRun(ctx context.Context, draft model.ScheduledRun) (model.ScheduledRun, error) {
	if errs := validation.ValidateRun(&draft); len(errs) > 0 {
		s.logger.Info("Run rejected by validation",
			zap.String("name", draft.Name),
			zap.Int("problems", len(errs)))
		return model.ScheduledRun{}, errs
	}

	run, err := s.registry.Create(draft)
	if err != nil {
		return model.ScheduledRun{}, fmt.Errorf("failed to create run: %w", err)
	}

	s.publish(ctx, events.Event{
		Type:    events.TypeRunCreated,
		RunID:   run.ID,
		RunName: run.Name,
		Data: map[string]interface{}{
			"scheduled_at":      run.ScheduledAt(),
			"estimated_minutes": run.EstimatedMinutes(),
			"stops":             len(run.Stops),
		},
	})
	return run, nil
}

// DeleteRun removes a run that is not currently executing
func (s *Session) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.ctrl.Snapshot()
	if snapshot.RunID == id && !snapshot.State.IsTerminal() && snapshot.State != model.ExecutionNotStarted {
		return fmt.Errorf("%w: run %s is executing", ErrRunBusy, id)
	}

	if err := s.registry.Delete(id); err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.TypeRunDeleted, RunID: id})
	return nil
}

// StartRun begins executing a stored run. When the previous execution has
// finished, the run gets a fresh controller and the finished one is left in
// its terminal state.
func (s *Session) StartRun(ctx context.Context, id string) (model.ExecutionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.registry.Get(id)
	if err != nil {
		return s.ctrl.Snapshot(), err
	}

	ctrl := s.ctrl
	if ctrl.State().IsTerminal() {
		ctrl = s.newCtrl()
	}

	snapshot, err := ctrl.Start(run)
	if err != nil {
		return s.ctrl.Snapshot(), err
	}
	s.ctrl = ctrl
	s.record = nil

	s.openRecord(ctx, snapshot)
	s.publishSnapshot(ctx, events.TypeExecutionStarted, snapshot)
	return snapshot, nil
}

// ConfirmStop completes the current stop after the configured confirm delay.
// When the last stop is completed the run is marked completed in the
// registry.
func (s *Session) ConfirmStop(ctx context.Context) (model.ExecutionSnapshot, error) {
	if err := s.delayer.Delay(ctx, s.config.ConfirmDelay); err != nil {
		return s.Snapshot(), fmt.Errorf("stop confirmation abandoned: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.ctrl.CompleteCurrentStop()
	if err != nil {
		return snapshot, err
	}

	if snapshot.State != model.ExecutionCompleted {
		s.updateRecord(ctx, snapshot)
		s.publishSnapshot(ctx, events.TypeExecutionAdvanced, snapshot)
		return snapshot, nil
	}

	s.closeRecord(ctx, snapshot)
	s.publishSnapshot(ctx, events.TypeExecutionCompleted, snapshot)

	run, err := s.registry.MarkCompleted(snapshot.RunID)
	if err != nil {
		return snapshot, fmt.Errorf("failed to record completed run: %w", err)
	}
	s.publish(ctx, events.Event{
		Type:    events.TypeRunCompleted,
		RunID:   run.ID,
		RunName: run.Name,
	})
	return snapshot, nil
}

// Pause suspends the current execution
func (s *Session) Pause(ctx context.Context) (model.ExecutionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.ctrl.Pause()
	if err != nil {
		return snapshot, err
	}
	s.updateRecord(ctx, snapshot)
	s.publishSnapshot(ctx, events.TypeExecutionPaused, snapshot)
	return snapshot, nil
}

// Resume continues a paused execution
func (s *Session) Resume(ctx context.Context) (model.ExecutionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.ctrl.Resume()
	if err != nil {
		return snapshot, err
	}
	s.updateRecord(ctx, snapshot)
	s.publishSnapshot(ctx, events.TypeExecutionResumed, snapshot)
	return snapshot, nil
}

// Cancel abandons the current execution. The registry entry is left
// unchanged.
func (s *Session) Cancel(ctx context.Context) (model.ExecutionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.ctrl.Cancel()
	if err != nil {
		return snapshot, err
	}
	s.closeRecord(ctx, snapshot)
	s.publishSnapshot(ctx, events.TypeExecutionCancelled, snapshot)
	return snapshot, nil
}

// Snapshot returns the current execution snapshot
func (s *Session) Snapshot() model.ExecutionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.Snapshot()
}

// History returns the most recent journal records for a run
func (s *Session) History(ctx context.Context, runID string, limit int) ([]*storage.ExecutionRecord, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.List(ctx, map[string]interface{}{"run_id": runID}, 0, limit)
}

func (s *Session) openRecord(ctx context.Context, snapshot model.ExecutionSnapshot) {
	if s.journal == nil {
		return
	}
	record := &storage.ExecutionRecord{
		ID:         uuid.New().String(),
		RunID:      snapshot.RunID,
		RunName:    snapshot.RunName,
		State:      snapshot.State,
		StopsTotal: len(snapshot.Stops),
		StartedAt:  s.clock(),
	}
	if err := s.journal.Store(ctx, record); err != nil {
		s.logger.Error("Failed to store execution record",
			zap.String("run_id", snapshot.RunID),
			zap.Error(err))
		return
	}
	s.record = record
}

func (s *Session) updateRecord(ctx context.Context, snapshot model.ExecutionSnapshot) {
	if s.journal == nil || s.record == nil {
		return
	}
	s.record.State = snapshot.State
	s.record.StopsCompleted = snapshot.CompletedCount()
	if err := s.journal.Update(ctx, s.record); err != nil {
		s.logger.Error("Failed to update execution record",
			zap.String("record_id", s.record.ID),
			zap.Error(err))
	}
}

func (s *Session) closeRecord(ctx context.Context, snapshot model.ExecutionSnapshot) {
	if s.record == nil {
		return
	}
	finished := s.clock()
	s.record.FinishedAt = &finished
	s.record.Duration = finished.Sub(s.record.StartedAt)
	s.updateRecord(ctx, snapshot)
}

func (s *Session) publishSnapshot(ctx context.Context, eventType events.Type, snapshot model.ExecutionSnapshot) {
	s.publish(ctx, events.Event{
		Type:      eventType,
		RunID:     snapshot.RunID,
		RunName:   snapshot.RunName,
		State:     snapshot.State.String(),
		StopIndex: snapshot.CurrentStopIndex,
		Data: map[string]interface{}{
			"stops_completed":   snapshot.CompletedCount(),
			"stops_total":       len(snapshot.Stops),
			"remaining_minutes": snapshot.RemainingMinutes(),
		},
	})
}

// publish logs delivery failures and does not return them
func (s *Session) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("run_id", event.RunID),
			zap.Error(err))
	}
}

// IsUserError reports whether err is a validation problem to show the user,
// as opposed to caller misuse or a missing run
func IsUserError(err error) bool {
	var errs validation.ValidationErrors
	return errors.As(err, &errs)
}
