// Package execution drives a single school run through its stops.
//
// A Controller is a state machine over model.ExecutionState. Stops are
// completed strictly in order through CompleteCurrentStop; there is no way to
// complete an arbitrary stop or force completion. Every command either applies
// fully and returns the new snapshot, or is rejected with a *TransitionError
// and leaves the snapshot untouched.
//
// A Controller drives exactly one execution. Once it reaches completed or
// cancelled it stays there; a new execution needs a new Controller.
//
// A Controller is owned by one caller at a time and is not safe for
// concurrent use.
package execution

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/schoolrun/internal/model"
)

// Controller executes one run at a time
type Controller struct {
	logger *zap.Logger

	state   model.ExecutionState
	runID   string
	runName string
	stops   []model.Stop
	index   int
	outcome *model.ExecutionSnapshot
}

// NewController creates a controller in the not-started state
func NewController(logger *zap.Logger) *Controller {
	return &Controller{
		logger: logger.Named("execution"),
		state:  model.ExecutionNotStarted,
	}
}

// State returns the current execution state
func (c *Controller) State() model.ExecutionState {
	return c.state
}

// Start begins executing run from its first stop. The run's stops are copied
// and their completion flags cleared; the caller's run is not modified.
func (c *Controller) Start(run model.ScheduledRun) (model.ExecutionSnapshot, error) {
	if c.state != model.ExecutionNotStarted {
		return c.reject(EventStart, "")
	}
	if len(run.Stops) == 0 {
		return c.reject(EventStart, "run has no stops")
	}

	stops := model.CloneStops(run.Stops)
	for i := range stops {
		stops[i].IsCompleted = false
	}

	c.runID = run.ID
	c.runName = run.Name
	c.stops = stops
	c.index = 0
	c.transition(EventStart, model.ExecutionActive)

	c.logger.Info("Run execution started",
		zap.String("run_id", c.runID),
		zap.String("run_name", c.runName),
		zap.Int("stops", len(c.stops)))

	return c.Snapshot(), nil
}

// CompleteCurrentStop marks the current stop completed and advances to the
// next one. Completing the last stop completes the run.
func (c *Controller) CompleteCurrentStop() (model.ExecutionSnapshot, error) {
	if c.state != model.ExecutionActive {
		return c.reject(EventCompleteStop, "")
	}
	if c.index < 0 || c.index >= len(c.stops) {
		return c.reject(EventCompleteStop, fmt.Sprintf("stop index %d out of range [0,%d)", c.index, len(c.stops)))
	}

	c.stops[c.index].IsCompleted = true
	c.logger.Debug("Stop completed",
		zap.String("run_id", c.runID),
		zap.Int("stop_index", c.index),
		zap.String("stop_name", c.stops[c.index].Name))

	if c.index == len(c.stops)-1 {
		c.transition(EventCompleteStop, model.ExecutionCompleted)
		c.finish()
		c.logger.Info("Run execution completed", zap.String("run_id", c.runID))
		return c.Snapshot(), nil
	}

	c.index++
	c.transition(EventCompleteStop, model.ExecutionActive)
	return c.Snapshot(), nil
}

// Pause suspends an active execution without touching stop progress
func (c *Controller) Pause() (model.ExecutionSnapshot, error) {
	if !c.state.CanTransitionTo(model.ExecutionPaused) {
		return c.reject(EventPause, "")
	}
	c.transition(EventPause, model.ExecutionPaused)
	c.logger.Info("Run execution paused",
		zap.String("run_id", c.runID),
		zap.Int("stop_index", c.index))
	return c.Snapshot(), nil
}

// Resume continues a paused execution at the same stop
func (c *Controller) Resume() (model.ExecutionSnapshot, error) {
	if c.state != model.ExecutionPaused {
		return c.reject(EventResume, "")
	}
	c.transition(EventResume, model.ExecutionActive)
	c.logger.Info("Run execution resumed",
		zap.String("run_id", c.runID),
		zap.Int("stop_index", c.index))
	return c.Snapshot(), nil
}

// Cancel abandons an active or paused execution. Stops completed before the
// cancellation keep their flags in the snapshot, but the run is not credited
// as completed.
func (c *Controller) Cancel() (model.ExecutionSnapshot, error) {
	if !c.state.CanTransitionTo(model.ExecutionCancelled) {
		return c.reject(EventCancel, "")
	}
	c.transition(EventCancel, model.ExecutionCancelled)
	c.finish()
	c.logger.Info("Run execution cancelled",
		zap.String("run_id", c.runID),
		zap.Int("stop_index", c.index),
		zap.Int("stops_completed", c.outcome.CompletedCount()))
	return c.Snapshot(), nil
}

// Snapshot returns a copy of the current execution state
func (c *Controller) Snapshot() model.ExecutionSnapshot {
	return model.ExecutionSnapshot{
		RunID:            c.runID,
		RunName:          c.runName,
		State:            c.state,
		CurrentStopIndex: c.index,
		Stops:            model.CloneStops(c.stops),
	}
}

// Outcome returns the snapshot taken when the execution reached a terminal
// state. ok is false while the execution is still running.
func (c *Controller) Outcome() (model.ExecutionSnapshot, bool) {
	if c.outcome == nil {
		return model.ExecutionSnapshot{}, false
	}
	out := *c.outcome
	out.Stops = model.CloneStops(out.Stops)
	return out, true
}

func (c *Controller) transition(event Event, to model.ExecutionState) {
	c.logger.Debug("Execution transition",
		zap.String("run_id", c.runID),
		zap.String("event", string(event)),
		zap.String("from", c.state.String()),
		zap.String("to", to.String()))
	c.state = to
}

func (c *Controller) finish() {
	snapshot := c.Snapshot()
	c.outcome = &snapshot
}

func (c *Controller) reject(event Event, reason string) (model.ExecutionSnapshot, error) {
	err := &TransitionError{
		Event:  event,
		From:   c.state,
		Index:  c.index,
		Reason: reason,
	}
	c.logger.Warn("Execution command rejected",
		zap.String("run_id", c.runID),
		zap.Error(err))
	return c.Snapshot(), err
}
