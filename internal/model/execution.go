package model

// ExecutionState represents where a run's execution currently is
type ExecutionState string

const (
	ExecutionNotStarted ExecutionState = "not_started"
	ExecutionActive     ExecutionState = "active"
	ExecutionPaused     ExecutionState = "paused"
	ExecutionCompleted  ExecutionState = "completed"
	ExecutionCancelled  ExecutionState = "cancelled"
)

var executionTransitions = map[ExecutionState][]ExecutionState{
	ExecutionNotStarted: {ExecutionActive},
	ExecutionActive:     {ExecutionActive, ExecutionPaused, ExecutionCompleted, ExecutionCancelled},
	ExecutionPaused:     {ExecutionActive, ExecutionCancelled},
}

// IsTerminal reports whether no further transitions are accepted
func (s ExecutionState) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionCancelled
}

// CanTransitionTo reports whether moving from s to target is allowed
func (s ExecutionState) CanTransitionTo(target ExecutionState) bool {
	for _, state := range executionTransitions[s] {
		if state == target {
			return true
		}
	}
	return false
}

func (s ExecutionState) String() string {
	return string(s)
}

// ExecutionSnapshot is the complete, self-contained view of an execution.
// Stops is a copy and may be freely retained by the caller.
type ExecutionSnapshot struct {
	RunID            string         `json:"run_id"`
	RunName          string         `json:"run_name"`
	State            ExecutionState `json:"state"`
	CurrentStopIndex int            `json:"current_stop_index"`
	Stops            []Stop         `json:"stops"`
}

// CurrentStop returns the stop awaiting completion, if any
func (s ExecutionSnapshot) CurrentStop() (Stop, bool) {
	if s.State != ExecutionActive && s.State != ExecutionPaused {
		return Stop{}, false
	}
	if s.CurrentStopIndex < 0 || s.CurrentStopIndex >= len(s.Stops) {
		return Stop{}, false
	}
	return s.Stops[s.CurrentStopIndex], true
}

// CompletedCount returns how many stops are marked completed
func (s ExecutionSnapshot) CompletedCount() int {
	n := 0
	for _, stop := range s.Stops {
		if stop.IsCompleted {
			n++
		}
	}
	return n
}

// Progress returns the completed fraction in [0, 1]
func (s ExecutionSnapshot) Progress() float64 {
	if len(s.Stops) == 0 {
		return 0
	}
	return float64(s.CompletedCount()) / float64(len(s.Stops))
}

// RemainingMinutes sums the estimates of stops not yet completed
func (s ExecutionSnapshot) RemainingMinutes() int {
	total := 0
	for _, stop := range s.Stops {
		if !stop.IsCompleted {
			total += stop.EstimatedMinutes
		}
	}
	return total
}
