package execution

import (
	"errors"
	"fmt"

	"github.com/t77yq/schoolrun/internal/model"
)

// ErrInvalidTransition is returned when a command is not allowed in the
// controller's current state or against its current stop index
var ErrInvalidTransition = errors.New("invalid transition")

// Event names a controller command
type Event string

const (
	EventStart        Event = "start"
	EventCompleteStop Event = "complete_stop"
	EventPause        Event = "pause"
	EventResume       Event = "resume"
	EventCancel       Event = "cancel"
)

// TransitionError records a rejected command
type TransitionError struct {
	Event  Event
	From   model.ExecutionState
	Index  int
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: cannot %s from %s", ErrInvalidTransition, e.Event, e.From)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
