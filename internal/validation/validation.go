// Package validation checks candidate school runs before they are committed.
package validation

import (
	"fmt"
	"strings"

	"github.com/t77yq/schoolrun/internal/model"
)

// ErrorKind identifies what is wrong with a candidate run
type ErrorKind string

const (
	KindEmptyName   ErrorKind = "empty_name"
	KindNoStops     ErrorKind = "no_stops"
	KindInvalidStop ErrorKind = "invalid_stop"
)

// Stop fields reported by KindInvalidStop
const (
	FieldName             = "name"
	FieldEstimatedMinutes = "estimated_minutes"
)

// ValidationError describes one problem with a candidate run.
// StopIndex and Fields are only set for KindInvalidStop.
type ValidationError struct {
	Kind      ErrorKind `json:"kind"`
	StopIndex int       `json:"stop_index"`
	Fields    []string  `json:"fields,omitempty"`
}

// Error returns a user-facing message
func (e ValidationError) Error() string {
	switch e.Kind {
	case KindEmptyName:
		return "run name must not be empty"
	case KindNoStops:
		return "run must have at least one stop"
	case KindInvalidStop:
		var problems []string
		for _, field := range e.Fields {
			switch field {
			case FieldName:
				problems = append(problems, "name must not be empty")
			case FieldEstimatedMinutes:
				problems = append(problems, "estimated minutes must not be negative")
			}
		}
		return fmt.Sprintf("stop %d: %s", e.StopIndex+1, strings.Join(problems, ", "))
	}
	return string(e.Kind)
}

// ValidationErrors is a non-empty set of validation problems
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return "invalid run: " + strings.Join(msgs, "; ")
}

// Has reports whether any error of the given kind is present
func (errs ValidationErrors) Has(kind ErrorKind) bool {
	for _, err := range errs {
		if err.Kind == kind {
			return true
		}
	}
	return false
}

// Validate checks a candidate run name and stop list. It returns nil when the
// run is valid. Each offending stop yields exactly one KindInvalidStop error.
func Validate(name string, stops []model.Stop) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(name) == "" {
		errs = append(errs, ValidationError{Kind: KindEmptyName, StopIndex: -1})
	}
	if len(stops) == 0 {
		errs = append(errs, ValidationError{Kind: KindNoStops, StopIndex: -1})
	}

	for i, stop := range stops {
		var fields []string
		if strings.TrimSpace(stop.Name) == "" {
			fields = append(fields, FieldName)
		}
		if stop.EstimatedMinutes < 0 {
			fields = append(fields, FieldEstimatedMinutes)
		}
		if len(fields) > 0 {
			errs = append(errs, ValidationError{
				Kind:      KindInvalidStop,
				StopIndex: i,
				Fields:    fields,
			})
		}
	}

	return errs
}

// ValidateRun is Validate applied to a run's name and stops
func ValidateRun(run *model.ScheduledRun) ValidationErrors {
	return Validate(run.Name, run.Stops)
}
