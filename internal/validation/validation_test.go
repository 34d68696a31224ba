package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/schoolrun/internal/model"
)

func stop(name string, minutes int) model.Stop {
	return model.Stop{Name: name, StopType: model.StopTypeCustom, EstimatedMinutes: minutes}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		runName   string
		stops     []model.Stop
		wantKinds []ErrorKind
	}{
		{
			name:      "empty name and no stops",
			runName:   "",
			stops:     nil,
			wantKinds: []ErrorKind{KindEmptyName, KindNoStops},
		},
		{
			name:      "whitespace name",
			runName:   "  \t\n",
			stops:     []model.Stop{stop("Home", 5)},
			wantKinds: []ErrorKind{KindEmptyName},
		},
		{
			name:      "empty stop slice",
			runName:   "Morning Run",
			stops:     []model.Stop{},
			wantKinds: []ErrorKind{KindNoStops},
		},
		{
			name:      "valid run",
			runName:   "Morning Run",
			stops:     []model.Stop{stop("Home", 0), stop("School", 10)},
			wantKinds: nil,
		},
		{
			name:      "every stop invalid",
			runName:   "Morning Run",
			stops:     []model.Stop{stop("", 5), stop("School", -1), stop(" ", -3)},
			wantKinds: []ErrorKind{KindInvalidStop, KindInvalidStop, KindInvalidStop},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.runName, tt.stops)
			var kinds []ErrorKind
			for _, err := range errs {
				kinds = append(kinds, err.Kind)
			}
			assert.Equal(t, tt.wantKinds, kinds)
		})
	}
}

func TestValidate_SingleUnnamedStop(t *testing.T) {
	errs := Validate("Morning Run", []model.Stop{stop("", 5)})
	require.Len(t, errs, 1)
	assert.Equal(t, KindInvalidStop, errs[0].Kind)
	assert.Equal(t, 0, errs[0].StopIndex)
	assert.Equal(t, []string{FieldName}, errs[0].Fields)
}

func TestValidate_OneErrorPerStop(t *testing.T) {
	errs := Validate("Run", []model.Stop{stop("Home", 5), stop("", -2)})
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].StopIndex)
	assert.Equal(t, []string{FieldName, FieldEstimatedMinutes}, errs[0].Fields)
	assert.Equal(t, "stop 2: name must not be empty, estimated minutes must not be negative", errs[0].Error())
}

func TestValidate_Idempotent(t *testing.T) {
	stops := []model.Stop{stop("", -1), stop("School", 10)}
	original := model.CloneStops(stops)

	first := Validate("", stops)
	second := Validate("", stops)

	assert.Equal(t, first, second)
	assert.Equal(t, original, stops)
}

func TestValidationErrors(t *testing.T) {
	errs := Validate("", nil)
	require.Error(t, errs)
	assert.True(t, errs.Has(KindEmptyName))
	assert.True(t, errs.Has(KindNoStops))
	assert.False(t, errs.Has(KindInvalidStop))
	assert.Equal(t, "invalid run: run name must not be empty; run must have at least one stop", errs.Error())
}

func TestValidateRun(t *testing.T) {
	run := &model.ScheduledRun{Name: "Afternoon Pickup", Stops: []model.Stop{stop("School", 10)}}
	assert.Nil(t, ValidateRun(run))
}
