package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduledRun_ScheduledAt(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	run := ScheduledRun{
		ScheduledDate: time.Date(2026, time.May, 4, 0, 0, 0, 0, loc),
		ScheduledTime: time.Date(2000, time.January, 1, 7, 45, 30, 0, time.UTC),
	}
	assert.Equal(t, time.Date(2026, time.May, 4, 7, 45, 30, 0, loc), run.ScheduledAt())
}

func TestScheduledRun_EstimatedDuration(t *testing.T) {
	run := ScheduledRun{Stops: []Stop{
		{Name: "A", EstimatedMinutes: 5},
		{Name: "B", EstimatedMinutes: 10},
		{Name: "C", EstimatedMinutes: 15},
	}}
	assert.Equal(t, 30, run.EstimatedMinutes())
	assert.Equal(t, 30*time.Minute, run.EstimatedDuration())
}

func TestScheduledRun_StopsOfType(t *testing.T) {
	run := ScheduledRun{Stops: []Stop{
		{Name: "Home", StopType: StopTypeHome},
		{Name: "School", StopType: StopTypeSchool},
		{Name: "Back home", StopType: StopTypeHome},
	}}
	homes := run.StopsOfType(StopTypeHome)
	assert.Equal(t, []string{"Home", "Back home"}, []string{homes[0].Name, homes[1].Name})
	assert.Empty(t, run.StopsOfType(StopTypeActivity))
}

func TestScheduledRun_Clone(t *testing.T) {
	run := ScheduledRun{Name: "run", Stops: []Stop{{Name: "A"}}}
	clone := run.Clone()
	clone.Stops[0].Name = "changed"
	assert.Equal(t, "A", run.Stops[0].Name)
	assert.Nil(t, ScheduledRun{}.Clone().Stops)
}

func TestStopType(t *testing.T) {
	assert.True(t, StopTypeSchool.IsValid())
	assert.False(t, StopType("airport").IsValid())
	assert.Equal(t, "mappin", StopType("airport").Icon())
	assert.Equal(t, "house.fill", StopTypeHome.Icon())
}

func TestExecutionState(t *testing.T) {
	tests := []struct {
		from, to ExecutionState
		allowed  bool
	}{
		{ExecutionNotStarted, ExecutionActive, true},
		{ExecutionNotStarted, ExecutionPaused, false},
		{ExecutionActive, ExecutionPaused, true},
		{ExecutionActive, ExecutionCompleted, true},
		{ExecutionPaused, ExecutionActive, true},
		{ExecutionPaused, ExecutionCompleted, false},
		{ExecutionPaused, ExecutionCancelled, true},
		{ExecutionCompleted, ExecutionActive, false},
		{ExecutionCancelled, ExecutionActive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, ExecutionCompleted.IsTerminal())
	assert.True(t, ExecutionCancelled.IsTerminal())
	assert.False(t, ExecutionPaused.IsTerminal())
}

func TestExecutionSnapshot(t *testing.T) {
	snapshot := ExecutionSnapshot{
		State:            ExecutionActive,
		CurrentStopIndex: 1,
		Stops: []Stop{
			{Name: "A", EstimatedMinutes: 5, IsCompleted: true},
			{Name: "B", EstimatedMinutes: 10},
			{Name: "C", EstimatedMinutes: 15},
		},
	}

	current, ok := snapshot.CurrentStop()
	assert.True(t, ok)
	assert.Equal(t, "B", current.Name)
	assert.Equal(t, 1, snapshot.CompletedCount())
	assert.InDelta(t, 1.0/3.0, snapshot.Progress(), 1e-9)
	assert.Equal(t, 25, snapshot.RemainingMinutes())

	snapshot.State = ExecutionCompleted
	_, ok = snapshot.CurrentStop()
	assert.False(t, ok)

	assert.Zero(t, ExecutionSnapshot{}.Progress())
}
