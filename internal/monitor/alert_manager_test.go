package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/schoolrun/internal/model"
	"github.com/t77yq/schoolrun/internal/testutil"
)

type staticExecutions struct {
	mu         sync.Mutex
	executions []*ActiveExecution
}

func (s *staticExecutions) ActiveExecutions() []*ActiveExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions
}

func (s *staticExecutions) set(executions ...*ActiveExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = executions
}

func TestAlertManager_Rules(t *testing.T) {
	now := time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC)
	current := now
	manager := NewAlertManager(nil, &staticExecutions{}, time.Minute, func() time.Time { return current }, zaptest.NewLogger(t))

	rule := &model.AlertRule{
		Name:      "Run overrun",
		Type:      model.AlertTypeOverrun,
		Threshold: 90 * time.Minute,
		Severity:  model.AlertSeverityWarning,
	}
	require.NoError(t, manager.AddRule(rule))
	require.NotEmpty(t, rule.ID)
	assert.Equal(t, now, rule.CreatedAt)
	assert.Equal(t, rule.CreatedAt, rule.UpdatedAt)

	t.Run("rejects non-positive threshold", func(t *testing.T) {
		err := manager.AddRule(&model.AlertRule{Name: "bad", Type: model.AlertTypeStalled})
		assert.Error(t, err)
	})

	t.Run("update", func(t *testing.T) {
		current = now.Add(time.Minute)
		updated := *rule
		updated.Threshold = 2 * time.Hour
		updated.Severity = model.AlertSeverityCritical
		require.NoError(t, manager.UpdateRule(&updated))

		got, err := manager.GetRule(rule.ID)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Hour, got.Threshold)
		assert.Equal(t, model.AlertSeverityCritical, got.Severity)
		assert.Equal(t, now, got.CreatedAt)
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	})

	t.Run("stored rule is a copy", func(t *testing.T) {
		rule.Silenced = true
		got, err := manager.GetRule(rule.ID)
		require.NoError(t, err)
		assert.False(t, got.Silenced)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, manager.DeleteRule(rule.ID))
		_, err := manager.GetRule(rule.ID)
		assert.ErrorIs(t, err, ErrRuleNotFound)
		assert.ErrorIs(t, manager.DeleteRule(rule.ID), ErrRuleNotFound)
		assert.ErrorIs(t, manager.UpdateRule(rule), ErrRuleNotFound)
	})
}

func TestAlertManager_Evaluate(t *testing.T) {
	js := testutil.JetStream(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	started := time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC)
	current := started
	source := &staticExecutions{}
	manager := NewAlertManager(js, source, time.Hour, func() time.Time { return current }, zaptest.NewLogger(t))
	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	require.NoError(t, manager.AddRule(&model.AlertRule{
		ID:        "overrun",
		Name:      "Run overrun",
		Type:      model.AlertTypeOverrun,
		Threshold: time.Hour,
		Severity:  model.AlertSeverityWarning,
	}))
	require.NoError(t, manager.AddRule(&model.AlertRule{
		ID:        "stalled",
		Name:      "Run stalled",
		Type:      model.AlertTypeStalled,
		Threshold: 10 * time.Minute,
		Severity:  model.AlertSeverityInfo,
	}))

	morning := &ActiveExecution{
		RunID:      "run-1",
		RunName:    "Morning Run",
		State:      string(model.ExecutionActive),
		StopsTotal: 3,
		StartedAt:  started,
		UpdatedAt:  started,
	}
	source.set(morning)

	t.Run("nothing fires within thresholds", func(t *testing.T) {
		current = started.Add(30 * time.Minute)
		assert.Empty(t, manager.Evaluate(ctx))
	})

	t.Run("stalled fires for a long pause", func(t *testing.T) {
		paused := *morning
		paused.State = string(model.ExecutionPaused)
		paused.UpdatedAt = started.Add(35 * time.Minute)
		source.set(&paused)

		current = started.Add(50 * time.Minute)
		alerts := manager.Evaluate(ctx)
		require.Len(t, alerts, 1)
		assert.Equal(t, model.AlertTypeStalled, alerts[0].Type)
		assert.Equal(t, "run-1", alerts[0].RunID)
		assert.Equal(t, 900, alerts[0].Data["elapsed_seconds"])
	})

	t.Run("overrun fires once", func(t *testing.T) {
		source.set(morning)
		current = started.Add(61 * time.Minute)
		alerts := manager.Evaluate(ctx)
		require.Len(t, alerts, 1)
		assert.Equal(t, model.AlertTypeOverrun, alerts[0].Type)
		assert.Equal(t, "Run overrun: Morning Run for 1h1m0s", alerts[0].Message)

		current = started.Add(2 * time.Hour)
		assert.Empty(t, manager.Evaluate(ctx))
	})

	t.Run("finished executions are forgotten", func(t *testing.T) {
		source.set()
		assert.Empty(t, manager.Evaluate(ctx))

		restarted := *morning
		restarted.StartedAt = started.Add(3 * time.Hour)
		source.set(&restarted)
		current = started.Add(5 * time.Hour)
		assert.Len(t, manager.Evaluate(ctx), 1)
	})

	t.Run("silenced rules are skipped", func(t *testing.T) {
		rule, err := manager.GetRule("overrun")
		require.NoError(t, err)
		rule.Silenced = true
		require.NoError(t, manager.UpdateRule(&rule))

		other := *morning
		other.RunID = "run-2"
		source.set(&other)
		assert.Empty(t, manager.Evaluate(ctx))
	})

	msgs := testutil.Collect(t, js, "alert.*", time.Second)
	require.Len(t, msgs, 3)

	var alert model.Alert
	require.NoError(t, json.Unmarshal(msgs[0], &alert))
	assert.Equal(t, model.AlertTypeStalled, alert.Type)
	assert.Equal(t, "stalled", alert.RuleID)
}
