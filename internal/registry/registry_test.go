package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/schoolrun/internal/model"
)

var now = time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)

func newTestRegistry() *Registry {
	seq := 0
	return New(zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("run-%d", seq)
		}),
	)
}

func runAt(name string, at time.Time) model.ScheduledRun {
	return model.ScheduledRun{
		Name:          name,
		ScheduledDate: at,
		ScheduledTime: at,
		Stops: []model.Stop{
			{Name: "Home", StopType: model.StopTypeHome, EstimatedMinutes: 5},
			{Name: "School", StopType: model.StopTypeSchool, EstimatedMinutes: 10},
		},
	}
}

func names(runs []model.ScheduledRun) []string {
	out := make([]string, len(runs))
	for i, run := range runs {
		out[i] = run.Name
	}
	return out
}

func TestRegistry_Create(t *testing.T) {
	reg := newTestRegistry()

	t.Run("assigns ID", func(t *testing.T) {
		created, err := reg.Create(runAt("Morning", now.Add(24*time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, "run-1", created.ID)
		assert.Equal(t, now, created.CreatedAt)
		assert.Equal(t, "run-1-0", created.Stops[0].ID)
		assert.Equal(t, "run-1-1", created.Stops[1].ID)
	})

	t.Run("keeps supplied ID", func(t *testing.T) {
		run := runAt("Custom", now)
		run.ID = "custom-id"
		created, err := reg.Create(run)
		require.NoError(t, err)
		assert.Equal(t, "custom-id", created.ID)
	})

	t.Run("rejects duplicate ID", func(t *testing.T) {
		run := runAt("Again", now)
		run.ID = "custom-id"
		_, err := reg.Create(run)
		assert.ErrorIs(t, err, ErrDuplicateRun)
		assert.Len(t, reg.All(), 2)
	})

	t.Run("does not alias caller stops", func(t *testing.T) {
		run := runAt("Alias", now)
		created, err := reg.Create(run)
		require.NoError(t, err)

		run.Stops[0].Name = "mutated"
		created.Stops[1].Name = "mutated"

		stored, err := reg.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Home", stored.Stops[0].Name)
		assert.Equal(t, "School", stored.Stops[1].Name)
	})
}

func TestRegistry_Get(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	created, err := reg.Create(runAt("Morning", now))
	require.NoError(t, err)

	got, err := reg.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestRegistry_Classification(t *testing.T) {
	reg := newTestRegistry()

	yesterday := now.Add(-24 * time.Hour)
	earlierToday := time.Date(2026, time.March, 10, 7, 30, 0, 0, time.UTC)
	tomorrow := now.Add(24 * time.Hour)
	nextWeek := now.Add(7 * 24 * time.Hour)
	lastWeek := now.Add(-7 * 24 * time.Hour)

	for _, run := range []model.ScheduledRun{
		runAt("next-week", nextWeek),
		runAt("yesterday", yesterday),
		runAt("earlier-today", earlierToday),
		runAt("tomorrow", tomorrow),
		runAt("last-week", lastWeek),
		runAt("done-tomorrow", tomorrow.Add(time.Hour)),
	} {
		_, err := reg.Create(run)
		require.NoError(t, err)
	}
	_, err := reg.MarkCompleted("run-6")
	require.NoError(t, err)

	upcoming := reg.Upcoming()
	past := reg.Past()

	assert.Equal(t, []string{"earlier-today", "tomorrow", "next-week"}, names(upcoming))
	assert.Equal(t, []string{"done-tomorrow", "yesterday", "last-week"}, names(past))

	t.Run("buckets partition all runs", func(t *testing.T) {
		all := reg.All()
		seen := make(map[string]int)
		for _, run := range append(upcoming, past...) {
			seen[run.ID]++
		}
		assert.Len(t, seen, len(all))
		for _, run := range all {
			assert.Equal(t, 1, seen[run.ID], run.Name)
		}
	})

	t.Run("counts", func(t *testing.T) {
		assert.Equal(t, Counts{Total: 6, Upcoming: 3, Past: 3, Completed: 1}, reg.Counts())
	})
}

func TestRegistry_ClassificationFollowsClock(t *testing.T) {
	current := now
	reg := New(zap.NewNop(), WithClock(func() time.Time { return current }))

	_, err := reg.Create(runAt("tomorrow", now.Add(24*time.Hour)))
	require.NoError(t, err)
	assert.Len(t, reg.Upcoming(), 1)

	current = now.Add(48 * time.Hour)
	assert.Empty(t, reg.Upcoming())
	assert.Len(t, reg.Past(), 1)
}

func TestRegistry_ClassificationUsesRunLocation(t *testing.T) {
	eastern := time.FixedZone("EDT", -4*60*60)
	// 22:00 on 10 March in eastern, already 11 March in UTC
	clock := time.Date(2026, time.March, 11, 2, 0, 0, 0, time.UTC)
	reg := New(zap.NewNop(), WithClock(func() time.Time { return clock }))

	for _, run := range []model.ScheduledRun{
		runAt("this evening", time.Date(2026, time.March, 10, 18, 0, 0, 0, eastern)),
		runAt("yesterday evening", time.Date(2026, time.March, 9, 18, 0, 0, 0, eastern)),
	} {
		_, err := reg.Create(run)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"this evening"}, names(reg.Upcoming()))
	assert.Equal(t, []string{"yesterday evening"}, names(reg.Past()))
	assert.Equal(t, Counts{Total: 2, Upcoming: 1, Past: 1}, reg.Counts())
}

func TestRegistry_StableTieBreak(t *testing.T) {
	reg := newTestRegistry()
	at := now.Add(24 * time.Hour)
	for _, name := range []string{"first", "second", "third"} {
		_, err := reg.Create(runAt(name, at))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"first", "second", "third"}, names(reg.Upcoming()))

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		_, err := reg.MarkCompleted(id)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"first", "second", "third"}, names(reg.Past()))
}

func TestRegistry_MarkCompleted(t *testing.T) {
	reg := newTestRegistry()
	created, err := reg.Create(runAt("Morning", now.Add(time.Hour)))
	require.NoError(t, err)

	run, err := reg.MarkCompleted(created.ID)
	require.NoError(t, err)
	assert.True(t, run.IsCompleted)

	run, err = reg.MarkCompleted(created.ID)
	require.NoError(t, err)
	assert.True(t, run.IsCompleted)

	_, err = reg.MarkCompleted("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRegistry_Delete(t *testing.T) {
	reg := newTestRegistry()
	for _, name := range []string{"a", "b", "c"} {
		_, err := reg.Create(runAt(name, now))
		require.NoError(t, err)
	}

	require.NoError(t, reg.Delete("run-2"))
	assert.Equal(t, []string{"a", "c"}, names(reg.All()))

	err := reg.Delete("run-2")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
