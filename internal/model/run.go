package model

import (
	"time"
)

// ScheduledRun is an identifiable, ordered school run plan
type ScheduledRun struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ScheduledDate time.Time `json:"scheduled_date"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Stops         []Stop    `json:"stops"`
	IsCompleted   bool      `json:"is_completed"`
	CreatedAt     time.Time `json:"created_at"`
}

// ScheduledAt combines the calendar date of ScheduledDate with the wall-clock
// time of ScheduledTime, in ScheduledDate's location.
func (r *ScheduledRun) ScheduledAt() time.Time {
	y, m, d := r.ScheduledDate.Date()
	hh, mm, ss := r.ScheduledTime.Clock()
	return time.Date(y, m, d, hh, mm, ss, 0, r.ScheduledDate.Location())
}

// EstimatedMinutes is the sum of the stops' estimated minutes
func (r *ScheduledRun) EstimatedMinutes() int {
	total := 0
	for _, stop := range r.Stops {
		total += stop.EstimatedMinutes
	}
	return total
}

// EstimatedDuration is EstimatedMinutes as a duration
func (r *ScheduledRun) EstimatedDuration() time.Duration {
	return time.Duration(r.EstimatedMinutes()) * time.Minute
}

// StopsOfType returns the stops tagged with t, keeping their order
func (r *ScheduledRun) StopsOfType(t StopType) []Stop {
	var stops []Stop
	for _, stop := range r.Stops {
		if stop.StopType == t {
			stops = append(stops, stop)
		}
	}
	return stops
}

// Clone returns a copy that shares no stop storage with r
func (r ScheduledRun) Clone() ScheduledRun {
	r.Stops = CloneStops(r.Stops)
	return r
}

// CloneStops copies a stop slice, preserving nil
func CloneStops(stops []Stop) []Stop {
	if stops == nil {
		return nil
	}
	out := make([]Stop, len(stops))
	copy(out, stops)
	return out
}
