package session

import (
	"context"
	"time"
)

// Delayer holds back a user action before it reaches the engine, e.g. to let
// a confirmation toast render
type Delayer interface {
	Delay(ctx context.Context, d time.Duration) error
}

// SleepDelayer waits on a timer and gives up when ctx is done
type SleepDelayer struct{}

// Delay implements Delayer
func (SleepDelayer) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoDelay returns immediately
type NoDelay struct{}

// Delay implements Delayer
func (NoDelay) Delay(context.Context, time.Duration) error { return nil }
