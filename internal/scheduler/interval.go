package scheduler

import (
	"context"
	"time"
)

// FloorHour truncates t to the start of its UTC hour. It is idempotent.
func FloorHour(t time.Time) time.Time {
	return FloorInterval(t, time.Hour)
}

// CeilHour returns the start of the next UTC hour, or t itself when t is
// already on an hour boundary.
func CeilHour(t time.Time) time.Time {
	return CeilInterval(t, time.Hour)
}

func FloorInterval(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}

func CeilInterval(t time.Time, d time.Duration) time.Time {
	floor := FloorInterval(t, d)
	if floor.Equal(t.UTC()) || d <= 0 {
		return floor
	}
	return floor.Add(d)
}

// UntilNext returns the wait from now to the next boundary of d. A time that
// sits exactly on a boundary waits a full period.
func UntilNext(now time.Time, d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return FloorInterval(now, d).Add(d).Sub(now.UTC())
}

// SleepWithContext returns false when ctx ends first.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// SleepUnless sleeps for d in poll-sized steps and returns early once stop
// reports true or ctx ends. The result is true only if the full duration
// elapsed.
func SleepUnless(ctx context.Context, d, poll time.Duration, stop func() bool) bool {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	deadline := time.Now().Add(d)
	for {
		if stop != nil && stop() {
			return false
		}
		left := time.Until(deadline)
		if left <= 0 {
			return true
		}
		step := poll
		if left < step {
			step = left
		}
		if !SleepWithContext(ctx, step) {
			return false
		}
	}
}
