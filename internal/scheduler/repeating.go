package scheduler

import (
	"sync"
	"time"
)

// ScheduleRepeating runs f every interval on s until the returned stop
// function is called. Firings are anchored to the first due time, so a slow
// RunDue caller catches up instead of drifting. stop is idempotent and safe to
// call from inside f.
func ScheduleRepeating(s EventScheduler, interval time.Duration, f func()) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	var (
		mu      sync.Mutex
		stopped bool
		id      string
		next    = s.Now().Add(interval)
	)

	var fire func()
	fire = func() {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		next = next.Add(interval)
		id = s.Schedule(next, fire)
		mu.Unlock()

		f()
	}

	mu.Lock()
	id = s.Schedule(next, fire)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		stopped = true
		s.Cancel(id)
	}
}
