package scheduler

import (
	"testing"
	"time"
)

func TestScheduleRepeatingFiresEveryInterval(t *testing.T) {
	start := time.Unix(0, 0)
	sched := NewFakeEventScheduler(start)

	var fired []time.Time
	stop := ScheduleRepeating(sched, 6*time.Second, func() {
		fired = append(fired, sched.Now())
	})
	defer stop()

	sched.Advance(5 * time.Second)
	if len(fired) != 0 {
		t.Fatalf("fired early: %v", fired)
	}
	for i := 1; i <= 3; i++ {
		sched.AdvanceTo(start.Add(time.Duration(i*6) * time.Second))
		if len(fired) != i {
			t.Fatalf("after %d intervals fired %d times", i, len(fired))
		}
	}
	if got := sched.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want exactly the next firing", got)
	}
}

func TestScheduleRepeatingCatchesUp(t *testing.T) {
	start := time.Unix(0, 0)
	sched := NewFakeEventScheduler(start)

	count := 0
	stop := ScheduleRepeating(sched, time.Second, func() { count++ })
	defer stop()

	sched.Advance(5 * time.Second)
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
}

func TestScheduleRepeatingStop(t *testing.T) {
	start := time.Unix(0, 0)
	sched := NewFakeEventScheduler(start)

	count := 0
	var stop func()
	stop = ScheduleRepeating(sched, time.Second, func() {
		count++
		if count == 2 {
			stop()
		}
	})

	sched.Advance(10 * time.Second)
	if count != 2 {
		t.Fatalf("count = %d, want 2 after stop from callback", count)
	}
	if got := sched.Pending(); got != 0 {
		t.Fatalf("Pending() = %d after stop, want 0", got)
	}
	stop()
}

func TestScheduleRepeatingRejectsNonPositiveInterval(t *testing.T) {
	sched := NewFakeEventScheduler(time.Unix(0, 0))
	stop := ScheduleRepeating(sched, 0, func() { t.Fatalf("must not fire") })
	sched.Advance(time.Hour)
	stop()
	if sched.Pending() != 0 {
		t.Fatalf("nothing should be scheduled")
	}
}
