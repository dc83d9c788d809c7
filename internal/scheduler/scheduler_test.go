package scheduler

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a minimal test-only implementation of SimClock for scheduler tests.
type fakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *fakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestEventScheduler_SingleEvent(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var counter int
	t1 := start.Add(10 * time.Second)

	id := sched.Schedule(t1, func() {
		counter++
	})
	if id == "" {
		t.Fatalf("Schedule returned empty ID")
	}

	sched.RunDue()
	if counter != 0 {
		t.Fatalf("expected counter=0 before time advance, got %d", counter)
	}

	clock.AdvanceTo(t1)
	sched.RunDue()
	if counter != 1 {
		t.Fatalf("expected counter=1 after time advance, got %d", counter)
	}

	sched.RunDue()
	if counter != 1 {
		t.Fatalf("event ran twice, counter=%d", counter)
	}
}

func TestEventScheduler_MultipleEventsInOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var executionOrder []string
	t1 := start.Add(10 * time.Second)
	t2 := start.Add(20 * time.Second)
	t3 := start.Add(30 * time.Second)

	// Schedule events in reverse order to test ordering
	sched.Schedule(t3, func() { executionOrder = append(executionOrder, "e3") })
	sched.Schedule(t1, func() { executionOrder = append(executionOrder, "e1") })
	sched.Schedule(t2, func() { executionOrder = append(executionOrder, "e2") })

	clock.AdvanceTo(t2)
	sched.RunDue()
	if len(executionOrder) != 2 || executionOrder[0] != "e1" || executionOrder[1] != "e2" {
		t.Fatalf("expected execution order [e1 e2], got %v", executionOrder)
	}

	clock.AdvanceTo(t3)
	sched.RunDue()
	if len(executionOrder) != 3 || executionOrder[2] != "e3" {
		t.Fatalf("expected execution order [e1 e2 e3], got %v", executionOrder)
	}
}

func TestEventScheduler_EqualTimesRunFIFO(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var order []int
	at := start.Add(time.Second)
	for i := 0; i < 5; i++ {
		i := i
		sched.Schedule(at, func() { order = append(order, i) })
	}

	clock.AdvanceTo(at)
	sched.RunDue()
	for i, got := range order {
		if got != i {
			t.Fatalf("equal-time events ran out of order: %v", order)
		}
	}
}

func TestEventScheduler_ScheduleAfterAndCancel(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var ran []string
	keep := sched.ScheduleAfter(100*time.Millisecond, func() { ran = append(ran, "keep") })
	drop := sched.ScheduleAfter(100*time.Millisecond, func() { ran = append(ran, "drop") })
	if keep == drop {
		t.Fatalf("expected distinct IDs, got %q twice", keep)
	}
	if got := sched.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}

	sched.Cancel(drop)
	sched.Cancel(drop)
	sched.Cancel("unknown")
	if got := sched.Pending(); got != 1 {
		t.Fatalf("Pending() after cancel = %d, want 1", got)
	}

	clock.AdvanceTo(start.Add(100 * time.Millisecond))
	sched.RunDue()
	if len(ran) != 1 || ran[0] != "keep" {
		t.Fatalf("ran = %v, want [keep]", ran)
	}
	if got := sched.Pending(); got != 0 {
		t.Fatalf("Pending() after run = %d, want 0", got)
	}
}

func TestEventScheduler_CallbackMayCancelLaterEvent(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var ran []string
	var laterID string
	sched.Schedule(start.Add(time.Second), func() {
		ran = append(ran, "first")
		sched.Cancel(laterID)
	})
	laterID = sched.Schedule(start.Add(2*time.Second), func() { ran = append(ran, "later") })

	clock.AdvanceTo(start.Add(5 * time.Second))
	sched.RunDue()
	if len(ran) != 1 || ran[0] != "first" {
		t.Fatalf("ran = %v, want [first]", ran)
	}
}

func TestEventScheduler_ConcurrentScheduleWhileRunning(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	sched := NewEventScheduler(clock)

	var (
		mu    sync.Mutex
		count int
		wg    sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				sched.Schedule(start, func() {
					mu.Lock()
					count++
					mu.Unlock()
				})
			}
		}()
	}

	stop := make(chan struct{})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		for {
			select {
			case <-stop:
				return
			default:
				sched.RunDue()
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-loopDone
	sched.RunDue()

	mu.Lock()
	defer mu.Unlock()
	if count != 800 {
		t.Fatalf("executed %d events, want 800", count)
	}
}
