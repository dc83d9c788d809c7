package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/incident-simulator/timectrl"
)

// EventScheduler schedules callbacks to run at specific simulation times
// based on a SimClock implementation. It is the cooperative loop the map view
// and the animation controller schedule their work on.
//
// The process wiring will:
// - Advance simulation time using the time controller.
// - Call RunDue() from a time controller listener after each advance.
//
// Callers on any goroutine may Schedule or Cancel; callbacks only ever run
// from RunDue, so they never run concurrently with each other.
type EventScheduler interface {
	// Schedule registers a callback f to run at simulation time 'at'.
	// It returns an opaque event ID that can be used to cancel the event.
	Schedule(at time.Time, f func()) (id string)

	// ScheduleAfter registers f to run delay after the current time.
	ScheduleAfter(delay time.Duration, f func()) (id string)

	// Cancel attempts to cancel a previously scheduled event.
	// It is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time, usually delegated to the underlying SimClock.
	Now() time.Time

	// RunDue executes all events whose scheduled time is <= Now().
	// It should be safe to call multiple times; already-run events must not run again.
	RunDue()

	// Pending returns the number of scheduled, not yet run, not cancelled events.
	Pending() int
}

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// eventQueue is the time-ordered event store shared by the real and fake
// schedulers. Callers must hold the owning scheduler's lock.
type eventQueue struct {
	prefix  string
	counter uint64
	events  []*scheduledEvent // ordered by 'when' (earliest first)
	index   map[string]*scheduledEvent
}

func newEventQueue(prefix string) eventQueue {
	return eventQueue{prefix: prefix, index: make(map[string]*scheduledEvent)}
}

func (q *eventQueue) add(at time.Time, f func()) string {
	q.counter++
	ev := &scheduledEvent{
		id:   fmt.Sprintf("%s-%d", q.prefix, q.counter),
		when: at,
		f:    f,
	}

	// Insert after any events with the same time so equal times run FIFO.
	idx := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].when.After(at)
	})
	q.events = append(q.events, nil)
	copy(q.events[idx+1:], q.events[idx:])
	q.events[idx] = ev

	q.index[ev.id] = ev
	return ev.id
}

func (q *eventQueue) cancel(id string) {
	ev, ok := q.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(q.index, id)
	// Actual removal from events is lazy; pop skips cancelled events.
}

// pop removes and returns the earliest non-cancelled event due at now.
func (q *eventQueue) pop(now time.Time) *scheduledEvent {
	for len(q.events) > 0 {
		ev := q.events[0]
		if ev.cancelled {
			q.events = q.events[1:]
			continue
		}
		if ev.when.After(now) {
			// Events are ordered by time, so all later ones are in the future too.
			return nil
		}
		q.events = q.events[1:]
		delete(q.index, ev.id)
		return ev
	}
	return nil
}

func (q *eventQueue) pending() int { return len(q.index) }

// eventScheduler is the production EventScheduler backed by a SimClock.
type eventScheduler struct {
	clock timectrl.SimClock

	mu    sync.Mutex
	queue eventQueue
}

// NewEventScheduler creates a new event scheduler backed by the given SimClock.
// Production wiring passes the TimeController; unit tests usually use
// FakeEventScheduler instead.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		queue: newEventQueue("ev"),
	}
}

// Schedule registers a callback to run at the specified simulation time.
func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.add(at, f)
}

// ScheduleAfter registers a callback to run delay after Now().
func (s *eventScheduler) ScheduleAfter(delay time.Duration, f func()) (id string) {
	return s.Schedule(s.clock.Now().Add(delay), f)
}

// Cancel attempts to cancel a previously scheduled event.
func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.cancel(id)
}

// Now returns the current simulation time from the underlying clock.
func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

// Pending returns the number of live scheduled events.
func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.pending()
}

// RunDue executes all events whose scheduled time is <= Now().
func (s *eventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.queue.pop(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return
		}

		// Execute callback OUTSIDE the lock so callbacks may schedule or cancel.
		if ev.f != nil {
			ev.f()
		}
	}
}
