package animation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/incident-simulator/internal/scheduler"
	"github.com/signalsfoundry/incident-simulator/model"
)

var (
	// ErrEmptyRoute is returned by Start when the route has no points.
	ErrEmptyRoute = errors.New("animation: route has no points")
	// ErrInvalidInterval is returned by Start for a non-positive step interval.
	ErrInvalidInterval = errors.New("animation: step interval must be positive")
)

// State is the lifecycle position of a Session.
type State int

const (
	Idle State = iota
	Playing
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Step is one position of the unit along its route.
type Step struct {
	Index int
	Point model.GeoPoint
}

// Controller plays routes on an EventScheduler, one point per tick.
//
// Start only schedules work and returns; the step callbacks run later from
// the scheduler's RunDue loop.
type Controller struct {
	sched scheduler.EventScheduler

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewController returns a Controller that schedules ticks on sched.
func NewController(sched scheduler.EventScheduler) *Controller {
	return &Controller{
		sched:    sched,
		sessions: make(map[string]*Session),
	}
}

// Session is one playback of one route. It is never shared between incidents.
type Session struct {
	id       string
	ctrl     *Controller
	route    model.Route
	interval time.Duration

	onStep     func(Step)
	onComplete func()

	mu        sync.Mutex
	state     State
	stepIndex int
	nextAt    time.Time
	eventID   string
}

// Start begins playing route. onStep receives every point in order, the
// first one interval after Start; onComplete runs exactly once right after
// the last step. Either callback may be nil.
func (c *Controller) Start(route model.Route, interval time.Duration, onStep func(Step), onComplete func()) (*Session, error) {
	if route.Empty() {
		return nil, ErrEmptyRoute
	}
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	points := make([]model.GeoPoint, len(route.Points))
	copy(points, route.Points)

	s := &Session{
		id:   uuid.NewString(),
		ctrl: c,
		route: model.Route{
			Points:              points,
			TotalDistanceMeters: route.TotalDistanceMeters,
		},
		interval:   interval,
		onStep:     onStep,
		onComplete: onComplete,
		state:      Playing,
	}

	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()

	s.mu.Lock()
	s.nextAt = c.sched.Now().Add(interval)
	s.eventID = c.sched.Schedule(s.nextAt, s.tick)
	s.mu.Unlock()

	return s, nil
}

// tick advances the session by one point. A tick that fires after the session
// has left Playing is a no-op.
func (s *Session) tick() {
	s.mu.Lock()
	if s.state != Playing || s.stepIndex >= len(s.route.Points) {
		s.mu.Unlock()
		return
	}

	step := Step{Index: s.stepIndex, Point: s.route.Points[s.stepIndex]}
	s.stepIndex++
	last := s.stepIndex == len(s.route.Points)
	if last {
		s.eventID = ""
	} else {
		s.nextAt = s.nextAt.Add(s.interval)
		s.eventID = s.ctrl.sched.Schedule(s.nextAt, s.tick)
	}
	onStep, onComplete := s.onStep, s.onComplete
	s.mu.Unlock()

	if onStep != nil {
		onStep(step)
	}
	if !last {
		return
	}

	// The session stays Playing through the last onStep so that a Cancel
	// issued from it still wins over completion.
	s.mu.Lock()
	if s.state != Playing {
		s.mu.Unlock()
		return
	}
	s.state = Completed
	s.mu.Unlock()

	s.ctrl.forget(s.id)
	if onComplete != nil {
		onComplete()
	}
}

// Cancel stops the session and withdraws its pending tick. Any tick that runs
// after Cancel returns is a no-op; when Cancel is called from the scheduler
// loop itself no further callback runs at all. It reports whether this call
// moved the session out of Playing; cancelling a finished session is a no-op.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state != Playing {
		s.mu.Unlock()
		return false
	}
	s.state = Cancelled
	id := s.eventID
	s.eventID = ""
	s.mu.Unlock()

	if id != "" {
		s.ctrl.sched.Cancel(id)
	}
	s.ctrl.forget(s.id)
	return true
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StepIndex returns how many points have been played so far.
func (s *Session) StepIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepIndex
}

// Len returns the number of points in the session's route.
func (s *Session) Len() int { return len(s.route.Points) }

func (c *Controller) forget(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// Active returns the number of sessions still playing.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// CancelAll cancels every playing session and returns how many were stopped.
func (c *Controller) CancelAll() int {
	c.mu.Lock()
	live := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		live = append(live, s)
	}
	c.mu.Unlock()

	n := 0
	for _, s := range live {
		if s.Cancel() {
			n++
		}
	}
	return n
}
