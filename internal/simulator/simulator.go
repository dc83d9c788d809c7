// Package simulator runs the incident pipeline: spawn an incident, resolve
// the nearest facility, fetch a route and animate a unit along it.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/incident-simulator/core"
	"github.com/signalsfoundry/incident-simulator/internal/animation"
	"github.com/signalsfoundry/incident-simulator/internal/logging"
	"github.com/signalsfoundry/incident-simulator/internal/routing"
	"github.com/signalsfoundry/incident-simulator/internal/scheduler"
	"github.com/signalsfoundry/incident-simulator/internal/view"
	"github.com/signalsfoundry/incident-simulator/model"
)

const tracerName = "github.com/signalsfoundry/incident-simulator/internal/simulator"

// ErrIncidentNotFound is returned by Abort for IDs that are not live.
var ErrIncidentNotFound = errors.New("simulator: incident not found")

// FacilityIndex resolves the closest facility of a type.
type FacilityIndex interface {
	Nearest(point model.GeoPoint, ft model.FacilityType) (model.Facility, bool)
}

// RouteFetcher obtains a driving route between two points.
type RouteFetcher interface {
	FetchRoute(ctx context.Context, from, to model.GeoPoint) (model.Route, error)
}

// MetricsRecorder receives incident lifecycle events.
type MetricsRecorder interface {
	IncIncidentSpawned(facilityType string)
	IncIncidentCompleted(facilityType string)
	IncIncidentAborted(reason string)
	SetActiveAnimations(n int)
}

// Config holds the spawn area and animation pace.
type Config struct {
	Center       model.GeoPoint
	RadiusMeters float64
	// Bounds, when non-zero, restricts spawned locations; samples outside it
	// are redrawn.
	Bounds       core.Bounds
	StepInterval time.Duration
	// History is how many finished incidents Recent keeps.
	History int
	Seed    int64
}

// DefaultConfig spawns within 6 km of central Timișoara and moves units one
// route point every 100ms.
func DefaultConfig() Config {
	return Config{
		Center:       core.TimisoaraCenter,
		RadiusMeters: 6000,
		Bounds:       core.TimisoaraBounds,
		StepInterval: 100 * time.Millisecond,
		History:      64,
	}
}

func (c Config) validate() error {
	if c.RadiusMeters < 0 {
		return fmt.Errorf("simulator: negative radius %v", c.RadiusMeters)
	}
	if c.StepInterval <= 0 {
		return fmt.Errorf("simulator: step interval must be positive, got %v", c.StepInterval)
	}
	if err := c.Center.Validate(); err != nil {
		return fmt.Errorf("simulator: center: %w", err)
	}
	return nil
}

// Option configures a Simulator.
type Option func(*Simulator)

func WithLogger(l logging.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Simulator) {
		s.metrics = m
	}
}

// WithRand overrides the location and type generator. Mostly useful in tests.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// Simulator owns every live incident. All methods are safe for concurrent
// use; view callbacks for one incident are serialised by that incident's
// lock and never happen once the incident is terminal.
type Simulator struct {
	cfgMu      sync.RWMutex
	cfg        Config
	facilities FacilityIndex
	routes     RouteFetcher
	view       view.View
	anim       *animation.Controller
	sched      scheduler.EventScheduler

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	live   map[string]*run
	recent []model.Incident
	closed bool

	wg sync.WaitGroup
}

// run is the mutable state of one incident. Every field is guarded by mu.
type run struct {
	mu  sync.Mutex
	inc model.Incident

	ctx    context.Context
	cancel context.CancelFunc

	incidentMarker view.MarkerID
	unitMarker     view.MarkerID
	overlay        view.OverlayID
	session        *animation.Session
}

// New wires a simulator. The animation controller must schedule on sched.
func New(cfg Config, facilities FacilityIndex, routes RouteFetcher, v view.View, anim *animation.Controller, sched scheduler.EventScheduler, opts ...Option) (*Simulator, error) {
	switch {
	case facilities == nil:
		return nil, errors.New("simulator: facility index is required")
	case routes == nil:
		return nil, errors.New("simulator: route fetcher is required")
	case v == nil:
		return nil, errors.New("simulator: view is required")
	case anim == nil:
		return nil, errors.New("simulator: animation controller is required")
	case sched == nil:
		return nil, errors.New("simulator: scheduler is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.History < 0 {
		cfg.History = 0
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Simulator{
		cfg:        cfg,
		facilities: facilities,
		routes:     routes,
		view:       v,
		anim:       anim,
		sched:      sched,
		log:        logging.Noop(),
		tracer:     otel.Tracer(tracerName),
		rng:        rand.New(rand.NewSource(seed)),
		live:       make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Spawn creates an incident of type ft, or of a uniformly chosen type when ft
// is nil, places its marker and starts resolving it in the background. It
// returns the new incident as it was at creation.
//
// After Close, Spawn touches nothing and returns an aborted incident.
func (s *Simulator) Spawn(ctx context.Context, ft *model.FacilityType) model.Incident {
	if ctx == nil {
		ctx = context.Background()
	}
	facilityType, location := s.draw(ft)
	now := s.sched.Now()
	inc := model.Incident{
		ID:           uuid.NewString(),
		Location:     location,
		FacilityType: facilityType,
		Status:       model.IncidentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	runCtx, cancel := context.WithCancel(logging.ContextWithIncidentID(context.WithoutCancel(ctx), inc.ID))
	r := &run{inc: inc, ctx: runCtx, cancel: cancel}

	// The marker is placed under the run lock so Abort cannot race it.
	r.mu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		r.mu.Unlock()
		cancel()
		inc.Status = model.IncidentAborted
		inc.AbortReason = model.AbortCancelled
		return inc
	}
	s.live[inc.ID] = r
	s.wg.Add(1)
	s.mu.Unlock()

	r.incidentMarker = s.view.AddMarker(location, victimIcon(facilityType))
	snapshot := r.inc
	r.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncIncidentSpawned(facilityType.String())
	}
	s.log.Info(runCtx, "incident spawned",
		logging.String("facility_type", facilityType.String()),
		logging.Float64("lat", location.Lat),
		logging.Float64("lon", location.Lon),
	)

	go s.resolve(r)
	return snapshot
}

// draw picks the facility type and location for a new incident.
func (s *Simulator) draw(ft *model.FacilityType) (model.FacilityType, model.GeoPoint) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	var facilityType model.FacilityType
	if ft != nil {
		facilityType = *ft
	} else {
		types := model.FacilityTypes()
		facilityType = types[s.rng.Intn(len(types))]
	}

	cfg := s.config()
	p, ok := core.RandomPointWithinRadiusInBounds(cfg.Center, cfg.RadiusMeters, cfg.Bounds, s.rng)
	if !ok {
		s.log.Warn(context.Background(), "spawn area barely overlaps bounds; clamping incident location",
			logging.Float64("radius_m", cfg.RadiusMeters),
		)
	}
	return facilityType, p
}

// resolve is the per-incident worker. It owns the only blocking call of the
// pipeline and hands the route over to the scheduler loop.
func (s *Simulator) resolve(r *run) {
	defer s.wg.Done()

	r.mu.Lock()
	ctx, inc := r.ctx, r.inc
	r.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "incident.resolve", trace.WithAttributes(
		attribute.String("incident.id", inc.ID),
		attribute.String("incident.facility_type", inc.FacilityType.String()),
	))
	defer span.End()

	facility, ok := s.facilities.Nearest(inc.Location, inc.FacilityType)
	if !ok {
		span.SetStatus(codes.Error, "no facility")
		s.log.Warn(ctx, "no facility of requested type", logging.String("facility_type", inc.FacilityType.String()))
		s.abort(ctx, r, model.AbortNoFacility)
		return
	}

	if !s.update(r, func(inc *model.Incident) {
		f := facility
		inc.ResolvedFacility = &f
		inc.Status = model.IncidentRouted
	}) {
		return
	}
	span.SetAttributes(attribute.String("facility.name", facility.Name))

	route, err := s.routes.FetchRoute(ctx, facility.Location, inc.Location)
	if err == nil && route.Empty() {
		err = routing.ErrEmptyRoute
	}
	if err != nil {
		reason := model.AbortRouteUnavailable
		if errors.Is(err, routing.ErrEmptyRoute) {
			reason = model.AbortEmptyRoute
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(reason))
		s.log.Warn(ctx, "route unavailable",
			logging.String("facility", facility.Name),
			logging.Err(err),
		)
		s.abort(ctx, r, reason)
		return
	}

	span.SetAttributes(
		attribute.Int("route.points", len(route.Points)),
		attribute.Float64("route.distance_m", route.TotalDistanceMeters),
	)
	s.sched.ScheduleAfter(0, func() { s.animate(ctx, r, route) })
}

// animate runs on the scheduler loop and starts the unit on its way.
func (s *Simulator) animate(ctx context.Context, r *run, route model.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inc.Status != model.IncidentRouted {
		return
	}

	r.overlay = s.view.DrawRouteOverlay(route.Points)
	r.unitMarker = s.view.AddMarker(route.Points[0], unitIcon(r.inc.FacilityType))

	var sess *animation.Session
	sess, err := s.anim.Start(route, s.config().StepInterval,
		func(st animation.Step) { s.step(ctx, r, sess, st) },
		func() { s.complete(ctx, r, sess) },
	)
	if err != nil {
		s.log.Error(ctx, "animation failed to start", logging.Err(err))
		s.finishLocked(ctx, r, model.IncidentAborted, model.AbortAnimationFailed)
		return
	}

	r.session = sess
	rt := route
	r.inc.Route = &rt
	r.inc.Status = model.IncidentAnimating
	r.inc.UpdatedAt = s.sched.Now()
	s.reportAnimations()

	s.log.Debug(ctx, "animation started",
		logging.Int("points", len(route.Points)),
		logging.Float64("distance_m", route.TotalDistanceMeters),
	)
}

func (s *Simulator) step(ctx context.Context, r *run, sess *animation.Session, st animation.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inc.Status != model.IncidentAnimating || r.session != sess {
		return
	}
	if err := s.view.MoveMarker(r.unitMarker, st.Point); err != nil {
		// The unit was taken off the map by someone else.
		s.log.Info(ctx, "unit marker removed externally; cancelling", logging.Err(err))
		s.finishLocked(ctx, r, model.IncidentAborted, model.AbortCancelled)
	}
}

func (s *Simulator) complete(ctx context.Context, r *run, sess *animation.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inc.Status != model.IncidentAnimating || r.session != sess {
		return
	}
	s.finishLocked(ctx, r, model.IncidentCompleted, model.AbortNone)
	s.log.Info(ctx, "unit arrived")
}

// Abort cancels a live incident as if its marker had been removed from the
// map. Aborting an incident that is already finishing is a no-op.
func (s *Simulator) Abort(id string) error {
	s.mu.Lock()
	r, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inc.Status.Terminal() {
		return nil
	}
	s.finishLocked(r.ctx, r, model.IncidentAborted, model.AbortCancelled)
	return nil
}

// Close tears the simulation down: every live incident is aborted and
// cleaned up, in-flight route requests are cancelled and their workers
// awaited. No view callback happens after Close returns. Close is idempotent.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.closed = true
	runs := make([]*run, 0, len(s.live))
	for _, r := range s.live {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		r.mu.Lock()
		if !r.inc.Status.Terminal() {
			s.finishLocked(r.ctx, r, model.IncidentAborted, model.AbortCancelled)
		}
		r.mu.Unlock()
	}
	s.anim.CancelAll()
	s.wg.Wait()
	s.reportAnimations()
}

// Reconfigure swaps the spawn area and animation pace. Incidents spawned
// afterwards use the new area; units already moving keep their pace. History
// and Seed are fixed at construction and ignored here.
func (s *Simulator) Reconfigure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	s.cfgMu.Lock()
	s.cfg.Center = cfg.Center
	s.cfg.RadiusMeters = cfg.RadiusMeters
	s.cfg.Bounds = cfg.Bounds
	s.cfg.StepInterval = cfg.StepInterval
	s.cfgMu.Unlock()
	return nil
}

func (s *Simulator) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Wait blocks until every route worker has returned.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

// StartTrigger spawns one incident of a random type every period on the
// scheduler loop until stop is called.
func (s *Simulator) StartTrigger(period time.Duration) (stop func()) {
	return scheduler.ScheduleRepeating(s.sched, period, func() {
		s.Spawn(context.Background(), nil)
	})
}

// Incidents returns the live incidents ordered by creation time.
func (s *Simulator) Incidents() []model.Incident {
	s.mu.Lock()
	runs := make([]*run, 0, len(s.live))
	for _, r := range s.live {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	out := make([]model.Incident, 0, len(runs))
	for _, r := range runs {
		r.mu.Lock()
		out = append(out, r.inc)
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Recent returns finished incidents, oldest first.
func (s *Simulator) Recent() []model.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Incident(nil), s.recent...)
}

// Lookup finds an incident among the live and recently finished ones.
func (s *Simulator) Lookup(id string) (model.Incident, bool) {
	s.mu.Lock()
	r, ok := s.live[id]
	if !ok {
		defer s.mu.Unlock()
		for i := len(s.recent) - 1; i >= 0; i-- {
			if s.recent[i].ID == id {
				return s.recent[i], true
			}
		}
		return model.Incident{}, false
	}
	s.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inc, true
}

// update applies fn to a non-terminal incident and reports whether it did.
func (s *Simulator) update(r *run, fn func(*model.Incident)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inc.Status.Terminal() {
		return false
	}
	fn(&r.inc)
	r.inc.UpdatedAt = s.sched.Now()
	return true
}

func (s *Simulator) abort(ctx context.Context, r *run, reason model.AbortReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inc.Status.Terminal() {
		return
	}
	s.finishLocked(ctx, r, model.IncidentAborted, reason)
}

// finishLocked moves r to a terminal status and removes everything it put on
// the map. r.mu must be held and r must not be terminal yet.
func (s *Simulator) finishLocked(ctx context.Context, r *run, status model.IncidentStatus, reason model.AbortReason) {
	r.inc.Status = status
	r.inc.AbortReason = reason
	r.inc.UpdatedAt = s.sched.Now()

	if r.session != nil {
		r.session.Cancel()
	}
	r.cancel()

	if r.incidentMarker != "" {
		s.ignoreMissing(ctx, "incident marker", s.view.RemoveMarker(r.incidentMarker))
		r.incidentMarker = ""
	}
	if r.unitMarker != "" {
		s.ignoreMissing(ctx, "unit marker", s.view.RemoveMarker(r.unitMarker))
		r.unitMarker = ""
	}
	if r.overlay != "" {
		s.ignoreMissing(ctx, "route overlay", s.view.RemoveOverlay(r.overlay))
		r.overlay = ""
	}

	s.mu.Lock()
	delete(s.live, r.inc.ID)
	if s.cfg.History > 0 {
		s.recent = append(s.recent, r.inc)
		if over := len(s.recent) - s.cfg.History; over > 0 {
			s.recent = append(s.recent[:0:0], s.recent[over:]...)
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		if status == model.IncidentCompleted {
			s.metrics.IncIncidentCompleted(r.inc.FacilityType.String())
		} else {
			s.metrics.IncIncidentAborted(string(reason))
		}
	}
	if r.session != nil {
		s.reportAnimations()
	}
	if status == model.IncidentAborted {
		s.log.Info(ctx, "incident aborted", logging.String("reason", string(reason)))
	}
}

func (s *Simulator) ignoreMissing(ctx context.Context, what string, err error) {
	if err != nil {
		s.log.Debug(ctx, "cleanup skipped", logging.String("item", what), logging.Err(err))
	}
}

func (s *Simulator) reportAnimations() {
	if s.metrics != nil {
		s.metrics.SetActiveAnimations(s.anim.Active())
	}
}

func victimIcon(ft model.FacilityType) string {
	return ft.String() + "_victim"
}

// unitIcon tells a responding unit apart from the static facility markers,
// which use the bare type name.
func unitIcon(ft model.FacilityType) string {
	return ft.String() + "_unit"
}
