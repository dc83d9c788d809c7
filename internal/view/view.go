// Package view is the headless presentation layer: it keeps the markers and
// route overlays the simulator places and exposes them as GeoJSON.
package view

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/incident-simulator/model"
)

var (
	// ErrMarkerNotFound is returned when a marker has already been removed
	// or was never placed.
	ErrMarkerNotFound = errors.New("view: marker not found")
	// ErrOverlayNotFound is the overlay counterpart of ErrMarkerNotFound.
	ErrOverlayNotFound = errors.New("view: overlay not found")
)

type (
	MarkerID  string
	OverlayID string
)

// View is the set of presentation callbacks the simulator drives. Removal is
// idempotent: removing an unknown ID reports a not-found error and changes
// nothing.
type View interface {
	AddMarker(point model.GeoPoint, icon string) MarkerID
	MoveMarker(id MarkerID, point model.GeoPoint) error
	RemoveMarker(id MarkerID) error
	DrawRouteOverlay(points []model.GeoPoint) OverlayID
	RemoveOverlay(id OverlayID) error
}

// MetricsRecorder receives the marker and overlay counts after each change.
type MetricsRecorder interface {
	SetViewCounts(markers, overlays int)
}

// Marker is a point placed on the map.
type Marker struct {
	ID       MarkerID
	Icon     string
	Location model.GeoPoint
}

// Overlay is a polyline drawn on the map.
type Overlay struct {
	ID     OverlayID
	Points []model.GeoPoint
}

// MapView is an in-memory View safe for concurrent use.
type MapView struct {
	mu       sync.RWMutex
	seq      uint64
	markers  map[MarkerID]*entry[Marker]
	overlays map[OverlayID]*entry[Overlay]
	metrics  MetricsRecorder
}

// entry remembers insertion order so snapshots are stable.
type entry[T any] struct {
	seq uint64
	val T
}

// Option configures a MapView.
type Option func(*MapView)

// WithMetricsRecorder reports marker and overlay counts to m.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(v *MapView) {
		v.metrics = m
	}
}

// NewMapView returns an empty map view.
func NewMapView(opts ...Option) *MapView {
	v := &MapView{
		markers:  make(map[MarkerID]*entry[Marker]),
		overlays: make(map[OverlayID]*entry[Overlay]),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *MapView) AddMarker(point model.GeoPoint, icon string) MarkerID {
	id := MarkerID(uuid.NewString())

	v.mu.Lock()
	v.seq++
	v.markers[id] = &entry[Marker]{seq: v.seq, val: Marker{ID: id, Icon: icon, Location: point}}
	v.mu.Unlock()

	v.report()
	return id
}

func (v *MapView) MoveMarker(id MarkerID, point model.GeoPoint) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.markers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarkerNotFound, id)
	}
	e.val.Location = point
	return nil
}

func (v *MapView) RemoveMarker(id MarkerID) error {
	v.mu.Lock()
	_, ok := v.markers[id]
	delete(v.markers, id)
	v.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrMarkerNotFound, id)
	}
	v.report()
	return nil
}

func (v *MapView) DrawRouteOverlay(points []model.GeoPoint) OverlayID {
	id := OverlayID(uuid.NewString())
	cp := append([]model.GeoPoint(nil), points...)

	v.mu.Lock()
	v.seq++
	v.overlays[id] = &entry[Overlay]{seq: v.seq, val: Overlay{ID: id, Points: cp}}
	v.mu.Unlock()

	v.report()
	return id
}

func (v *MapView) RemoveOverlay(id OverlayID) error {
	v.mu.Lock()
	_, ok := v.overlays[id]
	delete(v.overlays, id)
	v.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrOverlayNotFound, id)
	}
	v.report()
	return nil
}

// Marker returns the marker with the given ID.
func (v *MapView) Marker(id MarkerID) (Marker, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.markers[id]
	if !ok {
		return Marker{}, false
	}
	return e.val, true
}

// Markers returns all markers in placement order.
func (v *MapView) Markers() []Marker {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return sortedValues(v.markers)
}

// Overlays returns all overlays in drawing order.
func (v *MapView) Overlays() []Overlay {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := sortedValues(v.overlays)
	for i := range out {
		out[i].Points = append([]model.GeoPoint(nil), out[i].Points...)
	}
	return out
}

// Counts returns the number of markers and overlays currently on the map.
func (v *MapView) Counts() (markers, overlays int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.markers), len(v.overlays)
}

// Snapshot renders the map as a GeoJSON feature collection: one Point feature
// per marker followed by one LineString feature per overlay.
func (v *MapView) Snapshot() *geojson.FeatureCollection {
	markers := v.Markers()
	overlays := v.Overlays()

	fc := geojson.NewFeatureCollection()
	for _, m := range markers {
		f := geojson.NewFeature(toOrb(m.Location))
		f.ID = string(m.ID)
		f.Properties["kind"] = "marker"
		f.Properties["icon"] = m.Icon
		fc.Append(f)
	}
	for _, o := range overlays {
		ls := make(orb.LineString, 0, len(o.Points))
		for _, p := range o.Points {
			ls = append(ls, toOrb(p))
		}
		f := geojson.NewFeature(ls)
		f.ID = string(o.ID)
		f.Properties["kind"] = "route"
		fc.Append(f)
	}
	return fc
}

func (v *MapView) report() {
	if v.metrics == nil {
		return
	}
	m, o := v.Counts()
	v.metrics.SetViewCounts(m, o)
}

func toOrb(p model.GeoPoint) orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

func sortedValues[K comparable, T any](m map[K]*entry[T]) []T {
	entries := make([]*entry[T], 0, len(m))
	for _, e := range m {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.val
	}
	return out
}
