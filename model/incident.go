package model

import "time"

// IncidentStatus tracks an incident through the response pipeline.
type IncidentStatus int

const (
	IncidentPending IncidentStatus = iota
	IncidentRouted
	IncidentAnimating
	IncidentCompleted
	IncidentAborted
)

func (s IncidentStatus) String() string {
	switch s {
	case IncidentPending:
		return "pending"
	case IncidentRouted:
		return "routed"
	case IncidentAnimating:
		return "animating"
	case IncidentCompleted:
		return "completed"
	case IncidentAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentCompleted || s == IncidentAborted
}

// MarshalText renders the status as its lower-case name.
func (s IncidentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AbortReason explains why an incident ended in IncidentAborted.
type AbortReason string

const (
	AbortNone             AbortReason = ""
	AbortNoFacility       AbortReason = "no_facility"
	AbortRouteUnavailable AbortReason = "route_unavailable"
	AbortEmptyRoute       AbortReason = "empty_route"
	AbortCancelled        AbortReason = "cancelled"
	AbortAnimationFailed  AbortReason = "animation_failed"
)

// Incident is a single simulated emergency and its response state.
//
// ResolvedFacility and Route are nil until the matching pipeline stage
// succeeds.
type Incident struct {
	ID               string         `json:"id"`
	Location         GeoPoint       `json:"location"`
	FacilityType     FacilityType   `json:"facility_type"`
	ResolvedFacility *Facility      `json:"resolved_facility,omitempty"`
	Route            *Route         `json:"route,omitempty"`
	Status           IncidentStatus `json:"status"`
	AbortReason      AbortReason    `json:"abort_reason,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
