package kb

import (
	"github.com/signalsfoundry/incident-simulator/core"
	"github.com/signalsfoundry/incident-simulator/model"
)

// FacilityIndex is an in-memory, read-only catalog of emergency facilities.
//
// It is populated once by NewFacilityIndex and never mutated afterwards, so
// concurrent Nearest calls from many incident pipelines need no locking.
type FacilityIndex struct {
	byType map[model.FacilityType][]model.Facility
	total  int
}

// NewFacilityIndex copies catalog into a new index. Facilities keep their
// catalog order within each type; that order decides distance ties.
func NewFacilityIndex(catalog model.FacilityCatalog) *FacilityIndex {
	idx := &FacilityIndex{
		byType: make(map[model.FacilityType][]model.Facility, len(catalog)),
	}
	for ft, facilities := range catalog {
		if len(facilities) == 0 {
			continue
		}
		cp := make([]model.Facility, len(facilities))
		copy(cp, facilities)
		for i := range cp {
			cp[i].Type = ft
		}
		idx.byType[ft] = cp
		idx.total += len(cp)
	}
	return idx
}

// Nearest returns the facility of type ft closest to point. The second return
// value is false when the index holds no facility of that type.
func (idx *FacilityIndex) Nearest(point model.GeoPoint, ft model.FacilityType) (model.Facility, bool) {
	if idx == nil {
		return model.Facility{}, false
	}
	candidates := idx.byType[ft]
	if len(candidates) == 0 {
		return model.Facility{}, false
	}

	best := 0
	bestDist := core.DistanceMeters(point, candidates[0].Location)
	for i := 1; i < len(candidates); i++ {
		// Strict comparison keeps the first-encountered facility on ties.
		if d := core.DistanceMeters(point, candidates[i].Location); d < bestDist {
			best, bestDist = i, d
		}
	}
	return candidates[best], true
}

// Facilities returns a snapshot of all facilities of type ft in catalog order.
func (idx *FacilityIndex) Facilities(ft model.FacilityType) []model.Facility {
	if idx == nil {
		return nil
	}
	src := idx.byType[ft]
	res := make([]model.Facility, len(src))
	copy(res, src)
	return res
}

// Count returns the number of facilities of type ft.
func (idx *FacilityIndex) Count(ft model.FacilityType) int {
	if idx == nil {
		return 0
	}
	return len(idx.byType[ft])
}

// Len returns the total number of facilities across all types.
func (idx *FacilityIndex) Len() int {
	if idx == nil {
		return 0
	}
	return idx.total
}
