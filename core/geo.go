package core

import (
	"math"
	"math/rand"

	"github.com/signalsfoundry/incident-simulator/model"
)

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// metersPerDegree is the flat-earth scale used for local offsets. It is only
// accurate for city-scale radii (well under 10 km).
const metersPerDegree = 111111.0

// TimisoaraCenter is the default simulation centre.
var TimisoaraCenter = model.GeoPoint{Lat: 45.747231774279214, Lon: 21.231679569701775}

// TimisoaraBounds is the region the map view is constrained to.
var TimisoaraBounds = Bounds{
	Min: model.GeoPoint{Lat: 45.673645, Lon: 21.022479},
	Max: model.GeoPoint{Lat: 45.833905, Lon: 21.451205},
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b model.GeoPoint) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lon - a.Lon)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// RandomPointWithinRadius samples a point uniformly by area inside the disk of
// radiusMeters around center. Offsets use a local flat-earth approximation.
func RandomPointWithinRadius(center model.GeoPoint, radiusMeters float64, rng *rand.Rand) model.GeoPoint {
	r := radiusMeters * math.Sqrt(rng.Float64())
	theta := rng.Float64() * 2 * math.Pi

	x := r * math.Cos(theta)
	y := r * math.Sin(theta)

	return model.GeoPoint{
		Lat: center.Lat + y/metersPerDegree,
		Lon: center.Lon + x/(metersPerDegree*math.Cos(radians(center.Lat))),
	}
}

// Bounds is an axis-aligned lat/lon box.
type Bounds struct {
	Min model.GeoPoint
	Max model.GeoPoint
}

// IsZero reports whether b is the unset box.
func (b Bounds) IsZero() bool { return b == Bounds{} }

// Contains reports whether p lies inside b or on its edge.
func (b Bounds) Contains(p model.GeoPoint) bool {
	return b.Min.Lat <= p.Lat && p.Lat <= b.Max.Lat &&
		b.Min.Lon <= p.Lon && p.Lon <= b.Max.Lon
}

// Clamp moves p onto the nearest point of b when it falls outside.
func (b Bounds) Clamp(p model.GeoPoint) model.GeoPoint {
	return model.GeoPoint{
		Lat: math.Max(b.Min.Lat, math.Min(b.Max.Lat, p.Lat)),
		Lon: math.Max(b.Min.Lon, math.Min(b.Max.Lon, p.Lon)),
	}
}

// maxBoundedDraws caps the redraws RandomPointWithinRadiusInBounds makes
// before giving up on rejection sampling.
const maxBoundedDraws = 1024

// RandomPointWithinRadiusInBounds samples like RandomPointWithinRadius but
// redraws points that fall outside b, so the result stays uniform over the
// part of the disk inside b. A zero b accepts every point. When the disk and
// b barely overlap and every draw misses, the last draw is clamped into b and
// ok is false.
func RandomPointWithinRadiusInBounds(center model.GeoPoint, radiusMeters float64, b Bounds, rng *rand.Rand) (p model.GeoPoint, ok bool) {
	for i := 0; i < maxBoundedDraws; i++ {
		p = RandomPointWithinRadius(center, radiusMeters, rng)
		if b.IsZero() || b.Contains(p) {
			return p, true
		}
	}
	return b.Clamp(p), false
}
