package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/signalsfoundry/incident-simulator/model"
)

func TestDistanceMetersZeroForSamePoint(t *testing.T) {
	for _, p := range []model.GeoPoint{
		{},
		TimisoaraCenter,
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: 89.9, Lon: -179.9},
	} {
		if d := DistanceMeters(p, p); d != 0 {
			t.Fatalf("DistanceMeters(%v, %v) = %v, want 0", p, p, d)
		}
	}
}

func TestDistanceMetersSymmetric(t *testing.T) {
	a := model.GeoPoint{Lat: 45.75, Lon: 21.23}
	b := model.GeoPoint{Lat: 44.4268, Lon: 26.1025}
	if ab, ba := DistanceMeters(a, b), DistanceMeters(b, a); ab != ba {
		t.Fatalf("distance not symmetric: %v vs %v", ab, ba)
	}
}

func TestDistanceMetersOneDegreeLatitude(t *testing.T) {
	got := DistanceMeters(model.GeoPoint{Lat: 0, Lon: 0}, model.GeoPoint{Lat: 1, Lon: 0})
	if math.Abs(got-111195) > 1 {
		t.Fatalf("1 degree latitude = %.2f m, want ~111195", got)
	}
}

func TestDistanceMetersCityScenario(t *testing.T) {
	incident := model.GeoPoint{Lat: 45.75, Lon: 21.23}
	near := DistanceMeters(incident, model.GeoPoint{Lat: 45.76, Lon: 21.24})
	far := DistanceMeters(incident, model.GeoPoint{Lat: 45.70, Lon: 21.20})

	if math.Abs(near-1360) > 50 {
		t.Fatalf("near distance = %.1f m", near)
	}
	if math.Abs(far-6020) > 100 {
		t.Fatalf("far distance = %.1f m", far)
	}
	if near >= far {
		t.Fatalf("expected near < far, got %.1f >= %.1f", near, far)
	}
}

func TestRandomPointWithinRadiusStaysInDisk(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const radius = 6000.0

	for i := 0; i < 2000; i++ {
		p := RandomPointWithinRadius(TimisoaraCenter, radius, rng)
		// Flat-earth offsets versus haversine differ by well under 1% at this scale.
		if d := DistanceMeters(TimisoaraCenter, p); d > radius*1.01 {
			t.Fatalf("sample %d at %.1f m exceeds radius %.0f", i, d, radius)
		}
	}
}

func TestRandomPointWithinRadiusUniformByArea(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const (
		radius  = 1000.0
		samples = 20000
	)

	inner := 0
	for i := 0; i < samples; i++ {
		p := RandomPointWithinRadius(TimisoaraCenter, radius, rng)
		if DistanceMeters(TimisoaraCenter, p) < radius/2 {
			inner++
		}
	}
	// Half the radius covers a quarter of the area.
	frac := float64(inner) / samples
	if math.Abs(frac-0.25) > 0.02 {
		t.Fatalf("inner fraction = %.3f, want ~0.25", frac)
	}
}

func TestRandomPointWithinRadiusZeroRadius(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if p := RandomPointWithinRadius(TimisoaraCenter, 0, rng); p != TimisoaraCenter {
		t.Fatalf("zero radius moved the point: %v", p)
	}
}

func TestBoundsClamp(t *testing.T) {
	b := TimisoaraBounds
	if !b.Contains(TimisoaraCenter) {
		t.Fatalf("centre should be inside bounds")
	}
	out := model.GeoPoint{Lat: 46.5, Lon: 20.0}
	got := b.Clamp(out)
	if got.Lat != b.Max.Lat || got.Lon != b.Min.Lon {
		t.Fatalf("Clamp(%v) = %v", out, got)
	}
	if got := b.Clamp(TimisoaraCenter); got != TimisoaraCenter {
		t.Fatalf("Clamp moved an interior point: %v", got)
	}
}

func TestBoundsContainsEdges(t *testing.T) {
	b := Bounds{
		Min: model.GeoPoint{Lat: 45.74, Lon: 21.22},
		Max: model.GeoPoint{Lat: 45.76, Lon: 21.24},
	}
	for _, p := range []model.GeoPoint{b.Min, b.Max, {Lat: 45.76, Lon: 21.23}} {
		if !b.Contains(p) {
			t.Fatalf("edge point %v reported outside", p)
		}
	}
	if b.Contains(model.GeoPoint{Lat: 45.7601, Lon: 21.23}) {
		t.Fatalf("point past the edge reported inside")
	}
}

func TestRandomPointWithinRadiusInBoundsRedraws(t *testing.T) {
	// A box much smaller than the disk: clamping would pile points onto its
	// edges, redrawing never lands on one.
	b := Bounds{
		Min: model.GeoPoint{Lat: 45.74, Lon: 21.22},
		Max: model.GeoPoint{Lat: 45.76, Lon: 21.24},
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		p, ok := RandomPointWithinRadiusInBounds(TimisoaraCenter, 6000, b, rng)
		if !ok {
			t.Fatalf("draw %d gave up", i)
		}
		if !b.Contains(p) {
			t.Fatalf("draw %d at %v outside bounds", i, p)
		}
		if p.Lat == b.Min.Lat || p.Lat == b.Max.Lat || p.Lon == b.Min.Lon || p.Lon == b.Max.Lon {
			t.Fatalf("draw %d at %v sits on the edge", i, p)
		}
		if d := DistanceMeters(TimisoaraCenter, p); d > 6000*1.01 {
			t.Fatalf("draw %d is %.0f m from center", i, d)
		}
	}
}

func TestRandomPointWithinRadiusInBoundsFallsBackToClamp(t *testing.T) {
	far := Bounds{
		Min: model.GeoPoint{Lat: 10, Lon: 10},
		Max: model.GeoPoint{Lat: 11, Lon: 11},
	}
	rng := rand.New(rand.NewSource(1))
	p, ok := RandomPointWithinRadiusInBounds(TimisoaraCenter, 100, far, rng)
	if ok {
		t.Fatalf("disjoint bounds must report ok=false")
	}
	if p != far.Max {
		t.Fatalf("fallback = %v, want clamped corner %v", p, far.Max)
	}
}

func TestRandomPointWithinRadiusInBoundsZeroBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	if _, ok := RandomPointWithinRadiusInBounds(TimisoaraCenter, 6000, Bounds{}, rng); !ok {
		t.Fatalf("zero bounds must accept the first draw")
	}
}
