package kb

import (
	"math"
	"sync"
	"testing"

	"github.com/signalsfoundry/incident-simulator/core"
	"github.com/signalsfoundry/incident-simulator/model"
)

func hospital(name string, lat, lon float64) model.Facility {
	return model.Facility{Name: name, Type: model.FacilityHospital, Location: model.GeoPoint{Lat: lat, Lon: lon}}
}

func TestNearestPicksCloserHospital(t *testing.T) {
	idx := NewFacilityIndex(model.FacilityCatalog{
		model.FacilityHospital: {
			hospital("Spitalul Judetean", 45.76, 21.24),
			hospital("Spitalul Municipal", 45.70, 21.20),
		},
	})
	incident := model.GeoPoint{Lat: 45.75, Lon: 21.23}

	got, ok := idx.Nearest(incident, model.FacilityHospital)
	if !ok {
		t.Fatalf("Nearest returned no facility")
	}
	if got.Name != "Spitalul Judetean" {
		t.Fatalf("Nearest = %q, want Spitalul Judetean", got.Name)
	}
	if got.Type != model.FacilityHospital {
		t.Fatalf("Nearest type = %v", got.Type)
	}
}

func TestNearestMatchesBruteForce(t *testing.T) {
	facilities := []model.Facility{
		{Name: "Sectia 1", Location: model.GeoPoint{Lat: 45.7489, Lon: 21.2087}},
		{Name: "Sectia 2", Location: model.GeoPoint{Lat: 45.7642, Lon: 21.2553}},
		{Name: "Sectia 3", Location: model.GeoPoint{Lat: 45.7321, Lon: 21.2401}},
	}
	idx := NewFacilityIndex(model.FacilityCatalog{model.FacilityPolice: facilities})

	queries := []model.GeoPoint{
		{Lat: 45.75, Lon: 21.21},
		{Lat: 45.77, Lon: 21.26},
		{Lat: 45.73, Lon: 21.245},
		core.TimisoaraCenter,
	}
	for _, q := range queries {
		want := ""
		best := math.Inf(1)
		for _, f := range facilities {
			if d := core.DistanceMeters(q, f.Location); d < best {
				best, want = d, f.Name
			}
		}
		got, ok := idx.Nearest(q, model.FacilityPolice)
		if !ok || got.Name != want {
			t.Fatalf("Nearest(%v) = %q (%v), want %q", q, got.Name, ok, want)
		}
	}
}

func TestNearestTieKeepsFirstEncountered(t *testing.T) {
	loc := model.GeoPoint{Lat: 45.75, Lon: 21.22}
	idx := NewFacilityIndex(model.FacilityCatalog{
		model.FacilityFirehouse: {
			{Name: "first", Location: loc},
			{Name: "second", Location: loc},
		},
	})
	got, ok := idx.Nearest(core.TimisoaraCenter, model.FacilityFirehouse)
	if !ok || got.Name != "first" {
		t.Fatalf("tie resolved to %q, want first", got.Name)
	}
}

func TestNearestEmptyTypeReturnsFalse(t *testing.T) {
	idx := NewFacilityIndex(model.FacilityCatalog{
		model.FacilityHospital: {hospital("h", 45.76, 21.24)},
		model.FacilityPolice:   {},
	})
	if _, ok := idx.Nearest(core.TimisoaraCenter, model.FacilityPolice); ok {
		t.Fatalf("expected no police facility")
	}
	if _, ok := idx.Nearest(core.TimisoaraCenter, model.FacilityFirehouse); ok {
		t.Fatalf("expected no firehouse facility")
	}

	var nilIdx *FacilityIndex
	if _, ok := nilIdx.Nearest(core.TimisoaraCenter, model.FacilityHospital); ok {
		t.Fatalf("nil index must return false")
	}
}

func TestIndexIsIsolatedFromCatalogMutation(t *testing.T) {
	catalog := model.FacilityCatalog{
		model.FacilityHospital: {hospital("a", 45.76, 21.24)},
	}
	idx := NewFacilityIndex(catalog)
	catalog[model.FacilityHospital][0].Name = "mutated"

	if got := idx.Facilities(model.FacilityHospital)[0].Name; got != "a" {
		t.Fatalf("index observed caller mutation: %q", got)
	}
	snapshot := idx.Facilities(model.FacilityHospital)
	snapshot[0].Name = "mutated"
	if got, _ := idx.Nearest(core.TimisoaraCenter, model.FacilityHospital); got.Name != "a" {
		t.Fatalf("index observed snapshot mutation: %q", got.Name)
	}
	if idx.Len() != 1 || idx.Count(model.FacilityHospital) != 1 || idx.Count(model.FacilityPolice) != 0 {
		t.Fatalf("unexpected counts: len=%d", idx.Len())
	}
}

func TestNearestConcurrentReaders(t *testing.T) {
	idx := NewFacilityIndex(model.FacilityCatalog{
		model.FacilityHospital: {
			hospital("near", 45.76, 21.24),
			hospital("far", 45.70, 21.20),
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				got, ok := idx.Nearest(model.GeoPoint{Lat: 45.75, Lon: 21.23}, model.FacilityHospital)
				if !ok || got.Name != "near" {
					t.Errorf("concurrent Nearest = %q", got.Name)
					return
				}
			}
		}()
	}
	wg.Wait()
}
