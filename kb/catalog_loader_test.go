package kb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/incident-simulator/model"
)

const sampleCatalog = `{
  "features": {
    "hospital": [
      {"name": "Spitalul Judetean", "lat": 45.7381, "lon": 21.2426},
      {"name": "Spitalul Victor Babes", "lat": 45.7554, "lon": 21.2104}
    ],
    "police": [
      {"name": "Sectia 1", "lat": 45.7557, "lon": 21.2285}
    ],
    "firemen": [
      {"name": "ISU Banat", "lat": 45.7488, "lon": 21.2391}
    ],
    "ambulance": [
      {"name": "ignored", "lat": 45.0, "lon": 21.0}
    ]
  }
}`

func TestLoadCatalog(t *testing.T) {
	res, err := LoadCatalog(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	hospitals := res.Catalog[model.FacilityHospital]
	if len(hospitals) != 2 {
		t.Fatalf("hospitals = %d, want 2", len(hospitals))
	}
	if hospitals[0].Name != "Spitalul Judetean" || hospitals[1].Name != "Spitalul Victor Babes" {
		t.Fatalf("catalog order not preserved: %+v", hospitals)
	}
	if got := res.Catalog[model.FacilityFirehouse]; len(got) != 1 || got[0].Type != model.FacilityFirehouse {
		t.Fatalf("firemen key not mapped to firehouse: %+v", got)
	}
	if len(res.SkippedTypes) != 1 || res.SkippedTypes[0] != "ambulance" {
		t.Fatalf("SkippedTypes = %v, want [ambulance]", res.SkippedTypes)
	}

	idx := NewFacilityIndex(res.Catalog)
	if idx.Len() != 4 {
		t.Fatalf("index len = %d, want 4", idx.Len())
	}
}

func TestLoadCatalogRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":         `{`,
		"no features":      `{"markers": {}}`,
		"missing lon":      `{"features": {"police": [{"name": "x", "lat": 45.7}]}}`,
		"lat out of range": `{"features": {"police": [{"name": "x", "lat": 145.7, "lon": 21.2}]}}`,
	}
	for name, body := range cases {
		if _, err := LoadCatalog(strings.NewReader(body)); !errors.Is(err, ErrInvalidCatalog) {
			t.Fatalf("%s: err = %v, want ErrInvalidCatalog", name, err)
		}
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers_data.json")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := LoadCatalogFile(path)
	if err != nil {
		t.Fatalf("LoadCatalogFile: %v", err)
	}
	if len(res.Catalog[model.FacilityPolice]) != 1 {
		t.Fatalf("police = %d, want 1", len(res.Catalog[model.FacilityPolice]))
	}

	if _, err := LoadCatalogFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
