package kb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/signalsfoundry/incident-simulator/model"
)

// ErrInvalidCatalog is returned when the catalog source cannot be decoded or
// contains an unusable record.
var ErrInvalidCatalog = errors.New("invalid facility catalog")

// internal JSON shapes; the catalog file groups records under a
// "features" object keyed by facility type.
type catalogJSON struct {
	Features map[string][]facilityJSON `json:"features"`
}

type facilityJSON struct {
	Name string   `json:"name"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
}

// LoadResult summarises a catalog load for logging.
type LoadResult struct {
	Catalog model.FacilityCatalog
	// SkippedTypes lists type keys that did not map onto a FacilityType.
	SkippedTypes []string
}

// LoadCatalog decodes a facility catalog from r.
//
// Unknown type keys are skipped and reported in LoadResult.SkippedTypes.
// A record with missing or out-of-range coordinates fails the whole load.
func LoadCatalog(r io.Reader) (*LoadResult, error) {
	var payload catalogJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrInvalidCatalog, err)
	}
	if payload.Features == nil {
		return nil, fmt.Errorf("%w: missing \"features\" object", ErrInvalidCatalog)
	}

	// Walk keys in sorted order so skipped-type reporting is deterministic.
	keys := make([]string, 0, len(payload.Features))
	for k := range payload.Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := &LoadResult{Catalog: make(model.FacilityCatalog)}
	for _, key := range keys {
		ft, err := model.ParseFacilityType(key)
		if err != nil {
			res.SkippedTypes = append(res.SkippedTypes, key)
			continue
		}
		for i, rec := range payload.Features[key] {
			if rec.Lat == nil || rec.Lon == nil {
				return nil, fmt.Errorf("%w: %s[%d] %q missing lat/lon", ErrInvalidCatalog, key, i, rec.Name)
			}
			loc := model.GeoPoint{Lat: *rec.Lat, Lon: *rec.Lon}
			if err := loc.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %s[%d] %q: %v", ErrInvalidCatalog, key, i, rec.Name, err)
			}
			res.Catalog[ft] = append(res.Catalog[ft], model.Facility{
				Name:     rec.Name,
				Type:     ft,
				Location: loc,
			})
		}
	}
	return res, nil
}

// LoadCatalogFile opens path and decodes it with LoadCatalog.
func LoadCatalogFile(path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open facility catalog %q: %w", path, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}
