package model

import (
	"fmt"
	"strings"
)

// FacilityType identifies which emergency service a facility provides.
type FacilityType int

const (
	FacilityHospital FacilityType = iota
	FacilityPolice
	FacilityFirehouse
)

// FacilityTypes returns every known facility type in declaration order.
func FacilityTypes() []FacilityType {
	return []FacilityType{FacilityHospital, FacilityPolice, FacilityFirehouse}
}

func (t FacilityType) String() string {
	switch t {
	case FacilityHospital:
		return "hospital"
	case FacilityPolice:
		return "police"
	case FacilityFirehouse:
		return "firehouse"
	default:
		return fmt.Sprintf("FacilityType(%d)", int(t))
	}
}

// ParseFacilityType maps a catalog key onto a FacilityType. The legacy
// "firemen" key used by existing marker files maps to FacilityFirehouse.
func ParseFacilityType(s string) (FacilityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hospital":
		return FacilityHospital, nil
	case "police":
		return FacilityPolice, nil
	case "firehouse", "firemen", "fire":
		return FacilityFirehouse, nil
	default:
		return 0, fmt.Errorf("unknown facility type %q", s)
	}
}

// MarshalText renders the type as its catalog name.
func (t FacilityType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts any name understood by ParseFacilityType.
func (t *FacilityType) UnmarshalText(b []byte) error {
	parsed, err := ParseFacilityType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Facility is a responding station loaded once at startup.
type Facility struct {
	Name     string       `json:"name"`
	Type     FacilityType `json:"type"`
	Location GeoPoint     `json:"location"`
}

// FacilityCatalog groups facilities by type, preserving catalog order within a type.
type FacilityCatalog map[FacilityType][]Facility
