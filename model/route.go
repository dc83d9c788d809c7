package model

// Route is an ordered driving path as returned by the routing provider.
type Route struct {
	Points              []GeoPoint `json:"points"`
	TotalDistanceMeters float64    `json:"total_distance_meters"`
}

// Empty reports whether the route has no points to travel.
func (r Route) Empty() bool { return len(r.Points) == 0 }
