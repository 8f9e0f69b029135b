package exploration

import (
	"time"

	"backend-exploretrack/internal/shared/geo"
)

const (
	DefaultRadiusM        = 25.0
	DefaultDedupFactor    = 0.3
	DefaultCoverageGoalM2 = 1_000_000.0
	levelStepM2           = 10_000.0
)

// Area is a fixed-radius disk around a visited point.
type Area struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	RadiusM   float64   `json:"radius_m"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
}

func (a Area) Center() geo.Point {
	return geo.Point{Lat: a.Lat, Lng: a.Lng, Timestamp: a.Timestamp}
}

type Stats struct {
	TotalAreaM2 float64 `json:"total_area_m2"`
	PointCount  int     `json:"point_count"`
	Level       int     `json:"level"`
	Percentage  float64 `json:"percentage"`
}
