package geo

import (
	"math"
	"time"
)

// EarthRadiusM is the mean Earth radius used for all great-circle math.
const EarthRadiusM = 6371000.0

// Point is an accepted, immutable position sample.
type Point struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// Fix is a raw reading from a location source.
type Fix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	AccuracyM float64   `json:"accuracy_m"`
	Timestamp time.Time `json:"timestamp"`
}

// Point converts the fix to a point, stamping it with now when the source
// left the timestamp empty.
func (f Fix) Point(now time.Time) Point {
	ts := f.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return Point{Lat: f.Lat, Lng: f.Lng, Timestamp: ts}
}

// HaversineM returns the great-circle distance between two coordinates in meters.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// HaversineKm is HaversineM in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineM(lat1, lng1, lat2, lng2) / 1000
}

// Distance returns the distance between two points in meters.
func Distance(a, b Point) float64 {
	return HaversineM(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Offset moves a coordinate north and east by the given meters. It uses a
// local flat-earth approximation and is intended for short distances.
func Offset(lat, lng, northM, eastM float64) (float64, float64) {
	dLat := northM / EarthRadiusM
	dLng := eastM / (EarthRadiusM * math.Cos(toRad(lat)))
	return lat + dLat*180/math.Pi, lng + dLng*180/math.Pi
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
