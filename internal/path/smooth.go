// Package path turns a session's raw point list into something cheap to
// draw: a bounded, evenly thinned polyline expanded with a Catmull-Rom
// spline.
package path

import (
	"time"

	"backend-exploretrack/internal/shared/geo"
)

const (
	DefaultMaxPoints = 100
	DefaultSegments  = 5
)

// Decimate keeps at most roughly maxPoints points by fixed-stride thinning.
// The first and last points are always kept.
func Decimate(points []geo.Point, maxPoints int) []geo.Point {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	n := len(points)
	if n <= maxPoints {
		return append([]geo.Point(nil), points...)
	}

	stride := (n + maxPoints - 1) / maxPoints
	out := make([]geo.Point, 0, n/stride+2)
	for i := 0; i < n-1; i += stride {
		out = append(out, points[i])
	}
	return append(out, points[n-1])
}

// Smooth expands each segment into segments interpolated points using a
// uniform Catmull-Rom spline on lat/lng. Endpoints are padded by repetition
// and the output starts and ends on the input's exact endpoints.
func Smooth(points []geo.Point, segments int) []geo.Point {
	if segments <= 0 {
		segments = DefaultSegments
	}
	n := len(points)
	if n < 2 {
		return append([]geo.Point(nil), points...)
	}

	out := make([]geo.Point, 0, (n-1)*segments+1)
	for i := 0; i < n-1; i++ {
		p0 := points[max(i-1, 0)]
		p1 := points[i]
		p2 := points[i+1]
		p3 := points[min(i+2, n-1)]

		out = append(out, p1)
		for j := 1; j < segments; j++ {
			t := float64(j) / float64(segments)
			out = append(out, geo.Point{
				Lat:       catmullRom(p0.Lat, p1.Lat, p2.Lat, p3.Lat, t),
				Lng:       catmullRom(p0.Lng, p1.Lng, p2.Lng, p3.Lng, t),
				Timestamp: lerpTime(p1.Timestamp, p2.Timestamp, t),
			})
		}
	}
	return append(out, points[n-1])
}

// Render decimates then smooths with the default parameters.
func Render(points []geo.Point) []geo.Point {
	return Smooth(Decimate(points, DefaultMaxPoints), DefaultSegments)
}

func catmullRom(p0, p1, p2, p3, t float64) float64 {
	t2 := t * t
	t3 := t2 * t
	return 0.5 * (2*p1 +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

func lerpTime(a, b time.Time, t float64) time.Time {
	if a.IsZero() || b.IsZero() {
		return time.Time{}
	}
	return a.Add(time.Duration(float64(b.Sub(a)) * t))
}
