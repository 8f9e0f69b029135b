package exploration

import (
	"math"

	"backend-exploretrack/internal/shared/geo"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// SpatialIndex answers nearest-center queries for the dedup check.
type SpatialIndex interface {
	Insert(center geo.Point)
	// Nearest returns the haversine distance in meters to the closest
	// center, and false when the index is empty.
	Nearest(p geo.Point) (float64, bool)
	Len() int
	Reset()
}

// NewSpatialIndex returns the index named by kind ("linear" or "kdtree").
// Unknown kinds fall back to kdtree.
func NewSpatialIndex(kind string) SpatialIndex {
	if kind == "linear" {
		return &LinearIndex{}
	}
	return NewKDIndex()
}

type LinearIndex struct {
	centers []geo.Point
}

func (l *LinearIndex) Insert(center geo.Point) {
	l.centers = append(l.centers, center)
}

func (l *LinearIndex) Nearest(p geo.Point) (float64, bool) {
	if len(l.centers) == 0 {
		return 0, false
	}
	best := math.Inf(1)
	for _, c := range l.centers {
		if d := geo.Distance(c, p); d < best {
			best = d
		}
	}
	return best, true
}

func (l *LinearIndex) Len() int { return len(l.centers) }

func (l *LinearIndex) Reset() { l.centers = nil }

// KDIndex stores centers as Earth-centred Cartesian coordinates. Chord
// length grows monotonically with great-circle distance, so the tree's
// nearest neighbour is also the haversine nearest neighbour.
type KDIndex struct {
	tree *kdtree.Tree
}

func NewKDIndex() *KDIndex {
	return &KDIndex{tree: &kdtree.Tree{}}
}

func (k *KDIndex) Insert(center geo.Point) {
	k.tree.Insert(toECEF(center), false)
}

func (k *KDIndex) Nearest(p geo.Point) (float64, bool) {
	if k.tree.Len() == 0 {
		return 0, false
	}
	got, _ := k.tree.Nearest(toECEF(p))
	if got == nil {
		return 0, false
	}
	return geo.Distance(got.(ecefPoint).center, p), true
}

func (k *KDIndex) Len() int { return k.tree.Len() }

func (k *KDIndex) Reset() { k.tree = &kdtree.Tree{} }

type ecefPoint struct {
	v      [3]float64
	center geo.Point
}

func toECEF(p geo.Point) ecefPoint {
	lat := p.Lat * math.Pi / 180
	lng := p.Lng * math.Pi / 180
	return ecefPoint{
		v: [3]float64{
			geo.EarthRadiusM * math.Cos(lat) * math.Cos(lng),
			geo.EarthRadiusM * math.Cos(lat) * math.Sin(lng),
			geo.EarthRadiusM * math.Sin(lat),
		},
		center: p,
	}
}

func (e ecefPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return e.v[d] - c.(ecefPoint).v[d]
}

func (e ecefPoint) Dims() int { return 3 }

// Distance is the squared Euclidean distance, as kdtree expects.
func (e ecefPoint) Distance(c kdtree.Comparable) float64 {
	o := c.(ecefPoint)
	var sum float64
	for i := range e.v {
		d := e.v[i] - o.v[i]
		sum += d * d
	}
	return sum
}
