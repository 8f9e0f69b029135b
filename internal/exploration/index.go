// Package exploration maintains the set of explored circles for a user and
// the coverage statistics derived from it.
package exploration

import (
	"math"
	"sync"

	"backend-exploretrack/internal/shared/geo"
)

type Options struct {
	RadiusM        float64
	DedupFactor    float64
	CoverageGoalM2 float64
	Spatial        SpatialIndex
}

// Index is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	opts    Options
	areas   []Area
	spatial SpatialIndex
	stats   Stats
}

func NewIndex(opts Options) *Index {
	if opts.RadiusM <= 0 {
		opts.RadiusM = DefaultRadiusM
	}
	if opts.DedupFactor <= 0 {
		opts.DedupFactor = DefaultDedupFactor
	}
	if opts.CoverageGoalM2 <= 0 {
		opts.CoverageGoalM2 = DefaultCoverageGoalM2
	}
	if opts.Spatial == nil {
		opts.Spatial = NewKDIndex()
	}
	ix := &Index{opts: opts, spatial: opts.Spatial}
	ix.stats = ComputeStats(nil, opts.CoverageGoalM2)
	return ix
}

// DedupThresholdM is the minimum spacing between two area centers.
func (ix *Index) DedupThresholdM() float64 {
	return ix.opts.DedupFactor * ix.opts.RadiusM
}

// AddPoint inserts a new area centred on p unless p lies within the dedup
// threshold of an existing center. It reports whether the set changed.
func (ix *Index) AddPoint(p geo.Point, userID string) bool {
	_, ok := ix.Insert(p, userID)
	return ok
}

// Insert is AddPoint that also returns the area it created.
func (ix *Index) Insert(p geo.Point, userID string) (Area, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	a := ix.areaAt(p, userID)
	if !ix.insertLocked(a) {
		return Area{}, false
	}
	ix.stats = ComputeStats(ix.areas, ix.opts.CoverageGoalM2)
	return a, true
}

// Rebuild discards the current set and replays points in order.
func (ix *Index) Rebuild(points []geo.Point, userID string) []Area {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.areas = nil
	ix.spatial.Reset()
	for _, p := range points {
		ix.insertLocked(ix.areaAt(p, userID))
	}
	ix.stats = ComputeStats(ix.areas, ix.opts.CoverageGoalM2)
	return append([]Area(nil), ix.areas...)
}

// Merge adds stored areas under the same dedup rule, keeping each area's
// own radius and timestamp. It returns how many were added.
func (ix *Index) Merge(areas []Area) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	added := 0
	for _, a := range areas {
		if ix.insertLocked(a) {
			added++
		}
	}
	ix.stats = ComputeStats(ix.areas, ix.opts.CoverageGoalM2)
	return added
}

func (ix *Index) Areas() []Area {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]Area(nil), ix.areas...)
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.stats
}

func (ix *Index) areaAt(p geo.Point, userID string) Area {
	return Area{
		Lat:       p.Lat,
		Lng:       p.Lng,
		RadiusM:   ix.opts.RadiusM,
		Timestamp: p.Timestamp,
		UserID:    userID,
	}
}

func (ix *Index) insertLocked(a Area) bool {
	center := a.Center()
	if d, ok := ix.spatial.Nearest(center); ok && d < ix.DedupThresholdM() {
		return false
	}
	ix.areas = append(ix.areas, a)
	ix.spatial.Insert(center)
	return true
}

// ComputeStats sums circle areas without accounting for overlap.
func ComputeStats(areas []Area, coverageGoalM2 float64) Stats {
	var total float64
	for _, a := range areas {
		total += math.Pi * a.RadiusM * a.RadiusM
	}
	pct := 0.0
	if coverageGoalM2 > 0 {
		pct = math.Min(100, total/coverageGoalM2*100)
	}
	return Stats{
		TotalAreaM2: total,
		PointCount:  len(areas),
		Level:       int(math.Floor(total/levelStepM2)) + 1,
		Percentage:  pct,
	}
}
