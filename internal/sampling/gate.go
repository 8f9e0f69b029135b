package sampling

import "backend-exploretrack/internal/shared/geo"

const DefaultMinDistanceM = 10.0

// Gate decides whether a validated fix carries new information relative to
// the last recorded point.
type Gate struct {
	MinDistanceM float64
}

func NewGate(minDistanceM float64) Gate {
	if minDistanceM <= 0 {
		minDistanceM = DefaultMinDistanceM
	}
	return Gate{MinDistanceM: minDistanceM}
}

func (g Gate) ShouldRecord(candidate geo.Point, lastRecorded *geo.Point) bool {
	if lastRecorded == nil {
		return true
	}
	return geo.Distance(*lastRecorded, candidate) >= g.MinDistanceM
}
