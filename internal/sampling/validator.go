package sampling

import (
	"errors"
	"fmt"
	"math"

	"backend-exploretrack/internal/shared/geo"
)

const (
	DefaultMaxAccuracyM = 100.0
	DefaultMaxSpeedKmh  = 20.0
)

var (
	ErrPoorAccuracy     = errors.New("fix accuracy too poor")
	ErrOutOfBounds      = errors.New("fix coordinates out of range")
	ErrImplausibleSpeed = errors.New("implied speed implausible")
)

// Validator rejects fixes that are untrustworthy, malformed, or imply a
// ground speed faster than walking pace allows.
type Validator struct {
	MaxAccuracyM float64
	MaxSpeedKmh  float64
}

func NewValidator(maxAccuracyM, maxSpeedKmh float64) *Validator {
	if maxAccuracyM <= 0 {
		maxAccuracyM = DefaultMaxAccuracyM
	}
	if maxSpeedKmh <= 0 {
		maxSpeedKmh = DefaultMaxSpeedKmh
	}
	return &Validator{MaxAccuracyM: maxAccuracyM, MaxSpeedKmh: maxSpeedKmh}
}

// Validate applies the accuracy, bounds and speed checks in that order. prev
// is the last fix this validator accepted, or nil.
func (v *Validator) Validate(fix geo.Fix, prev *geo.Point) error {
	if fix.AccuracyM > v.MaxAccuracyM || math.IsNaN(fix.AccuracyM) {
		return fmt.Errorf("%w: %.1fm > %.1fm", ErrPoorAccuracy, fix.AccuracyM, v.MaxAccuracyM)
	}
	if math.IsNaN(fix.Lat) || math.IsNaN(fix.Lng) || math.Abs(fix.Lat) > 90 || math.Abs(fix.Lng) > 180 {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrOutOfBounds, fix.Lat, fix.Lng)
	}
	if prev == nil {
		return nil
	}

	dist := geo.HaversineM(prev.Lat, prev.Lng, fix.Lat, fix.Lng)
	elapsed := fix.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 {
		if dist > 0 {
			return fmt.Errorf("%w: moved %.1fm in %.1fs", ErrImplausibleSpeed, dist, elapsed)
		}
		return nil
	}
	if kmh := dist / elapsed * 3.6; kmh > v.MaxSpeedKmh {
		return fmt.Errorf("%w: %.1fkm/h > %.1fkm/h", ErrImplausibleSpeed, kmh, v.MaxSpeedKmh)
	}
	return nil
}
