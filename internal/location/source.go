// Package location defines the location-source port the tracking engine
// consumes and a push-driven implementation fed by the HTTP shell.
package location

import (
	"context"
	"errors"
	"time"

	"backend-exploretrack/internal/shared/geo"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

type Options struct {
	HighAccuracy bool          `json:"high_accuracy"`
	MaxCachedAge time.Duration `json:"max_cached_age"`
	Timeout      time.Duration `json:"timeout"`
}

// BatterySaving is used for the continuous watch.
var BatterySaving = Options{
	HighAccuracy: false,
	MaxCachedAge: 5 * time.Minute,
	Timeout:      10 * time.Second,
}

// Precise is used for one-shot position queries.
var Precise = Options{
	HighAccuracy: true,
	MaxCachedAge: 0,
	Timeout:      10 * time.Second,
}

// Source emits position fixes. Watch must deliver asynchronously and must
// not call onFix or onError from inside Watch or the returned cancel func.
type Source interface {
	CurrentPosition(ctx context.Context, opts Options) (geo.Fix, error)
	Watch(opts Options, onFix func(geo.Fix), onError func(error)) (cancel func())
}

// ParseError maps the wire names used by clients to sentinel errors.
func ParseError(code string) (error, bool) {
	switch code {
	case "permission_denied":
		return ErrPermissionDenied, true
	case "position_unavailable":
		return ErrPositionUnavailable, true
	case "timeout":
		return ErrTimeout, true
	}
	return nil, false
}
