package tracking

import (
	"time"

	"backend-exploretrack/internal/exploration"
	"backend-exploretrack/internal/shared/geo"
)

type StorageMode string

const (
	StorageFull        StorageMode = "full"
	StorageIncremental StorageMode = "incremental"
	StorageAreasOnly   StorageMode = "areas_only"
)

func (m StorageMode) Valid() bool {
	switch m {
	case StorageFull, StorageIncremental, StorageAreasOnly:
		return true
	}
	return false
}

type State string

const (
	StateIdle      State = "idle"
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateEnded     State = "ended"
)

type Session struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Points       []geo.Point `json:"points"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      *time.Time  `json:"end_time,omitempty"`
	IsActive     bool        `json:"is_active"`
	StorageMode  StorageMode `json:"storage_mode"`
	MinDistanceM float64     `json:"min_distance_m"`
}

func (s Session) clone() Session {
	s.Points = append([]geo.Point(nil), s.Points...)
	if s.EndTime != nil {
		end := *s.EndTime
		s.EndTime = &end
	}
	return s
}

type Status struct {
	State        State  `json:"state"`
	SessionID    string `json:"session_id,omitempty"`
	PointCount   int    `json:"point_count"`
	PendingCount int    `json:"pending_count"`
	PendingAreas int    `json:"pending_areas"`
}

type Exploration struct {
	Stats exploration.Stats  `json:"stats"`
	Areas []exploration.Area `json:"areas"`
}

// Flags are the process-local booleans read at startup.
type Flags struct {
	HasVisited  bool `json:"has_visited"`
	WasTracking bool `json:"was_tracking"`
}

// Event is pushed to a user's stream.
type Event struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	Point     *geo.Point `json:"point,omitempty"`
	State     State      `json:"state,omitempty"`
	Message   string     `json:"message,omitempty"`
}

const (
	EventPoint = "point"
	EventError = "error"
	EventState = "state"
)
