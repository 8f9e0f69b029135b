package tracking

import (
	"context"
	"errors"
	"time"

	"backend-exploretrack/internal/exploration"
	"backend-exploretrack/internal/shared/geo"
)

var ErrSessionNotFound = errors.New("session not found")

// Store is the durable session store. AppendPoints and AppendAreas must
// have set-union semantics: resending a row already stored is a no-op.
type Store interface {
	CreateSession(ctx context.Context, s Session) (string, error)
	AppendPoints(ctx context.Context, sessionID string, points []geo.Point) error
	AppendAreas(ctx context.Context, areas []exploration.Area) error
	EndSession(ctx context.Context, sessionID string, endTime time.Time) error
	Session(ctx context.Context, sessionID string) (Session, error)
	ActiveSessions(ctx context.Context, userID string) ([]Session, error)
	Sessions(ctx context.Context, userID string) ([]Session, error)
	Areas(ctx context.Context, userID string) ([]exploration.Area, error)
}

// BatchAppender is the slice of Store used by the batch buffer.
type BatchAppender interface {
	AppendPoints(ctx context.Context, sessionID string, points []geo.Point) error
	AppendAreas(ctx context.Context, areas []exploration.Area) error
}

type FlagStore interface {
	LoadFlags(ctx context.Context, userID string) (Flags, error)
	SaveFlags(ctx context.Context, userID string, flags Flags) error
}

// Publisher fans events out to a user's connected clients.
type Publisher interface {
	Broadcast(key string, payload []byte)
}
