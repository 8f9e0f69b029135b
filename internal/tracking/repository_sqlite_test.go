package tracking

import (
	"context"
	"testing"
	"time"

	"backend-exploretrack/internal/db"
	"backend-exploretrack/internal/exploration"
	"backend-exploretrack/internal/shared/geo"

	"github.com/stretchr/testify/require"
)

func newSQLiteRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewSQLiteRepository(conn)
}

func TestSQLiteAppendIsSetUnion(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 123456789, time.UTC)

	id, err := repo.CreateSession(ctx, Session{UserID: "user-1", StartTime: base, StorageMode: StorageIncremental, MinDistanceM: 10})
	require.NoError(t, err)

	p := func(i int) geo.Point {
		return geo.Point{Lat: -6.2 + float64(i)*0.001, Lng: 106.8, Timestamp: base.Add(time.Duration(i) * time.Second)}
	}
	batches := [][]geo.Point{
		{p(0), p(1), p(2)},
		{p(1), p(2), p(3)},
		{p(0), p(1), p(2)},
		{p(4)},
	}
	for _, b := range batches {
		require.NoError(t, repo.AppendPoints(ctx, id, b))
	}

	sessions, err := repo.Sessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Points, 5)
	for i, got := range sessions[0].Points {
		require.Equal(t, p(i), got)
	}
}

func TestSQLiteActiveAndEnd(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	older, err := repo.CreateSession(ctx, Session{UserID: "user-1", StartTime: now.Add(-time.Hour), StorageMode: StorageFull})
	require.NoError(t, err)
	newer, err := repo.CreateSession(ctx, Session{UserID: "user-1", StartTime: now, StorageMode: StorageAreasOnly})
	require.NoError(t, err)
	_, err = repo.CreateSession(ctx, Session{UserID: "user-2", StartTime: now})
	require.NoError(t, err)

	active, err := repo.ActiveSessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, newer, active[0].ID, "newest first")
	require.Equal(t, StorageAreasOnly, active[0].StorageMode)

	require.NoError(t, repo.EndSession(ctx, older, now))
	active, err = repo.ActiveSessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	all, err := repo.Sessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, older, all[0].ID, "oldest first")
	require.False(t, all[0].IsActive)
	require.NotNil(t, all[0].EndTime)
	require.True(t, all[0].EndTime.Equal(now))
}

func TestSQLiteAreasAreSetUnion(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	a := exploration.Area{Lat: -6.2, Lng: 106.8, RadiusM: 25, Timestamp: base, UserID: "user-1"}
	b := exploration.Area{Lat: -6.3, Lng: 106.8, RadiusM: 25, Timestamp: base.Add(time.Minute), UserID: "user-1"}
	other := exploration.Area{Lat: -6.2, Lng: 106.8, RadiusM: 25, Timestamp: base, UserID: "user-2"}

	require.NoError(t, repo.AppendAreas(ctx, []exploration.Area{a, b}))
	require.NoError(t, repo.AppendAreas(ctx, []exploration.Area{b, a, other}))

	areas, err := repo.Areas(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []exploration.Area{a, b}, areas)
}

func TestSQLiteSessionByID(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	id, err := repo.CreateSession(ctx, Session{UserID: "user-1", StartTime: now, StorageMode: StorageFull})
	require.NoError(t, err)
	require.NoError(t, repo.AppendPoints(ctx, id, []geo.Point{{Lat: 1, Lng: 2, Timestamp: now}}))

	s, err := repo.Session(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "user-1", s.UserID)
	require.Len(t, s.Points, 1)

	_, err = repo.Session(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
