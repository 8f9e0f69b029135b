package tracking

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"backend-exploretrack/internal/exploration"
	"backend-exploretrack/internal/shared/geo"

	"github.com/google/uuid"
)

// SQLiteRepository is the embedded Store. Timestamps are kept as unix
// nanoseconds so the point key round-trips exactly.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(conn *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: conn}
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s Session) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracking_sessions (id, user_id, start_time, is_active, storage_mode, min_distance_m)
		VALUES (?, ?, ?, 1, ?, ?)
	`, id, s.UserID, s.StartTime.UnixNano(), string(s.StorageMode), s.MinDistanceM)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *SQLiteRepository) AppendPoints(ctx context.Context, sessionID string, points []geo.Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO tracking_points (session_id, lat, lng, recorded_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, sessionID, p.Lat, p.Lng, p.Timestamp.UnixNano()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) AppendAreas(ctx context.Context, areas []exploration.Area) error {
	if len(areas) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO tracking_areas (user_id, lat, lng, radius_m, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range areas {
		if _, err := stmt.ExecContext(ctx, a.UserID, a.Lat, a.Lng, a.RadiusM, a.Timestamp.UnixNano()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) Areas(ctx context.Context, userID string) ([]exploration.Area, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lat, lng, radius_m, recorded_at
		FROM tracking_areas
		WHERE user_id = ?
		ORDER BY recorded_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var areas []exploration.Area
	for rows.Next() {
		var ts int64
		a := exploration.Area{UserID: userID}
		if err := rows.Scan(&a.Lat, &a.Lng, &a.RadiusM, &ts); err != nil {
			return nil, err
		}
		a.Timestamp = time.Unix(0, ts).UTC()
		areas = append(areas, a)
	}
	return areas, rows.Err()
}

func (r *SQLiteRepository) EndSession(ctx context.Context, sessionID string, endTime time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tracking_sessions SET is_active = 0, end_time = ? WHERE id = ?
	`, endTime.UnixNano(), sessionID)
	return err
}

func (r *SQLiteRepository) Session(ctx context.Context, sessionID string) (Session, error) {
	sessions, err := r.querySessions(ctx, `
		SELECT id, user_id, start_time, end_time, is_active, storage_mode, min_distance_m
		FROM tracking_sessions
		WHERE id = ?
	`, sessionID)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrSessionNotFound
	}
	return sessions[0], nil
}

func (r *SQLiteRepository) ActiveSessions(ctx context.Context, userID string) ([]Session, error) {
	return r.querySessions(ctx, `
		SELECT id, user_id, start_time, end_time, is_active, storage_mode, min_distance_m
		FROM tracking_sessions
		WHERE user_id = ? AND is_active = 1
		ORDER BY start_time DESC
	`, userID)
}

func (r *SQLiteRepository) Sessions(ctx context.Context, userID string) ([]Session, error) {
	return r.querySessions(ctx, `
		SELECT id, user_id, start_time, end_time, is_active, storage_mode, min_distance_m
		FROM tracking_sessions
		WHERE user_id = ?
		ORDER BY start_time
	`, userID)
}

func (r *SQLiteRepository) querySessions(ctx context.Context, query, arg string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}

	var sessions []Session
	for rows.Next() {
		var (
			s     Session
			start int64
			end   sql.NullInt64
			mode  string
		)
		if err := rows.Scan(&s.ID, &s.UserID, &start, &end, &s.IsActive, &mode, &s.MinDistanceM); err != nil {
			rows.Close()
			return nil, err
		}
		s.StartTime = time.Unix(0, start).UTC()
		if end.Valid {
			t := time.Unix(0, end.Int64).UTC()
			s.EndTime = &t
		}
		s.StorageMode = StorageMode(mode)
		sessions = append(sessions, s)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}
	return sessions, r.attachPoints(ctx, sessions)
}

// attachPoints runs after the session cursor is closed; the pool holds a
// single connection.
func (r *SQLiteRepository) attachPoints(ctx context.Context, sessions []Session) error {
	args := make([]any, len(sessions))
	byID := make(map[string]int, len(sessions))
	for i, s := range sessions {
		args[i] = s.ID
		byID[s.ID] = i
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sessions)), ",")

	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, lat, lng, recorded_at
		FROM tracking_points
		WHERE session_id IN (`+placeholders+`)
		ORDER BY session_id, recorded_at
	`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sessionID string
			p         geo.Point
			ts        int64
		)
		if err := rows.Scan(&sessionID, &p.Lat, &p.Lng, &ts); err != nil {
			return err
		}
		p.Timestamp = time.Unix(0, ts).UTC()
		if i, ok := byID[sessionID]; ok {
			sessions[i].Points = append(sessions[i].Points, p)
		}
	}
	return rows.Err()
}
