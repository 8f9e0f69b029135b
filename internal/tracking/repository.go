package tracking

import (
	"context"
	"time"

	"backend-exploretrack/internal/db"
	"backend-exploretrack/internal/exploration"
	"backend-exploretrack/internal/shared/geo"

	"github.com/google/uuid"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	db db.Querier
}

func NewRepository(db db.Querier) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateSession(ctx context.Context, s Session) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(ctx, `
		INSERT INTO tracking_sessions (id, user_id, start_time, is_active, storage_mode, min_distance_m)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, id, s.UserID, s.StartTime, true, string(s.StorageMode), s.MinDistanceM)
	if err != nil {
		return "", err
	}
	return id, nil
}

// AppendPoints inserts the batch in one statement. The points primary key
// makes a resend of an already stored point a no-op.
func (r *Repository) AppendPoints(ctx context.Context, sessionID string, points []geo.Point) error {
	if len(points) == 0 {
		return nil
	}
	lats := make([]float64, len(points))
	lngs := make([]float64, len(points))
	times := make([]time.Time, len(points))
	for i, p := range points {
		lats[i], lngs[i], times[i] = p.Lat, p.Lng, p.Timestamp
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO tracking_points (session_id, lat, lng, recorded_at)
		SELECT $1, p.lat, p.lng, p.recorded_at
		FROM unnest($2::double precision[], $3::double precision[], $4::timestamptz[]) AS p(lat, lng, recorded_at)
		ON CONFLICT DO NOTHING
	`, sessionID, lats, lngs, times)
	return err
}

// AppendAreas stores explored areas; a center already stored for the user
// is left as it is.
func (r *Repository) AppendAreas(ctx context.Context, areas []exploration.Area) error {
	if len(areas) == 0 {
		return nil
	}
	users := make([]string, len(areas))
	lats := make([]float64, len(areas))
	lngs := make([]float64, len(areas))
	radii := make([]float64, len(areas))
	times := make([]time.Time, len(areas))
	for i, a := range areas {
		users[i], lats[i], lngs[i], radii[i], times[i] = a.UserID, a.Lat, a.Lng, a.RadiusM, a.Timestamp
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO tracking_areas (user_id, lat, lng, radius_m, recorded_at)
		SELECT a.user_id, a.lat, a.lng, a.radius_m, a.recorded_at
		FROM unnest($1::text[], $2::double precision[], $3::double precision[], $4::double precision[], $5::timestamptz[])
			AS a(user_id, lat, lng, radius_m, recorded_at)
		ON CONFLICT DO NOTHING
	`, users, lats, lngs, radii, times)
	return err
}

func (r *Repository) Areas(ctx context.Context, userID string) ([]exploration.Area, error) {
	rows, err := r.db.Query(ctx, `
		SELECT lat, lng, radius_m, recorded_at
		FROM tracking_areas
		WHERE user_id=$1
		ORDER BY recorded_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var areas []exploration.Area
	for rows.Next() {
		a := exploration.Area{UserID: userID}
		if err := rows.Scan(&a.Lat, &a.Lng, &a.RadiusM, &a.Timestamp); err != nil {
			return nil, err
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}

func (r *Repository) EndSession(ctx context.Context, sessionID string, endTime time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE tracking_sessions
		SET is_active=false, end_time=$2
		WHERE id=$1
	`, sessionID, endTime)
	return err
}

func (r *Repository) Session(ctx context.Context, sessionID string) (Session, error) {
	sessions, err := r.querySessions(ctx, `
		SELECT id, user_id, start_time, end_time, is_active, storage_mode, min_distance_m
		FROM tracking_sessions
		WHERE id=$1
	`, sessionID)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrSessionNotFound
	}
	return sessions[0], nil
}

// ActiveSessions returns the user's open sessions, newest first.
func (r *Repository) ActiveSessions(ctx context.Context, userID string) ([]Session, error) {
	return r.querySessions(ctx, `
		SELECT id, user_id, start_time, end_time, is_active, storage_mode, min_distance_m
		FROM tracking_sessions
		WHERE user_id=$1 AND is_active
		ORDER BY start_time DESC
	`, userID)
}

// Sessions returns every session of the user, oldest first.
func (r *Repository) Sessions(ctx context.Context, userID string) ([]Session, error) {
	return r.querySessions(ctx, `
		SELECT id, user_id, start_time, end_time, is_active, storage_mode, min_distance_m
		FROM tracking_sessions
		WHERE user_id=$1
		ORDER BY start_time
	`, userID)
}

func (r *Repository) querySessions(ctx context.Context, sql, arg string) ([]Session, error) {
	rows, err := r.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var mode string
		if err := rows.Scan(&s.ID, &s.UserID, &s.StartTime, &s.EndTime, &s.IsActive, &mode, &s.MinDistanceM); err != nil {
			return nil, err
		}
		s.StorageMode = StorageMode(mode)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}
	return sessions, r.attachPoints(ctx, sessions)
}

func (r *Repository) attachPoints(ctx context.Context, sessions []Session) error {
	ids := make([]string, len(sessions))
	byID := make(map[string]int, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
		byID[s.ID] = i
	}

	rows, err := r.db.Query(ctx, `
		SELECT session_id, lat, lng, recorded_at
		FROM tracking_points
		WHERE session_id = ANY($1)
		ORDER BY session_id, recorded_at
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID string
		var p geo.Point
		if err := rows.Scan(&sessionID, &p.Lat, &p.Lng, &p.Timestamp); err != nil {
			return err
		}
		if i, ok := byID[sessionID]; ok {
			sessions[i].Points = append(sessions[i].Points, p)
		}
	}
	return rows.Err()
}
