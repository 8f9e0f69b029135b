package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"backend-exploretrack/internal/exploration"
	"backend-exploretrack/internal/location"
	"backend-exploretrack/internal/sampling"
	"backend-exploretrack/internal/shared/geo"
)

var (
	ErrAlreadyTracking = errors.New("tracking already active")
	ErrNotTracking     = errors.New("tracking not active")
)

const (
	DefaultSessionTimeout = 10 * time.Minute
	DefaultAutoStartDelay = 2 * time.Second

	stopFlushAttempts = 3
	stopFlushBackoff  = 200 * time.Millisecond
	unloadTimeout     = 5 * time.Second
)

type Settings struct {
	MinDistanceM      float64
	MaxAccuracyM      float64
	MaxSpeedKmh       float64
	FlushInterval     time.Duration
	SessionTimeout    time.Duration
	AutoStartDelay    time.Duration
	StorageMode       StorageMode
	WatchOptions      location.Options
	InitialFixOptions location.Options

	ExplorationRadiusM float64
	DedupFactor        float64
	CoverageGoalM2     float64
	SpatialIndex       string
}

func (s Settings) withDefaults() Settings {
	if s.MinDistanceM <= 0 {
		s.MinDistanceM = sampling.DefaultMinDistanceM
	}
	if s.FlushInterval <= 0 {
		s.FlushInterval = DefaultFlushInterval
	}
	if s.SessionTimeout <= 0 {
		s.SessionTimeout = DefaultSessionTimeout
	}
	if s.AutoStartDelay <= 0 {
		s.AutoStartDelay = DefaultAutoStartDelay
	}
	if !s.StorageMode.Valid() {
		s.StorageMode = StorageIncremental
	}
	if s.WatchOptions == (location.Options{}) {
		s.WatchOptions = location.BatterySaving
	}
	if s.InitialFixOptions == (location.Options{}) {
		s.InitialFixOptions = location.Precise
	}
	return s
}

type Deps struct {
	Store     Store
	Source    location.Source
	Flags     FlagStore
	Publisher Publisher
	Now       func() time.Time
}

// Manager is the per-user tracking state machine. Every event input (start,
// stop, fix, visibility change, unload) is serialized by mu.
type Manager struct {
	userID    string
	store     Store
	source    location.Source
	flags     FlagStore
	publisher Publisher
	now       func() time.Time
	settings  Settings
	validator *sampling.Validator
	index     *exploration.Index

	mu           sync.Mutex
	state        State
	session      *Session
	buffer       *Buffer
	gate         sampling.Gate
	lastAccepted *geo.Point
	lastRecorded *geo.Point
	stopWatch    func()
	watchGen     uint64
	autoStart    *time.Timer
	autoStartGen uint64

	recoverOnce sync.Once
}

func NewManager(userID string, deps Deps, settings Settings) *Manager {
	settings = settings.withDefaults()
	if deps.Flags == nil {
		deps.Flags = NewMemoryFlags()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		userID:    userID,
		store:     deps.Store,
		source:    deps.Source,
		flags:     deps.Flags,
		publisher: deps.Publisher,
		now:       deps.Now,
		settings:  settings,
		validator: sampling.NewValidator(settings.MaxAccuracyM, settings.MaxSpeedKmh),
		index: exploration.NewIndex(exploration.Options{
			RadiusM:        settings.ExplorationRadiusM,
			DedupFactor:    settings.DedupFactor,
			CoverageGoalM2: settings.CoverageGoalM2,
			Spatial:        exploration.NewSpatialIndex(settings.SpatialIndex),
		}),
		state: StateIdle,
		gate:  sampling.NewGate(settings.MinDistanceM),
	}
}

// Start opens a new session and begins watching the location source.
func (m *Manager) Start(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracking() {
		return Session{}, ErrAlreadyTracking
	}
	m.cancelAutoStartLocked()

	s := Session{
		UserID:       m.userID,
		StartTime:    m.now(),
		IsActive:     true,
		StorageMode:  m.settings.StorageMode,
		MinDistanceM: m.settings.MinDistanceM,
	}
	id, err := m.store.CreateSession(ctx, s)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	s.ID = id

	m.activateLocked(s)
	m.saveFlags(ctx, Flags{HasVisited: true, WasTracking: true})
	log.Printf("tracking started: user=%s session=%s", m.userID, id)
	return m.session.clone(), nil
}

// Stop flushes pending points and closes the session. If the flush keeps
// failing the session stays open so nothing queued is lost.
func (m *Manager) Stop(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tracking() {
		return Session{}, ErrNotTracking
	}
	id := m.session.ID

	if err := m.flushWithRetryLocked(ctx); err != nil {
		return Session{}, fmt.Errorf("stop session %s: %w", id, err)
	}
	m.cancelWatchLocked()
	m.buffer.Stop()

	end := m.now()
	if err := m.store.EndSession(ctx, id, end); err != nil {
		log.Printf("end session %s failed, left to orphan recovery: %v", id, err)
	}

	m.session.IsActive = false
	m.session.EndTime = &end
	m.state = StateEnded
	m.buffer = nil
	m.lastAccepted, m.lastRecorded = nil, nil

	m.saveFlags(ctx, Flags{HasVisited: true, WasTracking: false})
	m.publishLocked(Event{Type: EventState, SessionID: id, State: m.state})
	log.Printf("tracking stopped: user=%s session=%s points=%d", m.userID, id, len(m.session.Points))
	return m.session.clone(), nil
}

// BecameHidden pauses polling while the client is in the background. The
// session stays active in the store.
func (m *Manager) BecameHidden(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive {
		return
	}
	m.cancelWatchLocked()
	m.buffer.Stop()
	m.state = StateSuspended

	if err := m.buffer.Flush(ctx, m.session.ID); err != nil {
		log.Printf("background flush for session %s failed: %v", m.session.ID, err)
	}
	m.publishLocked(Event{Type: EventState, SessionID: m.session.ID, State: m.state})
}

func (m *Manager) BecameVisible(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSuspended {
		return
	}
	m.state = StateActive
	m.subscribeLocked()
	m.buffer.Start(m.session.ID)
	m.publishLocked(Event{Type: EventState, SessionID: m.session.ID, State: m.state})
}

// Unload is the page-unload heuristic: stop locally and try, without
// waiting, to flush and close the session. Orphan recovery covers the case
// where this never reaches the store.
func (m *Manager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelAutoStartLocked()
	if !m.tracking() {
		return
	}
	m.cancelWatchLocked()
	buf, id := m.buffer, m.session.ID
	buf.Stop()

	end := m.now()
	m.session.IsActive = false
	m.session.EndTime = &end
	m.state = StateEnded
	m.buffer = nil
	m.lastAccepted, m.lastRecorded = nil, nil

	store := m.store
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
		defer cancel()
		if err := buf.Flush(ctx, id); err != nil {
			log.Printf("unload flush for session %s failed: %v", id, err)
		}
		if err := store.EndSession(ctx, id, end); err != nil {
			log.Printf("unload end for session %s failed: %v", id, err)
		}
	}()
}

// Flush persists pending points on demand.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	buf := m.buffer
	var id string
	if m.session != nil {
		id = m.session.ID
	}
	m.mu.Unlock()

	if buf == nil {
		return nil
	}
	return buf.Flush(ctx, id)
}

// Shutdown releases the subscription and timer on process exit and flushes
// what is pending. The session is left active so a restart within the
// timeout resumes it.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelAutoStartLocked()
	if !m.tracking() {
		return
	}
	m.cancelWatchLocked()
	m.buffer.Stop()
	m.state = StateSuspended
	if err := m.buffer.Flush(ctx, m.session.ID); err != nil {
		log.Printf("shutdown flush for session %s failed: %v", m.session.ID, err)
	}
}

// Recover runs the startup orphan sweep once: stale active sessions are
// closed, the first one still inside the timeout window is resumed, and
// otherwise the last known intent (or a first visit) schedules a start.
// Failures are logged and leave the manager idle.
func (m *Manager) Recover(ctx context.Context) {
	m.recoverOnce.Do(func() { m.recover(ctx) })
}

func (m *Manager) recover(ctx context.Context) {
	flags, err := m.flags.LoadFlags(ctx, m.userID)
	if err != nil {
		log.Printf("load flags for %s failed: %v", m.userID, err)
		flags = Flags{HasVisited: true}
	}
	firstVisit := !flags.HasVisited
	if firstVisit {
		m.saveFlags(ctx, Flags{HasVisited: true, WasTracking: flags.WasTracking})
	}

	sessions, err := m.store.ActiveSessions(ctx, m.userID)
	if err != nil {
		log.Printf("orphan recovery for %s failed: %v", m.userID, err)
		return
	}

	now := m.now()
	var resumable *Session
	for i := range sessions {
		s := sessions[i]
		if now.Sub(s.StartTime) >= m.settings.SessionTimeout {
			if err := m.store.EndSession(ctx, s.ID, now); err != nil {
				log.Printf("close stale session %s failed: %v", s.ID, err)
				continue
			}
			log.Printf("closed stale session %s (started %s ago)", s.ID, now.Sub(s.StartTime).Round(time.Second))
			continue
		}
		if resumable == nil {
			resumable = &s
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracking() {
		return
	}
	if resumable != nil {
		if !resumable.StorageMode.Valid() {
			resumable.StorageMode = m.settings.StorageMode
		}
		if resumable.MinDistanceM <= 0 {
			resumable.MinDistanceM = m.settings.MinDistanceM
		}
		m.activateLocked(*resumable)
		log.Printf("resumed session %s for %s", resumable.ID, m.userID)
		return
	}
	if flags.WasTracking || firstVisit {
		m.scheduleAutoStartLocked()
	}
}

// LoadExploration rebuilds the explored-area set from every stored session
// and then merges the areas persisted by areas_only sessions.
func (m *Manager) LoadExploration(ctx context.Context) error {
	sessions, err := m.store.Sessions(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	var points []geo.Point
	for _, s := range sessions {
		points = append(points, s.Points...)
	}
	m.index.Rebuild(points, m.userID)

	areas, err := m.store.Areas(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("load areas: %w", err)
	}
	m.index.Merge(areas)
	return nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: m.state}
	if m.session != nil {
		st.SessionID = m.session.ID
		st.PointCount = len(m.session.Points)
	}
	if m.buffer != nil {
		st.PendingCount = m.buffer.Pending()
		st.PendingAreas = m.buffer.PendingAreas()
	}
	return st
}

// Session returns a copy of the current or most recently ended session.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return m.session.clone(), true
}

// Points returns a copy of the current session's recorded points.
func (m *Manager) Points() []geo.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return append([]geo.Point(nil), m.session.Points...)
}

func (m *Manager) Exploration() Exploration {
	return Exploration{Stats: m.index.Stats(), Areas: m.index.Areas()}
}

func (m *Manager) handleFix(gen uint64, fix geo.Fix) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive || gen != m.watchGen {
		return
	}

	point := fix.Point(m.now())
	fix.Timestamp = point.Timestamp
	if err := m.validator.Validate(fix, m.lastAccepted); err != nil {
		return
	}
	m.lastAccepted = &point
	if !m.gate.ShouldRecord(point, m.lastRecorded) {
		return
	}
	m.lastRecorded = &point
	m.session.Points = append(m.session.Points, point)

	area, added := m.index.Insert(point, m.userID)

	switch m.session.StorageMode {
	case StorageAreasOnly:
		if added {
			m.buffer.EnqueueArea(area)
		}
	case StorageFull:
		m.buffer.Enqueue(point)
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		_ = m.buffer.Flush(ctx, m.session.ID)
		cancel()
	default:
		m.buffer.Enqueue(point)
	}

	m.publishLocked(Event{Type: EventPoint, SessionID: m.session.ID, Point: &point})
}

func (m *Manager) handleSourceError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tracking() || gen != m.watchGen {
		return
	}
	log.Printf("location source error for %s: %v", m.userID, err)
	m.publishLocked(Event{Type: EventError, SessionID: m.session.ID, Message: err.Error()})
}

func (m *Manager) tracking() bool {
	return m.state == StateActive || m.state == StateSuspended
}

func (m *Manager) activateLocked(s Session) {
	s.Points = append([]geo.Point(nil), s.Points...)
	m.session = &s
	m.lastAccepted, m.lastRecorded = nil, nil
	m.gate = sampling.NewGate(s.MinDistanceM)
	m.buffer = NewBuffer(m.store, m.settings.FlushInterval)
	m.state = StateActive

	m.subscribeLocked()
	m.buffer.Start(s.ID)
	m.primeLocked()
	m.publishLocked(Event{Type: EventState, SessionID: s.ID, State: m.state})
}

func (m *Manager) subscribeLocked() {
	m.watchGen++
	gen := m.watchGen
	m.stopWatch = m.source.Watch(m.settings.WatchOptions,
		func(f geo.Fix) { m.handleFix(gen, f) },
		func(err error) { m.handleSourceError(gen, err) },
	)
}

// cancelWatchLocked also bumps the generation so a fix already queued by the
// source is discarded on arrival.
func (m *Manager) cancelWatchLocked() {
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	m.watchGen++
}

// primeLocked issues the one-shot precise position query for a fresh
// subscription and feeds the answer through the normal pipeline.
func (m *Manager) primeLocked() {
	gen := m.watchGen
	opts := m.settings.InitialFixOptions
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout+time.Second)
		defer cancel()
		fix, err := m.source.CurrentPosition(ctx, opts)
		if err != nil {
			m.handleSourceError(gen, err)
			return
		}
		m.handleFix(gen, fix)
	}()
}

func (m *Manager) flushWithRetryLocked(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= stopFlushAttempts; attempt++ {
		if err = m.buffer.Flush(ctx, m.session.ID); err == nil {
			return nil
		}
		if attempt == stopFlushAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * stopFlushBackoff):
		}
	}
	return err
}

func (m *Manager) scheduleAutoStartLocked() {
	m.cancelAutoStartLocked()
	gen := m.autoStartGen
	m.autoStart = time.AfterFunc(m.settings.AutoStartDelay, func() {
		m.mu.Lock()
		if gen != m.autoStartGen {
			m.mu.Unlock()
			return
		}
		m.autoStart = nil
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if _, err := m.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyTracking) {
			log.Printf("auto-start for %s failed: %v", m.userID, err)
		}
	})
	log.Printf("auto-start scheduled for %s in %s", m.userID, m.settings.AutoStartDelay)
}

func (m *Manager) cancelAutoStartLocked() {
	m.autoStartGen++
	if m.autoStart != nil {
		m.autoStart.Stop()
		m.autoStart = nil
	}
}

func (m *Manager) saveFlags(ctx context.Context, f Flags) {
	if err := m.flags.SaveFlags(ctx, m.userID, f); err != nil {
		log.Printf("save flags for %s failed: %v", m.userID, err)
	}
}

func (m *Manager) publishLocked(ev Event) {
	if m.publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	m.publisher.Broadcast(m.userID, payload)
}
