package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"backend-exploretrack/internal/exploration"
	"backend-exploretrack/internal/location"
	"backend-exploretrack/internal/shared/geo"
)

var errStoreDown = errors.New("store unavailable")

type fakeStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	keys        map[string]map[geo.Point]struct{}
	areas       map[string][]exploration.Area
	areaKeys    map[[3]string]struct{}
	appendCalls int
	areaCalls   int
	appendErr   error
	endErr      error
	activeErr   error
	ended       []string
	nextID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*Session{},
		keys:     map[string]map[geo.Point]struct{}{},
		areas:    map[string][]exploration.Area{},
		areaKeys: map[[3]string]struct{}{},
	}
}

func (f *fakeStore) seed(s Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := s.clone()
	f.sessions[s.ID] = &cp
	f.keys[s.ID] = map[geo.Point]struct{}{}
	for _, p := range s.Points {
		f.keys[s.ID][pointKey(p)] = struct{}{}
	}
}

func pointKey(p geo.Point) geo.Point {
	p.Timestamp = p.Timestamp.UTC()
	return p
}

func (f *fakeStore) CreateSession(_ context.Context, s Session) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = "session-" + strconv.Itoa(f.nextID)
	f.sessions[s.ID] = &s
	f.keys[s.ID] = map[geo.Point]struct{}{}
	return s.ID, nil
}

func (f *fakeStore) AppendPoints(_ context.Context, sessionID string, points []geo.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.appendErr != nil {
		return f.appendErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return errors.New("unknown session")
	}
	for _, p := range points {
		k := pointKey(p)
		if _, dup := f.keys[sessionID][k]; dup {
			continue
		}
		f.keys[sessionID][k] = struct{}{}
		s.Points = append(s.Points, p)
	}
	return nil
}

func (f *fakeStore) AppendAreas(_ context.Context, areas []exploration.Area) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.areaCalls++
	if f.appendErr != nil {
		return f.appendErr
	}
	for _, a := range areas {
		k := [3]string{a.UserID, strconv.FormatFloat(a.Lat, 'g', -1, 64), strconv.FormatFloat(a.Lng, 'g', -1, 64)}
		if _, dup := f.areaKeys[k]; dup {
			continue
		}
		f.areaKeys[k] = struct{}{}
		f.areas[a.UserID] = append(f.areas[a.UserID], a)
	}
	return nil
}

func (f *fakeStore) Areas(_ context.Context, userID string) ([]exploration.Area, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exploration.Area(nil), f.areas[userID]...), nil
}

func (f *fakeStore) Session(_ context.Context, sessionID string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s.clone(), nil
}

func (f *fakeStore) areaCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.areas[userID])
}

func (f *fakeStore) EndSession(_ context.Context, sessionID string, endTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return f.endErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return errors.New("unknown session")
	}
	s.IsActive = false
	s.EndTime = &endTime
	f.ended = append(f.ended, sessionID)
	return nil
}

func (f *fakeStore) ActiveSessions(_ context.Context, userID string) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	var out []Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.IsActive {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (f *fakeStore) Sessions(_ context.Context, userID string) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeStore) session(id string) Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return s.clone()
	}
	return Session{}
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendCalls
}

func (f *fakeStore) setAppendErr(err error) {
	f.mu.Lock()
	f.appendErr = err
	f.mu.Unlock()
}

func (f *fakeStore) endedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

type subscription struct {
	onFix   func(geo.Fix)
	onError func(error)
}

// fakeSource records subscriptions; tests deliver fixes from their own
// goroutine via emit.
type fakeSource struct {
	mu         sync.Mutex
	subs       map[int]subscription
	next       int
	watchCalls int
	last       subscription
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: map[int]subscription{}}
}

func (s *fakeSource) CurrentPosition(ctx context.Context, _ location.Options) (geo.Fix, error) {
	return geo.Fix{}, location.ErrPositionUnavailable
}

func (s *fakeSource) Watch(_ location.Options, onFix func(geo.Fix), onError func(error)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	sub := subscription{onFix: onFix, onError: onError}
	s.subs[id] = sub
	s.last = sub
	s.watchCalls++
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeSource) emit(fix geo.Fix) {
	for _, sub := range s.snapshot() {
		sub.onFix(fix)
	}
}

func (s *fakeSource) emitError(err error) {
	for _, sub := range s.snapshot() {
		sub.onError(err)
	}
}

func (s *fakeSource) snapshot() []subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

func (s *fakeSource) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *fakeSource) lastSubscription() subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
	keys   []string
}

func (p *fakePublisher) Broadcast(key string, payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.keys = append(p.keys, key)
	p.mu.Unlock()
}

func (p *fakePublisher) ofType(typ string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

var origin = geo.Point{Lat: -6.2, Lng: 106.8}

// walkFix returns a fix northM metres north of origin, t seconds after base.
func walkFix(base time.Time, northM float64, seconds int) geo.Fix {
	lat, lng := geo.Offset(origin.Lat, origin.Lng, northM, 0)
	return geo.Fix{Lat: lat, Lng: lng, AccuracyM: 10, Timestamp: base.Add(time.Duration(seconds) * time.Second)}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	store *fakeStore
	src   *fakeSource
	flags *MemoryFlags
	pub   *fakePublisher
	now   time.Time
	m     *Manager
}

func newHarness(settings Settings) *harness {
	h := &harness{
		store: newFakeStore(),
		src:   newFakeSource(),
		flags: NewMemoryFlags(),
		pub:   &fakePublisher{},
		now:   time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	if settings.FlushInterval == 0 {
		settings.FlushInterval = time.Hour
	}
	h.m = NewManager("user-1", Deps{
		Store:     h.store,
		Source:    h.src,
		Flags:     h.flags,
		Publisher: h.pub,
		Now:       func() time.Time { return h.now },
	}, settings)
	return h
}
