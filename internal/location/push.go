package location

import (
	"context"
	"log"
	"sync"
	"time"

	"backend-exploretrack/internal/shared/geo"
)

const watchQueueSize = 64

// PushSource is a Source whose fixes are published by the host, typically
// an HTTP handler relaying readings from a device.
type PushSource struct {
	mu       sync.Mutex
	now      func() time.Time
	last     *geo.Fix
	lastAt   time.Time
	watchers map[*watcher]struct{}
	waiters  []chan geo.Fix
}

type watcher struct {
	events chan event
	done   chan struct{}
	once   sync.Once
}

type event struct {
	fix geo.Fix
	err error
}

func NewPushSource() *PushSource {
	return &PushSource{now: time.Now, watchers: map[*watcher]struct{}{}}
}

// Publish delivers a fix to every watcher and pending one-shot query.
func (s *PushSource) Publish(fix geo.Fix) {
	s.mu.Lock()
	f := fix
	s.last = &f
	s.lastAt = s.now()
	waiters := s.waiters
	s.waiters = nil
	watchers := s.snapshotLocked()
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- fix
	}
	for _, w := range watchers {
		w.offer(event{fix: fix})
	}
}

// PublishError forwards a source error to every watcher.
func (s *PushSource) PublishError(err error) {
	s.mu.Lock()
	watchers := s.snapshotLocked()
	s.mu.Unlock()

	for _, w := range watchers {
		w.offer(event{err: err})
	}
}

func (s *PushSource) CurrentPosition(ctx context.Context, opts Options) (geo.Fix, error) {
	s.mu.Lock()
	if s.last != nil && opts.MaxCachedAge > 0 && s.now().Sub(s.lastAt) <= opts.MaxCachedAge {
		fix := *s.last
		s.mu.Unlock()
		return fix, nil
	}
	ch := make(chan geo.Fix, 1)
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case fix := <-ch:
		return fix, nil
	case <-timeout:
		s.dropWaiter(ch)
		return geo.Fix{}, ErrTimeout
	case <-ctx.Done():
		s.dropWaiter(ch)
		return geo.Fix{}, ctx.Err()
	}
}

func (s *PushSource) Watch(_ Options, onFix func(geo.Fix), onError func(error)) func() {
	w := &watcher{
		events: make(chan event, watchQueueSize),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-w.done:
				return
			case ev := <-w.events:
				select {
				case <-w.done:
					return
				default:
				}
				if ev.err != nil {
					if onError != nil {
						onError(ev.err)
					}
					continue
				}
				if onFix != nil {
					onFix(ev.fix)
				}
			}
		}
	}()

	return func() {
		w.once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
			close(w.done)
		})
	}
}

// Watchers reports the number of live subscriptions.
func (s *PushSource) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func (s *PushSource) snapshotLocked() []*watcher {
	out := make([]*watcher, 0, len(s.watchers))
	for w := range s.watchers {
		out = append(out, w)
	}
	return out
}

func (s *PushSource) dropWaiter(ch chan geo.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.waiters {
		if c == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (w *watcher) offer(ev event) {
	select {
	case <-w.done:
	case w.events <- ev:
	default:
		log.Printf("location watcher queue full, dropping event")
	}
}
