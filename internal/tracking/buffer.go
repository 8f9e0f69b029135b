package tracking

import (
	"context"
	"log"
	"sync"
	"time"

	"backend-exploretrack/internal/exploration"
	"backend-exploretrack/internal/shared/geo"
)

const (
	DefaultFlushInterval = 30 * time.Second
	flushTimeout         = 15 * time.Second
)

// Buffer queues accepted points, and the explored areas of areas_only
// sessions, in memory until they are durably appended. A failed flush
// leaves the queue untouched so the next tick resends the same rows; the
// store's union semantics make the resend safe.
type Buffer struct {
	store    BatchAppender
	interval time.Duration

	mu      sync.Mutex
	pending []geo.Point
	areas   []exploration.Area

	// flushMu serializes flushes; a flush in flight is never re-entered.
	flushMu sync.Mutex

	tickerMu sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewBuffer(store BatchAppender, interval time.Duration) *Buffer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Buffer{store: store, interval: interval}
}

func (b *Buffer) Enqueue(p geo.Point) {
	b.mu.Lock()
	b.pending = append(b.pending, p)
	b.mu.Unlock()
}

func (b *Buffer) EnqueueArea(a exploration.Area) {
	b.mu.Lock()
	b.areas = append(b.areas, a)
	b.mu.Unlock()
}

func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Buffer) PendingAreas() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.areas)
}

// Flush appends the current snapshot, points first. Rows enqueued while a
// write is in flight stay queued for the next flush.
func (b *Buffer) Flush(ctx context.Context, sessionID string) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := append([]geo.Point(nil), b.pending...)
	areas := append([]exploration.Area(nil), b.areas...)
	b.mu.Unlock()

	if len(batch) > 0 {
		if err := b.store.AppendPoints(ctx, sessionID, batch); err != nil {
			log.Printf("flush of %d points for session %s failed: %v", len(batch), sessionID, err)
			return err
		}
		b.mu.Lock()
		sent := min(len(batch), len(b.pending))
		b.pending = append([]geo.Point(nil), b.pending[sent:]...)
		b.mu.Unlock()
	}

	if len(areas) > 0 {
		if err := b.store.AppendAreas(ctx, areas); err != nil {
			log.Printf("flush of %d areas for session %s failed: %v", len(areas), sessionID, err)
			return err
		}
		b.mu.Lock()
		sent := min(len(areas), len(b.areas))
		b.areas = append([]exploration.Area(nil), b.areas[sent:]...)
		b.mu.Unlock()
	}
	return nil
}

// Start runs the periodic flush loop for sessionID until Stop.
func (b *Buffer) Start(sessionID string) {
	b.tickerMu.Lock()
	defer b.tickerMu.Unlock()
	if b.stopCh != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	b.stopCh, b.doneCh = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
				_ = b.Flush(ctx, sessionID)
				cancel()
			case <-stop:
				return
			}
		}
	}()
}

// Stop ends the flush loop and waits for an in-flight tick to finish.
func (b *Buffer) Stop() {
	b.tickerMu.Lock()
	stop, done := b.stopCh, b.doneCh
	b.stopCh, b.doneCh = nil, nil
	b.tickerMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (b *Buffer) Running() bool {
	b.tickerMu.Lock()
	defer b.tickerMu.Unlock()
	return b.stopCh != nil
}
