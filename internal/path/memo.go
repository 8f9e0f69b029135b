package path

import (
	"backend-exploretrack/internal/shared/geo"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMemoEntries = 256

// Memo caches rendered paths for the most recently requested sessions. A
// session's point list only grows, so the point count is enough to detect
// staleness.
type Memo struct {
	entries *lru.Cache[string, memoEntry]
}

type memoEntry struct {
	count    int
	rendered []geo.Point
}

// NewMemo keeps at most size renders; size <= 0 selects DefaultMemoEntries.
func NewMemo(size int) *Memo {
	if size <= 0 {
		size = DefaultMemoEntries
	}
	cache, err := lru.New[string, memoEntry](size)
	if err != nil {
		panic(err)
	}
	return &Memo{entries: cache}
}

func (m *Memo) Render(sessionID string, points []geo.Point) []geo.Point {
	if e, ok := m.entries.Get(sessionID); ok && e.count == len(points) {
		return e.rendered
	}
	rendered := Render(points)
	m.entries.Add(sessionID, memoEntry{count: len(points), rendered: rendered})
	return rendered
}

func (m *Memo) Forget(sessionID string) {
	m.entries.Remove(sessionID)
}

func (m *Memo) Len() int {
	return m.entries.Len()
}
