package tracking

import (
	"context"
	"log"
	"sync"
	"time"

	"backend-exploretrack/internal/location"
	"backend-exploretrack/internal/path"
)

const bootstrapTimeout = 10 * time.Second

// Registry owns one Manager and one PushSource per user. A manager is
// bootstrapped (exploration rebuild, then orphan recovery) the first time
// its user is seen in this process. Bootstrap runs outside the registry
// lock, so a slow store only delays that user's first request.
type Registry struct {
	store     Store
	flags     FlagStore
	publisher Publisher
	settings  Settings
	now       func() time.Time
	memo      *path.Memo

	mu    sync.Mutex
	users map[string]*userEntry
}

type userEntry struct {
	manager *Manager
	source  *location.PushSource
	ready   sync.Once
}

func NewRegistry(store Store, flags FlagStore, publisher Publisher, settings Settings) *Registry {
	if flags == nil {
		flags = NewMemoryFlags()
	}
	return &Registry{
		store:     store,
		flags:     flags,
		publisher: publisher,
		settings:  settings,
		now:       time.Now,
		memo:      path.NewMemo(path.DefaultMemoEntries),
		users:     map[string]*userEntry{},
	}
}

func (r *Registry) Manager(ctx context.Context, userID string) *Manager {
	return r.entry(ctx, userID).manager
}

// Source returns the push source feeding userID's manager.
func (r *Registry) Source(ctx context.Context, userID string) *location.PushSource {
	return r.entry(ctx, userID).source
}

func (r *Registry) entry(ctx context.Context, userID string) *userEntry {
	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		src := location.NewPushSource()
		e = &userEntry{
			source: src,
			manager: NewManager(userID, Deps{
				Store:     r.store,
				Source:    src,
				Flags:     r.flags,
				Publisher: r.publisher,
				Now:       r.now,
			}, r.settings),
		}
		r.users[userID] = e
	}
	r.mu.Unlock()

	e.ready.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer cancel()
		if err := e.manager.LoadExploration(ctx); err != nil {
			log.Printf("exploration rebuild for %s failed: %v", userID, err)
		}
		e.manager.Recover(ctx)
	})
	return e
}

func (r *Registry) Store() Store {
	return r.store
}

func (r *Registry) Memo() *path.Memo {
	return r.memo
}

// Shutdown flushes every manager before the process exits.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.users))
	for _, e := range r.users {
		managers = append(managers, e.manager)
	}
	r.mu.Unlock()

	for _, m := range managers {
		m.Shutdown(ctx)
	}
}
