package tracking

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	flagHasVisited  = "has_visited"
	flagWasTracking = "was_tracking"
)

// RedisFlags keeps each user's flags in a hash at tracking:flags:<user>.
type RedisFlags struct {
	client *redis.Client
}

func NewRedisFlags(client *redis.Client) *RedisFlags {
	return &RedisFlags{client: client}
}

func (r *RedisFlags) LoadFlags(ctx context.Context, userID string) (Flags, error) {
	values, err := r.client.HGetAll(ctx, flagsKey(userID)).Result()
	if err != nil {
		return Flags{}, err
	}
	return Flags{
		HasVisited:  values[flagHasVisited] == "1",
		WasTracking: values[flagWasTracking] == "1",
	}, nil
}

func (r *RedisFlags) SaveFlags(ctx context.Context, userID string, f Flags) error {
	return r.client.HSet(ctx, flagsKey(userID),
		flagHasVisited, boolString(f.HasVisited),
		flagWasTracking, boolString(f.WasTracking),
	).Err()
}

func flagsKey(userID string) string {
	return "tracking:flags:" + userID
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// MemoryFlags is the in-process FlagStore used when Redis is not configured.
type MemoryFlags struct {
	mu    sync.Mutex
	flags map[string]Flags
}

func NewMemoryFlags() *MemoryFlags {
	return &MemoryFlags{flags: map[string]Flags{}}
}

func (m *MemoryFlags) LoadFlags(_ context.Context, userID string) (Flags, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[userID], nil
}

func (m *MemoryFlags) SaveFlags(_ context.Context, userID string, f Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[userID] = f
	return nil
}
