package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// defaultUserCacheTTL bounds how stale a cached user/role lookup may be.
// Role CRUD is out of scope and happens in the external API layer, so the
// engine only ever observes role changes through this cache expiring.
const defaultUserCacheTTL = 30 * time.Second

// userCache is a read-through cache in front of the user repository. Every
// engine operation resolves its acting user through it, so the same handful
// of rows would otherwise be re-read on every call.
type userCache struct {
	store storage.Storage
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cachedUser
}

type cachedUser struct {
	user    *types.User
	fetched time.Time
}

func newUserCache(store storage.Storage, ttl time.Duration) *userCache {
	return &userCache{store: store, ttl: ttl, entries: make(map[string]cachedUser)}
}

// Get returns the user for id, from cache if fresh.
func (c *userCache) Get(ctx context.Context, id string) (*types.User, error) {
	c.mu.Lock()
	if e, ok := c.entries[id]; ok && time.Since(e.fetched) < c.ttl {
		c.mu.Unlock()
		return e.user, nil
	}
	c.mu.Unlock()

	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[id] = cachedUser{user: u, fetched: time.Now()}
	c.mu.Unlock()
	return u, nil
}

// Invalidate drops id from the cache. Superuser grant/revoke calls this so
// a change made through the engine is visible to the next operation
// immediately rather than after TTL expiry.
func (c *userCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
