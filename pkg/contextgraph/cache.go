package contextgraph

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hearthd/hearth/pkg/types"
)

// DefaultCacheTTL bounds how long a bundle may be served from cache even
// without fresh fact writes.
const DefaultCacheTTL = time.Hour

type cachedBundle struct {
	bundle    types.ContextBundle
	user      string
	createdAt time.Time
}

type cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cachedBundle
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, entries: make(map[string]cachedBundle)}
}

// cacheKey derives the bundle cache key from everything that shapes the
// build: user, query, and options.
func cacheKey(user, query string, opts Options) string {
	sum := md5.Sum(fmt.Appendf(nil, "%s|%s|%v|%v|%d|%d|%s",
		user, query, opts.IncludeSemantic, opts.IncludeRemote,
		opts.TopKFacts, opts.TopKSemantic, opts.MaxAgeRemote))
	return hex.EncodeToString(sum[:])
}

func (c *cache) get(key string) (cachedBundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return cachedBundle{}, false
	}
	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		return cachedBundle{}, false
	}
	return entry, true
}

func (c *cache) put(key string, bundle types.ContextBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedBundle{bundle: bundle, user: bundle.User, createdAt: time.Now()}
}

func (c *cache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *cache) invalidateUser(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.user == user {
			delete(c.entries, key)
		}
	}
}
