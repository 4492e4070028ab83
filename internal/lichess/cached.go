package lichess

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// UserFetcher is the profile lookup a CachedUsers wraps.
type UserFetcher interface {
	FetchUser(ctx context.Context, username string) (User, error)
}

// CachedUsers memoizes profile lookups for the duration of one gather phase.
// Opponent discovery sees the same names many times; only the first sighting
// costs an API call. Not-found answers are cached too, other errors are not.
// Names are matched case-insensitively.
type CachedUsers struct {
	inner   UserFetcher
	mu      sync.Mutex
	users   map[string]cachedUser
	maxSize int
	hits    uint64
	misses  uint64
}

type cachedUser struct {
	user     User
	notFound bool
}

// NewCachedUsers creates a cache over inner holding at most maxSize entries.
func NewCachedUsers(inner UserFetcher, maxSize int) *CachedUsers {
	return &CachedUsers{
		inner:   inner,
		users:   make(map[string]cachedUser),
		maxSize: maxSize,
	}
}

func (c *CachedUsers) FetchUser(ctx context.Context, username string) (User, error) {
	key := strings.ToLower(username)
	c.mu.Lock()
	if e, ok := c.users[key]; ok {
		c.hits++
		c.mu.Unlock()
		if e.notFound {
			return User{}, ErrNotFound
		}
		return e.user, nil
	}
	c.misses++
	c.mu.Unlock()

	u, err := c.inner.FetchUser(ctx, username)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	c.mu.Lock()
	if len(c.users) >= c.maxSize {
		// Simple eviction: clear half the cache
		i := 0
		for k := range c.users {
			if i >= c.maxSize/2 {
				break
			}
			delete(c.users, k)
			i++
		}
	}
	c.users[key] = cachedUser{user: u, notFound: err != nil}
	c.mu.Unlock()

	return u, err
}

// Forget drops username so the next lookup goes to the API again.
func (c *CachedUsers) Forget(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, strings.ToLower(username))
}

// HitRate returns the cache hit rate as a percentage.
func (c *CachedUsers) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total) * 100
}
