package cache

import (
	"sync"
	"time"

	"friendsync/internal/models"
)

// DefaultTTL is the freshness window for cached profile entries.
const DefaultTTL = 30 * time.Minute

// Entry is one cached profile snapshot with its resolved friendship status.
type Entry struct {
	Profile   models.UserProfile
	Status    models.FriendshipStatus
	Timestamp time.Time
}

// ProfileCache maps user id to a cached profile snapshot. Each screen
// instance owns its own cache; nothing is shared across navigation entries.
// A stale entry behaves exactly like a missing one.
type ProfileCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache with the given freshness window. A non-positive ttl
// falls back to DefaultTTL.
func New(ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ProfileCache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests use this to cross the freshness
// boundary without sleeping.
func (c *ProfileCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the entry for userID if one exists and is still fresh.
func (c *ProfileCache) Get(userID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[userID]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(entry.Timestamp) >= c.ttl {
		return Entry{}, false
	}
	return entry, true
}

// Put stores a fresh entry for userID, overwriting any previous one and
// resetting its timestamp.
func (c *ProfileCache) Put(userID string, profile models.UserProfile, status models.FriendshipStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = Entry{
		Profile:   profile,
		Status:    status,
		Timestamp: c.now(),
	}
}

// Invalidate removes the entry for userID outright, forcing the next Get to
// miss and the caller to re-resolve.
func (c *ProfileCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Len reports the number of stored entries, fresh or not.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
