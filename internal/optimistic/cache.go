package optimistic

import (
	"log/slog"
	"sync"
)

// Cache holds canonical balances and pending overrides, keyed by account.
// An override is placed when a flow expects a balance change, then either
// committed into the canonical map or rolled back.
type Cache struct {
	mu        sync.RWMutex
	canonical map[string]uint64
	overrides map[string]uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		canonical: make(map[string]uint64),
		overrides: make(map[string]uint64),
	}
}

// SetCanonical records a balance read from the ledger.
func (c *Cache) SetCanonical(key string, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canonical[key] = amount
}

// Override places a speculative balance for key, replacing any previous one.
func (c *Cache) Override(key string, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[key] = amount
	slog.Debug("optimistic override placed", "key", key, "amount", amount)
}

// Commit drops the override for key and stores the confirmed amount as
// canonical.
func (c *Cache) Commit(key string, confirmed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.overrides, key)
	c.canonical[key] = confirmed
	slog.Debug("optimistic override committed", "key", key, "amount", confirmed)
}

// Rollback drops the override for key, leaving canonical state untouched.
func (c *Cache) Rollback(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.overrides[key]; !ok {
		return
	}
	delete(c.overrides, key)
	slog.Debug("optimistic override rolled back", "key", key)
}

// Get returns the merged balance for key.
func (c *Cache) Get(key string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	canon, hasCanon := c.canonical[key]
	over, hasOver := c.overrides[key]
	return MergeOne(canon, hasCanon, over, hasOver)
}

// Pending reports whether key has an unresolved override.
func (c *Cache) Pending(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.overrides[key]
	return ok
}

// Snapshot returns the merged view of every key.
func (c *Cache) Snapshot() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Merge(c.canonical, c.overrides)
}
