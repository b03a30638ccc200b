package auth

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
)

// keyDigest is the cache key. Raw API keys are never held in memory past
// the request that carried them.
type keyDigest [32]byte

func digestKey(apiKey string) keyDigest {
	return blake3.Sum256([]byte(apiKey))
}

// AuthCache holds verified clients for a TTL, keyed by a digest of the
// presented key. Expired entries are still served once while a single caller
// refreshes them, so a verified key never waits on bcrypt again.
type AuthCache struct {
	entries sync.Map // keyDigest -> *cacheEntry
	ttl     time.Duration
	size    atomic.Int64
}

type cacheEntry struct {
	client     *Client
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Client       *Client
	Hit          bool // fresh or stale
	NeedsRefresh bool // stale, and this caller won the refresh
}

// Get returns the cached client for apiKey. On a stale entry exactly one
// caller sees NeedsRefresh until the entry is Set again.
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.entries.Load(digestKey(apiKey))
	if !ok {
		return GetResult{}
	}
	entry := val.(*cacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return GetResult{Client: entry.client, Hit: true}
	}
	return GetResult{
		Client:       entry.client,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores client for apiKey with a fresh TTL.
func (c *AuthCache) Set(apiKey string, client *Client) {
	_, loaded := c.entries.Swap(digestKey(apiKey), &cacheEntry{
		client:    client,
		expiresAt: time.Now().Add(c.ttl),
	})
	if !loaded {
		c.size.Add(1)
	}
}

// Delete drops apiKey, e.g. after the key was revoked.
func (c *AuthCache) Delete(apiKey string) {
	if _, loaded := c.entries.LoadAndDelete(digestKey(apiKey)); loaded {
		c.size.Add(-1)
	}
}

// Len reports the number of cached keys.
func (c *AuthCache) Len() int {
	return int(c.size.Load())
}
