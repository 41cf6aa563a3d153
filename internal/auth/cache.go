package auth

import (
	"crypto/sha256"
	"sync"
	"time"
)

// VerifyCache memoizes successful key verifications so the Argon2id
// derivation runs once per key per TTL window instead of on every request.
// Only SHA-256 digests of keys are stored, never the keys themselves, and
// only keys that already verified; a rejected key is never cached.
type VerifyCache struct {
	mu      sync.Mutex
	entries map[[sha256.Size]byte]time.Time
	ttl     time.Duration
}

// NewVerifyCache creates a cache whose entries expire after ttl.
func NewVerifyCache(ttl time.Duration) *VerifyCache {
	return &VerifyCache{
		entries: make(map[[sha256.Size]byte]time.Time),
		ttl:     ttl,
	}
}

// Seen reports whether key verified successfully within the TTL window.
func (c *VerifyCache) Seen(key string) bool {
	digest := sha256.Sum256([]byte(key))

	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt, ok := c.entries[digest]
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		delete(c.entries, digest)
		return false
	}
	return true
}

// Remember records a successful verification. Expired entries are swept on
// write; the map stays bounded by the number of distinct valid keys.
func (c *VerifyCache) Remember(key string) {
	digest := sha256.Sum256([]byte(key))
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for d, expiresAt := range c.entries {
		if now.After(expiresAt) {
			delete(c.entries, d)
		}
	}
	c.entries[digest] = now.Add(c.ttl)
}
