package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DeadTokenCache remembers access tokens that recently failed session
// lookup, so repeated retries with the same dead token short-circuit before
// the database. Tokens are signed per login and never become valid again
// once rejected, which is what makes negative caching safe here.
type DeadTokenCache interface {
	Seen(ctx context.Context, token string) (bool, error)
	Mark(ctx context.Context, token string, ttl time.Duration) error
	Purge(ctx context.Context) error
}

type InMemoryDeadTokenCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewInMemoryDeadTokenCache() *InMemoryDeadTokenCache {
	return &InMemoryDeadTokenCache{entries: make(map[string]time.Time)}
}

func (c *InMemoryDeadTokenCache) Seen(_ context.Context, token string) (bool, error) {
	key := hashToken(token)
	c.mu.RLock()
	expiresAt, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryDeadTokenCache) Mark(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[hashToken(token)] = time.Now().Add(ttl)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryDeadTokenCache) Purge(context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]time.Time)
	c.mu.Unlock()
	return nil
}

// hashToken keeps raw bearer tokens out of cache keys.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
