package preprocess

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zentral/zentral/internal/domain"
)

// Cache defaults.
const (
	DefaultCacheSize = 32
	DefaultCacheTTL  = 10 * time.Minute
)

// SessionLookup finds the enrollment session of a secret.
type SessionLookup interface {
	GetEnrollmentSessionBySecret(ctx context.Context, secret string) (*domain.EnrollmentSession, error)
}

// SerialCache resolves enrollment secrets to machine serial numbers. Hits
// are kept in a bounded LRU and expire after a TTL; misses are not cached.
// A rotated or revoked secret may still resolve until Invalidate is called
// or its entry expires.
type SerialCache struct {
	lookup SessionLookup
	lru    *expirable.LRU[string, string]
}

// NewSerialCache creates a new SerialCache.
func NewSerialCache(lookup SessionLookup, size int, ttl time.Duration) *SerialCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &SerialCache{
		lookup: lookup,
		lru:    expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// SerialNumber returns the first serial number bound to the enrollment
// session of secret. ok is false when there is no such session or it has no
// serial number.
func (c *SerialCache) SerialNumber(ctx context.Context, secret string) (serial string, ok bool, err error) {
	if serial, ok := c.lru.Get(secret); ok {
		return serial, true, nil
	}
	session, err := c.lookup.GetEnrollmentSessionBySecret(ctx, secret)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting enrollment session: %w", err)
	}
	if len(session.SerialNumbers) == 0 {
		return "", false, nil
	}
	serial = session.SerialNumbers[0]
	c.lru.Add(secret, serial)
	return serial, true, nil
}

// Invalidate drops the cached serial number of secret.
func (c *SerialCache) Invalidate(secret string) {
	c.lru.Remove(secret)
}

// Len returns the number of cached secrets.
func (c *SerialCache) Len() int {
	return c.lru.Len()
}
