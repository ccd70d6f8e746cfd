// Package presence answers "is this person online right now", with a
// read-through cache in front of the chat platform lookup.
package presence

import (
	"context"
	"sync"
	"time"
)

const DefaultExpiry = 10 * time.Minute

type Provider interface {
	Presence(ctx context.Context, externalID string) (bool, error)
}

// StatusSource returns the raw presence string reported by the chat platform.
type StatusSource interface {
	UserPresence(ctx context.Context, externalID string) (string, error)
}

type statusProvider struct {
	src StatusSource
}

// FromStatusSource treats "active" as present and anything else as away.
func FromStatusSource(src StatusSource) Provider {
	return statusProvider{src: src}
}

func (p statusProvider) Presence(ctx context.Context, externalID string) (bool, error) {
	status, err := p.src.UserPresence(ctx, externalID)
	if err != nil {
		return false, err
	}
	return status == "active", nil
}

type entry struct {
	present   bool
	fetchedAt time.Time
}

// Cache decorates a Provider. Entries are refreshed once older than the
// expiry and are never evicted otherwise. Errors are not cached.
type Cache struct {
	provider Provider
	expiry   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func NewCache(provider Provider, expiry time.Duration, opts ...Option) *Cache {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	c := &Cache{
		provider: provider,
		expiry:   expiry,
		now:      time.Now,
		entries:  make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Presence(ctx context.Context, externalID string) (bool, error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[externalID]
	c.mu.Unlock()
	if ok && now.Sub(e.fetchedAt) <= c.expiry {
		return e.present, nil
	}

	// The lock is not held across the provider call; two concurrent misses
	// for the same id both fetch and the later write wins.
	present, err := c.provider.Presence(ctx, externalID)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.entries[externalID] = entry{present: present, fetchedAt: now}
	c.mu.Unlock()
	return present, nil
}
