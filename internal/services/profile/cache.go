package profile

import (
	"context"
	"time"

	"github.com/meme-tgbot-go/internal/models"
	"github.com/meme-tgbot-go/internal/services/collector"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// entry records a lookup result, including misses
type entry struct {
	profile  *models.Profile
	found    bool
	cachedAt time.Time
}

// Cache memoizes profile lookups for a fixed TTL
type Cache struct {
	inner   collector.ProfileResolver
	enabled bool
	entries *cache.Cache
	logger  *logrus.Logger
}

// NewCache wraps inner. A ttl of zero or less disables memoization.
func NewCache(inner collector.ProfileResolver, ttl time.Duration, logger *logrus.Logger) *Cache {
	if ttl <= 0 {
		return &Cache{inner: inner, logger: logger}
	}
	return &Cache{
		inner:   inner,
		enabled: true,
		entries: cache.New(ttl, ttl*2),
		logger:  logger,
	}
}

// Resolve returns the memoized profile or asks the wrapped resolver
func (c *Cache) Resolve(ctx context.Context, ev *models.Event, userID string) (*models.Profile, bool) {
	if c.inner == nil {
		return nil, false
	}
	if !c.enabled {
		return c.inner.Resolve(ctx, ev, userID)
	}

	key := ev.Platform + ":" + userID
	if val, ok := c.entries.Get(key); ok {
		e := val.(*entry)
		c.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"age":     time.Since(e.cachedAt),
		}).Debug("Profile cache hit")
		return e.profile, e.found
	}

	profile, found := c.inner.Resolve(ctx, ev, userID)
	if ctx.Err() != nil {
		// a cancelled lookup says nothing about the user
		return profile, found
	}
	c.entries.SetDefault(key, &entry{profile: profile, found: found, cachedAt: time.Now()})
	return profile, found
}

// Clear drops every memoized profile
func (c *Cache) Clear() {
	if !c.enabled {
		return
	}
	c.entries.Flush()
	c.logger.Info("Profile cache cleared")
}

// Len returns the number of memoized lookups
func (c *Cache) Len() int {
	if !c.enabled {
		return 0
	}
	return c.entries.ItemCount()
}
