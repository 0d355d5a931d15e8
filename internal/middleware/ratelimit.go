package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/meme-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultLimiterIdle    = time.Hour
	defaultLimiterCleanup = 10 * time.Minute
)

// RateLimiter bounds how often the bot posts into one chat
type RateLimiter interface {
	Allow(chatID int64) bool
	Reset(chatID int64)
}

type chatLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ChatRateLimiter implements per-chat token buckets
type ChatRateLimiter struct {
	enabled  bool
	limit    rate.Limit
	burst    int
	idle     time.Duration
	mu       sync.Mutex
	limiters map[int64]*chatLimiter
	logger   *logrus.Logger
	now      func() time.Time
}

// NewRateLimiter creates the limiter. Call Run to evict idle chats.
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) *ChatRateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &ChatRateLimiter{
		enabled:  cfg.Enabled && cfg.RequestsPerMinute > 0,
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:    burst,
		idle:     defaultLimiterIdle,
		limiters: make(map[int64]*chatLimiter),
		logger:   logger,
		now:      time.Now,
	}
}

// Allow reports whether the bot may post into chatID now, consuming a token if so
func (r *ChatRateLimiter) Allow(chatID int64) bool {
	if !r.enabled {
		return true
	}

	r.mu.Lock()
	entry, ok := r.limiters[chatID]
	if !ok {
		entry = &chatLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[chatID] = entry
	}
	now := r.now()
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)
	r.mu.Unlock()

	if !allowed {
		r.logger.WithField("chat_id", chatID).Warn("Chat rate limit exceeded")
	}
	return allowed
}

// Reset forgets the bucket of chatID
func (r *ChatRateLimiter) Reset(chatID int64) {
	r.mu.Lock()
	delete(r.limiters, chatID)
	r.mu.Unlock()
}

// Run evicts chats idle for longer than an hour until ctx is done
func (r *ChatRateLimiter) Run(ctx context.Context) {
	if !r.enabled {
		return
	}

	ticker := time.NewTicker(defaultLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *ChatRateLimiter) evictIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	evicted := 0
	for id, entry := range r.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(r.limiters, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.WithField("evicted", evicted).Debug("Evicted idle chat limiters")
	}
	return evicted
}
