package middleware

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CooldownGate decides whether a user may trigger a generation now
type CooldownGate interface {
	InCooldown(userID string) bool
	RecordUse(userID string)
}

// Cooldown implements a per-user cooldown window keyed by last successful use.
// Entries are never evicted; the map grows with the number of distinct users.
type Cooldown struct {
	mu      sync.RWMutex
	window  time.Duration
	lastUse map[string]time.Time
	logger  *logrus.Logger
	now     func() time.Time
}

// NewCooldown creates a cooldown gate. A window of zero or less disables gating.
func NewCooldown(window time.Duration, logger *logrus.Logger) *Cooldown {
	return &Cooldown{
		window:  window,
		lastUse: make(map[string]time.Time),
		logger:  logger,
		now:     time.Now,
	}
}

// InCooldown reports whether userID used the generator within the window.
// It never mutates state.
func (c *Cooldown) InCooldown(userID string) bool {
	return c.Remaining(userID) > 0
}

// Remaining returns how long userID still has to wait, or zero
func (c *Cooldown) Remaining(userID string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.window <= 0 {
		return 0
	}

	last, exists := c.lastUse[userID]
	if !exists {
		return 0
	}

	remaining := c.window - c.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordUse stamps the current time as userID's last use
func (c *Cooldown) RecordUse(userID string) {
	c.mu.Lock()
	c.lastUse[userID] = c.now()
	c.mu.Unlock()
}

// Reset clears the cooldown of a single user
func (c *Cooldown) Reset(userID string) {
	c.mu.Lock()
	delete(c.lastUse, userID)
	c.mu.Unlock()
}

// ResetAll clears every user's cooldown
func (c *Cooldown) ResetAll() {
	c.mu.Lock()
	count := len(c.lastUse)
	c.lastUse = make(map[string]time.Time)
	c.mu.Unlock()

	c.logger.WithField("users", count).Info("Cooldowns cleared")
}

// SetWindow changes the cooldown window for subsequent checks
func (c *Cooldown) SetWindow(window time.Duration) {
	c.mu.Lock()
	c.window = window
	c.mu.Unlock()
}

// Window returns the configured cooldown window
func (c *Cooldown) Window() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.window
}

// Users returns the number of tracked users
func (c *Cooldown) Users() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lastUse)
}
