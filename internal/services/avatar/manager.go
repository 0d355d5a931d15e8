package avatar

import (
	"context"
	"sync"
	"time"

	"github.com/meme-tgbot-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

const defaultRetryDelay = 5 * time.Minute

// Sweeper removes expired entries from a store
type Sweeper interface {
	RemoveExpired() (SweepResult, error)
}

// Status describes the cleanup loop
type Status struct {
	Running       bool      `json:"running"`
	IntervalHours float64   `json:"interval_hours"`
	LastRun       time.Time `json:"last_run,omitempty"`
	LastRemoved   int       `json:"last_removed"`
	LastError     string    `json:"last_error,omitempty"`
}

// Manager runs periodic sweeps over the avatar cache
type Manager struct {
	sweeper    Sweeper
	interval   time.Duration
	retryDelay time.Duration
	logger     *logrus.Logger
	metrics    *middleware.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// sweepMu serializes loop sweeps with ForceCleanup
	sweepMu     sync.Mutex
	lastRun     time.Time
	lastRemoved int
	lastErr     error
}

// NewManager creates a stopped cleanup manager
func NewManager(sweeper Sweeper, interval time.Duration, logger *logrus.Logger, metrics *middleware.Metrics) *Manager {
	return &Manager{
		sweeper:    sweeper,
		interval:   interval,
		retryDelay: defaultRetryDelay,
		logger:     logger,
		metrics:    metrics,
	}
}

// Start launches the cleanup loop. Calling Start on a running manager does nothing.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// a manager being stopped has no cancel func and may be restarted
	if m.cancel != nil && m.running() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.run(ctx, done)

	m.logger.WithField("interval", m.interval).Info("Avatar cache cleaner started")
}

// Stop cancels the pending wait and blocks until an in-flight sweep finishes.
// Concurrent callers all wait for the loop to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if done == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-done

	if cancel != nil {
		m.logger.Info("Avatar cache cleaner stopped")
	}
}

// running must be called with mu held
func (m *Manager) running() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	wait := m.interval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := m.sweep(); err != nil {
			m.logger.WithError(err).WithField("retry_in", m.retryDelay).Error("Avatar cache sweep failed")
			wait = m.retryDelay
			continue
		}
		wait = m.interval
	}
}

func (m *Manager) sweep() (SweepResult, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	result, err := m.sweeper.RemoveExpired()

	m.lastRun = time.Now()
	m.lastRemoved = result.Removed
	m.lastErr = err

	if err != nil {
		m.metrics.RecordSweep("error", result.Removed, result.Bytes)
		return result, err
	}

	m.metrics.RecordSweep("ok", result.Removed, result.Bytes)
	if result.Removed > 0 {
		m.logger.WithFields(logrus.Fields{
			"removed": result.Removed,
			"bytes":   result.Bytes,
		}).Info("Removed expired avatars")
	} else {
		m.logger.Debug("No expired avatars")
	}

	return result, nil
}

// ForceCleanup runs one sweep immediately
func (m *Manager) ForceCleanup() (SweepResult, error) {
	return m.sweep()
}

// Status reports whether the loop is running and the outcome of the last sweep
func (m *Manager) Status() Status {
	m.mu.Lock()
	running := m.running()
	m.mu.Unlock()

	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	status := Status{
		Running:       running,
		IntervalHours: m.interval.Hours(),
		LastRun:       m.lastRun,
		LastRemoved:   m.lastRemoved,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}
