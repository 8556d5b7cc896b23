package reconnect

import (
	"log/slog"
	"sync"
	"time"
)

// Config controls retry behavior.
type Config struct {
	// Enabled gates all automatic retries.
	Enabled bool
	// MaxAttempts is the number of retries before giving up. Zero means
	// retries are never attempted.
	MaxAttempts int
	// InitialDelay is the delay before the first retry, and the fixed
	// delay when ExponentialBackoff is off.
	InitialDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// ExponentialBackoff doubles the delay on every failed attempt.
	ExponentialBackoff bool
}

// DefaultConfig returns the stock policy: 10 attempts, 1s initial delay
// doubling up to 30s.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		MaxAttempts:        10,
		InitialDelay:       time.Second,
		MaxDelay:           30 * time.Second,
		ExponentialBackoff: true,
	}
}

// State is a read-only snapshot of the policy.
type State struct {
	Enabled    bool
	Attempt    int
	InProgress bool
}

// Policy schedules reconnection attempts. At most one retry is outstanding
// at a time; the attempt counter resets only on a confirmed successful
// connection and is never rolled back on failure, so delays keep growing.
type Policy struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger

	attempt    int
	inProgress bool
	timer      *time.Timer
}

// PolicyOption configures the Policy.
type PolicyOption func(*Policy)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PolicyOption {
	return func(p *Policy) {
		p.logger = logger
	}
}

// NewPolicy creates a policy from the given config.
func NewPolicy(cfg Config, options ...PolicyOption) *Policy {
	p := &Policy{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Delay returns the delay for the current attempt:
// min(initialDelay * 2^attempt, maxDelay), or initialDelay when backoff is
// disabled. Pure read, no side effects.
func (p *Policy) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delayLocked()
}

func (p *Policy) delayLocked() time.Duration {
	if !p.cfg.ExponentialBackoff {
		return p.cfg.InitialDelay
	}
	delay := p.cfg.InitialDelay
	for i := 0; i < p.attempt; i++ {
		delay *= 2
		if delay >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	if delay > p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether another attempt may be scheduled.
func (p *Policy) ShouldRetry() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldRetryLocked()
}

func (p *Policy) shouldRetryLocked() bool {
	return p.cfg.Enabled && p.attempt < p.cfg.MaxAttempts && !p.inProgress
}

// Attempt schedules retry after the current backoff delay. It returns
// false without scheduling when ShouldRetry is false. On retry success the
// attempt counter resets to zero; on failure only the in-progress flag
// clears, so the next delay continues to grow.
//
// The optional done callback runs after the attempt has settled and the
// bookkeeping above is applied, receiving the retry error. Callers chain
// consecutive attempts from done; chaining from inside retry would observe
// the attempt still in progress.
func (p *Policy) Attempt(retry func() error, done func(error)) bool {
	p.mu.Lock()
	if !p.shouldRetryLocked() {
		p.mu.Unlock()
		return false
	}

	delay := p.delayLocked()
	p.attempt++
	p.inProgress = true
	attempt := p.attempt

	p.logger.Info("scheduling reconnect attempt",
		"attempt", attempt,
		"maxAttempts", p.cfg.MaxAttempts,
		"delay", delay)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		if p.timer != timer {
			// Cancelled between firing and running.
			p.mu.Unlock()
			return
		}
		p.timer = nil
		p.mu.Unlock()

		err := retry()

		p.mu.Lock()
		p.inProgress = false
		if err == nil {
			p.attempt = 0
		}
		p.mu.Unlock()

		if err != nil {
			p.logger.Warn("reconnect attempt failed",
				"attempt", attempt,
				"error", err)
		}
		if done != nil {
			done(err)
		}
	})
	p.timer = timer
	p.mu.Unlock()
	return true
}

// Reset clears the attempt counter after a confirmed successful
// connection.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempt = 0
	p.inProgress = false
	p.stopTimerLocked()
}

// Cancel stops any pending retry timer and clears the in-progress flag.
// Idempotent.
func (p *Policy) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
	p.inProgress = false
}

func (p *Policy) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// SetEnabled toggles automatic retries. Disabling cancels any pending
// retry.
func (p *Policy) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.cfg.Enabled = enabled
	if !enabled {
		p.stopTimerLocked()
		p.inProgress = false
	}
	p.mu.Unlock()
}

// Enabled reports whether automatic retries are on.
func (p *Policy) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Enabled
}

// Snapshot returns the current policy state.
func (p *Policy) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Enabled:    p.cfg.Enabled,
		Attempt:    p.attempt,
		InProgress: p.inProgress,
	}
}
