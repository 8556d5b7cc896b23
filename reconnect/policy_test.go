package reconnect

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Enabled:            true,
		MaxAttempts:        3,
		InitialDelay:       5 * time.Millisecond,
		MaxDelay:           40 * time.Millisecond,
		ExponentialBackoff: true,
	}
}

func TestDelay(t *testing.T) {
	t.Run("exponential growth capped at max delay", func(t *testing.T) {
		p := NewPolicy(Config{
			Enabled:            true,
			MaxAttempts:        10,
			InitialDelay:       1000 * time.Millisecond,
			MaxDelay:           10000 * time.Millisecond,
			ExponentialBackoff: true,
		})

		expected := []time.Duration{
			1000 * time.Millisecond,
			2000 * time.Millisecond,
			4000 * time.Millisecond,
			8000 * time.Millisecond,
			10000 * time.Millisecond,
			10000 * time.Millisecond,
		}
		for attempt, want := range expected {
			p.mu.Lock()
			p.attempt = attempt
			p.mu.Unlock()
			assert.Equal(t, want, p.Delay(), "attempt %d", attempt)
		}
	})

	t.Run("backoff disabled returns initial delay", func(t *testing.T) {
		cfg := testConfig()
		cfg.ExponentialBackoff = false
		p := NewPolicy(cfg)

		p.mu.Lock()
		p.attempt = 7
		p.mu.Unlock()

		assert.Equal(t, cfg.InitialDelay, p.Delay())
	})

	t.Run("large attempt counts do not overflow", func(t *testing.T) {
		p := NewPolicy(testConfig())
		p.mu.Lock()
		p.attempt = 500
		p.mu.Unlock()
		assert.Equal(t, 40*time.Millisecond, p.Delay())
	})
}

func TestShouldRetry(t *testing.T) {
	t.Run("false when disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.Enabled = false
		assert.False(t, NewPolicy(cfg).ShouldRetry())
	})

	t.Run("false when max attempts is zero", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxAttempts = 0
		p := NewPolicy(cfg)
		assert.False(t, p.ShouldRetry())
		assert.False(t, p.Attempt(func() error { return nil }, nil))
	})

	t.Run("false once attempts are exhausted, true again after reset", func(t *testing.T) {
		p := NewPolicy(testConfig())
		p.mu.Lock()
		p.attempt = 3
		p.mu.Unlock()

		assert.False(t, p.ShouldRetry())

		p.Reset()
		assert.True(t, p.ShouldRetry())
	})

	t.Run("false while an attempt is in progress", func(t *testing.T) {
		p := NewPolicy(testConfig())
		block := make(chan struct{})
		require.True(t, p.Attempt(func() error {
			<-block
			return nil
		}, nil))

		assert.False(t, p.ShouldRetry())
		close(block)
	})
}

func TestAttempt(t *testing.T) {
	t.Run("runs retry after delay and resets on success", func(t *testing.T) {
		p := NewPolicy(testConfig())
		var calls atomic.Int32
		require.True(t, p.Attempt(func() error {
			calls.Add(1)
			return nil
		}, nil))

		require.Eventually(t, func() bool {
			return calls.Load() == 1
		}, time.Second, time.Millisecond)

		require.Eventually(t, func() bool {
			s := p.Snapshot()
			return s.Attempt == 0 && !s.InProgress
		}, time.Second, time.Millisecond)
	})

	t.Run("failure keeps the attempt count so delays grow", func(t *testing.T) {
		p := NewPolicy(testConfig())
		failed := make(chan struct{})
		require.True(t, p.Attempt(func() error {
			defer close(failed)
			return errors.New("still down")
		}, nil))

		<-failed
		require.Eventually(t, func() bool {
			return !p.Snapshot().InProgress
		}, time.Second, time.Millisecond)

		s := p.Snapshot()
		assert.Equal(t, 1, s.Attempt)
		assert.Equal(t, 10*time.Millisecond, p.Delay())
	})

	t.Run("only one retry outstanding at a time", func(t *testing.T) {
		p := NewPolicy(testConfig())
		block := make(chan struct{})
		require.True(t, p.Attempt(func() error {
			<-block
			return nil
		}, nil))
		assert.False(t, p.Attempt(func() error { return nil }, nil))
		close(block)
	})

	t.Run("done callback observes settled bookkeeping", func(t *testing.T) {
		p := NewPolicy(testConfig())
		settled := make(chan State, 1)
		require.True(t, p.Attempt(func() error {
			return errors.New("down")
		}, func(err error) {
			assert.Error(t, err)
			settled <- p.Snapshot()
		}))

		s := <-settled
		assert.Equal(t, 1, s.Attempt)
		assert.False(t, s.InProgress)
		assert.True(t, p.ShouldRetry())
	})

	t.Run("exhausts after max attempts", func(t *testing.T) {
		p := NewPolicy(testConfig())
		for i := 0; i < 3; i++ {
			done := make(chan struct{})
			require.True(t, p.Attempt(func() error {
				defer close(done)
				return errors.New("down")
			}, nil), "attempt %d", i+1)
			<-done
			require.Eventually(t, func() bool {
				return !p.Snapshot().InProgress
			}, time.Second, time.Millisecond)
		}
		assert.False(t, p.Attempt(func() error { return nil }, nil))
		assert.Equal(t, 3, p.Snapshot().Attempt)
	})
}

func TestCancel(t *testing.T) {
	t.Run("pending retry never fires after cancel", func(t *testing.T) {
		cfg := testConfig()
		cfg.InitialDelay = 30 * time.Millisecond
		p := NewPolicy(cfg)

		var calls atomic.Int32
		require.True(t, p.Attempt(func() error {
			calls.Add(1)
			return nil
		}, nil))
		p.Cancel()

		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())
		assert.False(t, p.Snapshot().InProgress)
	})

	t.Run("idempotent", func(t *testing.T) {
		p := NewPolicy(testConfig())
		p.Cancel()
		p.Cancel()
		assert.False(t, p.Snapshot().InProgress)
	})

	t.Run("disabling cancels a pending retry", func(t *testing.T) {
		cfg := testConfig()
		cfg.InitialDelay = 30 * time.Millisecond
		p := NewPolicy(cfg)

		var calls atomic.Int32
		require.True(t, p.Attempt(func() error {
			calls.Add(1)
			return nil
		}, nil))
		p.SetEnabled(false)

		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())
		assert.False(t, p.Enabled())
		assert.False(t, p.ShouldRetry())
	})
}
