// Package backoff computes retry delays for the port monitor and the
// websocket client.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidConfig = errors.New("invalid backoff config")

type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
}

func (c Config) Validate() error {
	switch {
	case c.InitialDelay <= 0:
		return fmt.Errorf("%w: initial delay must be > 0", ErrInvalidConfig)
	case c.MaxDelay < 0:
		return fmt.Errorf("%w: max delay cannot be negative", ErrInvalidConfig)
	case c.Multiplier < 1:
		return fmt.Errorf("%w: multiplier must be >= 1", ErrInvalidConfig)
	case c.MaxRetries < 1:
		return fmt.Errorf("%w: max retries must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// Base is the pre-jitter delay before the retry that follows attempt.
// It never exceeds MaxDelay.
func Base(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if d > float64(cfg.MaxDelay) || math.IsInf(d, 1) {
		d = float64(cfg.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// NextDelay adds a uniform jitter in [0, MaxDelay) to Base. rnd must
// return values in [0, 1).
func NextDelay(attempt int, cfg Config, rnd func() float64) time.Duration {
	return Base(attempt, cfg) + time.Duration(rnd()*float64(cfg.MaxDelay))
}

// Reconnect is a stateful delay without jitter. It is not safe for
// concurrent use; the owner serialises access.
type Reconnect struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	current    time.Duration
}

func NewReconnect(initial, max time.Duration, multiplier float64) *Reconnect {
	return &Reconnect{initial: initial, max: max, multiplier: multiplier, current: initial}
}

func (r *Reconnect) Current() time.Duration { return r.current }

func (r *Reconnect) Initial() time.Duration { return r.initial }

// Grow multiplies the stored delay, capped at max.
func (r *Reconnect) Grow() time.Duration {
	next := time.Duration(float64(r.current) * r.multiplier)
	if next > r.max {
		next = r.max
	}
	r.current = next
	return next
}

func (r *Reconnect) Reset() { r.current = r.initial }
