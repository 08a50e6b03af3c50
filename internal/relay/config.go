package relay

import (
	"fmt"
	"math/rand/v2"
	"time"

	"relaymesh/internal/domain"
)

// Config tunes a Session.
type Config struct {
	ConnectTimeout  time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	MaxRetries      int
	ErrorThreshold  int
	LivenessTimeout time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	AckTimeout      time.Duration
	InboundBuffer   int
}

// DefaultConfig returns conservative settings for public relays.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		BackoffBase:     500 * time.Millisecond,
		BackoffMax:      30 * time.Second,
		MaxRetries:      5,
		ErrorThreshold:  3,
		LivenessTimeout: 60 * time.Second,
		PingInterval:    20 * time.Second,
		WriteTimeout:    10 * time.Second,
		AckTimeout:      10 * time.Second,
		InboundBuffer:   256,
	}
}

// Validate rejects settings the session cannot run with.
func (c Config) Validate() error {
	positive := map[string]time.Duration{
		"ConnectTimeout":  c.ConnectTimeout,
		"BackoffBase":     c.BackoffBase,
		"BackoffMax":      c.BackoffMax,
		"LivenessTimeout": c.LivenessTimeout,
		"PingInterval":    c.PingInterval,
		"WriteTimeout":    c.WriteTimeout,
		"AckTimeout":      c.AckTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%w: relay %s must be positive", domain.ErrInvalidConfiguration, name)
		}
	}
	if c.BackoffBase > c.BackoffMax {
		return fmt.Errorf("%w: relay BackoffBase exceeds BackoffMax", domain.ErrInvalidConfiguration)
	}
	if c.PingInterval >= c.LivenessTimeout {
		return fmt.Errorf("%w: relay PingInterval must be shorter than LivenessTimeout", domain.ErrInvalidConfiguration)
	}
	if c.MaxRetries < 1 || c.ErrorThreshold < 1 {
		return fmt.Errorf("%w: relay MaxRetries and ErrorThreshold must be at least 1", domain.ErrInvalidConfiguration)
	}
	if c.InboundBuffer < 0 {
		return fmt.Errorf("%w: relay InboundBuffer is negative", domain.ErrInvalidConfiguration)
	}
	return nil
}

// Backoff returns the delay before retry n (1-based): base doubled per
// failure and capped at max, with the upper half of the delay randomised.
func Backoff(base, max time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d-half)+1))
}
