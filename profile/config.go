package profile

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"relaymesh/internal/domain"
	"relaymesh/internal/log"
	"relaymesh/internal/pool"
	"relaymesh/internal/router"
	"relaymesh/internal/transport"
)

// Config tunes a Profile.
type Config struct {
	Pool   pool.Config
	Router router.Config

	// Publish governs SendEncryptedMessage and Publish. MinAcks has no
	// default and must be set.
	Publish pool.Policy

	// SubscribeTimeout bounds installing a subscription on the relays that
	// are connected when it is created.
	SubscribeTimeout time.Duration

	// ChannelCache is the number of peers whose shared secrets are kept.
	ChannelCache int
}

// DefaultConfig returns defaults for everything except Publish.MinAcks.
func DefaultConfig() Config {
	return Config{
		Pool:             pool.DefaultConfig(),
		Router:           router.DefaultConfig(),
		Publish:          pool.Policy{Timeout: 10 * time.Second},
		SubscribeTimeout: 10 * time.Second,
		ChannelCache:     256,
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Pool.Session.Validate(); err != nil {
		return err
	}
	if err := c.Router.Validate(); err != nil {
		return err
	}
	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish policy: %w", err)
	}
	if c.SubscribeTimeout <= 0 {
		return fmt.Errorf("%w: SubscribeTimeout must be positive", domain.ErrInvalidConfiguration)
	}
	return nil
}

// Option configures CreateProfile.
type Option func(*options)

type options struct {
	cfg        Config
	dialer     transport.Dialer
	logBackend *log.Backend
	registerer prometheus.Registerer
	clock      clock.Clock
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option { return func(o *options) { o.cfg = cfg } }

// WithDialer replaces the websocket dialer.
func WithDialer(d transport.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithLogBackend routes all logs of the profile to b.
func WithLogBackend(b *log.Backend) Option { return func(o *options) { o.logBackend = b } }

// WithMetricsRegisterer registers the profile's collectors on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock is for tests.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }
