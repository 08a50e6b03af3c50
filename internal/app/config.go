package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"relaymesh/internal/domain"
	"relaymesh/internal/pool"
	"relaymesh/internal/relay"
	"relaymesh/profile"
)

const defaultLogLevel = "NOTICE"

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stderr will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (l *Logging) validate() error {
	lvl := strings.ToUpper(l.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("%w: Logging: Level '%v' is invalid", domain.ErrInvalidConfiguration, l.Level)
	}
	l.Level = lvl
	return nil
}

// Session mirrors relay.Config. Zero fields take the library defaults.
type Session struct {
	ConnectTimeout  time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	MaxRetries      int
	ErrorThreshold  int
	LivenessTimeout time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	AckTimeout      time.Duration
}

func (s *Session) apply(c *relay.Config) {
	setDuration(&c.ConnectTimeout, s.ConnectTimeout)
	setDuration(&c.BackoffBase, s.BackoffBase)
	setDuration(&c.BackoffMax, s.BackoffMax)
	setInt(&c.MaxRetries, s.MaxRetries)
	setInt(&c.ErrorThreshold, s.ErrorThreshold)
	setDuration(&c.LivenessTimeout, s.LivenessTimeout)
	setDuration(&c.PingInterval, s.PingInterval)
	setDuration(&c.WriteTimeout, s.WriteTimeout)
	setDuration(&c.AckTimeout, s.AckTimeout)
}

// Publish is the broadcast policy for send and publish.
type Publish struct {
	// Fanout is the number of relays tried per broadcast, 0 for all.
	Fanout int
	// MinAcks is the number of relays that must acknowledge.
	MinAcks int
	Timeout time.Duration
}

// Router bounds subscription memory.
type Router struct {
	DedupWindow int
	Buffer      int
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Address to serve /metrics on, e.g. "127.0.0.1:9464". Empty disables it.
	Address string
}

// Config is the top level CLI configuration.
type Config struct {
	// Relays is the seed relay list.
	Relays []string

	Logging *Logging
	Session *Session
	Publish *Publish
	Router  *Router
	Metrics *Metrics
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	if c.Logging == nil {
		c.Logging = &Logging{Level: defaultLogLevel}
	}
	if c.Session == nil {
		c.Session = &Session{}
	}
	if c.Publish == nil {
		c.Publish = &Publish{}
	}
	if c.Router == nil {
		c.Router = &Router{}
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}
	if c.Publish.MinAcks == 0 {
		c.Publish.MinAcks = 1
	}
	if c.Publish.Timeout == 0 {
		c.Publish.Timeout = 10 * time.Second
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}
	for i, u := range c.Relays {
		n, err := pool.NormalizeURL(u)
		if err != nil {
			return err
		}
		c.Relays[i] = n
	}
	return c.ProfileConfig().Validate()
}

// ProfileConfig translates c into library configuration.
func (c *Config) ProfileConfig() profile.Config {
	pc := profile.DefaultConfig()
	c.Session.apply(&pc.Pool.Session)
	pc.Publish = pool.Policy{
		Fanout:  c.Publish.Fanout,
		MinAcks: c.Publish.MinAcks,
		Timeout: c.Publish.Timeout,
	}
	setInt(&pc.Router.DedupWindow, c.Router.DedupWindow)
	setInt(&pc.Router.Buffer, c.Router.Buffer)
	return pc
}

// Default returns a validated configuration with no relays.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)

	err := toml.Unmarshal(b, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
