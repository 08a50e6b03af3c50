package pool

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"relaymesh/internal/domain"
	"relaymesh/internal/log"
	"relaymesh/internal/metrics"
	"relaymesh/internal/relay"
	"relaymesh/internal/transport"
)

// OperationKind is what a selection is for.
type OperationKind int

const (
	OpPublish OperationKind = iota
	OpSubscribe
)

func (k OperationKind) String() string {
	if k == OpSubscribe {
		return "subscribe"
	}
	return "publish"
}

// Handler receives what the pool's sessions produce.
type Handler interface {
	// HandleFrame is called for every inbound frame, from one goroutine per
	// session.
	HandleFrame(in domain.InboundFrame)
	// HandleConnected is called on the session goroutine each time a
	// session becomes Connected, before it serves any other request.
	HandleConnected(s *relay.Session)
}

// Config tunes a Pool.
type Config struct {
	Session relay.Config
	Weights Weights
}

// DefaultConfig returns DefaultConfig for sessions and DefaultWeights.
func DefaultConfig() Config {
	return Config{Session: relay.DefaultConfig(), Weights: DefaultWeights()}
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces the wall clock used for scoring and by every session.
func WithClock(c clock.Clock) Option { return func(p *Pool) { p.clock = c } }

// WithMetrics records pool and session metrics in m.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pool) { p.metrics = m } }

// WithLogBackend routes pool and session logs to b.
func WithLogBackend(b *log.Backend) Option {
	return func(p *Pool) {
		p.log = b.GetLogger("pool")
		p.sessionLog = b.GetLogger("relay")
	}
}

// Pool owns a set of relay sessions keyed by normalised URL.
type Pool struct {
	cfg        Config
	dialer     transport.Dialer
	handler    Handler
	clock      clock.Clock
	log        *logging.Logger
	sessionLog *logging.Logger
	metrics    *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*relay.Session
	closed   bool
	wg       sync.WaitGroup
}

// New returns an empty pool. h may be nil.
func New(cfg Config, dialer transport.Dialer, h Handler, opts ...Option) (*Pool, error) {
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, fmt.Errorf("%w: pool needs a dialer", domain.ErrInvalidConfiguration)
	}
	p := &Pool{
		cfg:      cfg,
		dialer:   dialer,
		handler:  h,
		clock:    clock.New(),
		sessions: make(map[string]*relay.Session),
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		WithLogBackend(log.NewDiscard())(p)
	}
	return p, nil
}

// NormalizeURL validates a relay URL and returns its canonical form.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: relay url %q: %v", domain.ErrInvalidConfiguration, raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: relay url %q: scheme must be ws or wss", domain.ErrInvalidConfiguration, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: relay url %q: missing host", domain.ErrInvalidConfiguration, raw)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" {
		u.Path = ""
	}
	u.Fragment = ""
	return u.String(), nil
}

// Add starts a session for rawURL. Adding a URL already present is a no-op.
func (p *Pool) Add(rawURL string) error {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrClosed
	}
	if _, ok := p.sessions[u]; ok {
		p.mu.Unlock()
		return nil
	}
	s, err := relay.NewSession(u, p.cfg.Session, p.dialer,
		relay.WithClock(p.clock),
		relay.WithLogger(p.sessionLog),
		relay.WithMetrics(p.metrics),
		relay.WithStateHook(p.onState),
	)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.sessions[u] = s
	p.wg.Add(1)
	p.mu.Unlock()

	go p.forward(s)
	s.Start()
	p.log.Infof("added relay %s", u)
	return nil
}

// Remove closes and forgets the session for rawURL.
func (p *Pool) Remove(rawURL string) error {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	p.mu.Lock()
	s, ok := p.sessions[u]
	delete(p.sessions, u)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownRelay, u)
	}
	err = s.Close()
	p.metrics.ForgetRelay(u)
	p.log.Infof("removed relay %s", u)
	return err
}

// Session returns the session for rawURL.
func (p *Pool) Session(rawURL string) (*relay.Session, bool) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[u]
	return s, ok
}

// Sessions returns every session ordered by URL.
func (p *Pool) Sessions() []*relay.Session {
	p.mu.RLock()
	out := make([]*relay.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL() < out[j].URL() })
	return out
}

// Endpoints returns a health snapshot of every session ordered by URL.
func (p *Pool) Endpoints() []relay.Endpoint {
	sessions := p.Sessions()
	out := make([]relay.Endpoint, len(sessions))
	for i, s := range sessions {
		out[i] = s.Endpoint()
	}
	return out
}

// Score returns the current health score of ep.
func (p *Pool) Score(ep relay.Endpoint) float64 {
	return Score(ep, p.clock.Now(), p.cfg.Weights)
}

// Select returns up to k sessions for kind, best first. k <= 0 means all
// eligible sessions.
func (p *Pool) Select(kind OperationKind, k int) []*relay.Session {
	type candidate struct {
		s     *relay.Session
		url   string
		tier  int
		score float64
	}
	now := p.clock.Now()
	var cands []candidate
	for _, s := range p.Sessions() {
		ep := s.Endpoint()
		t := tier(kind, ep.State)
		if t < 0 {
			continue
		}
		cands = append(cands, candidate{s: s, url: ep.URL, tier: t, score: Score(ep, now, p.cfg.Weights)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.score != b.score {
			return a.score < b.score
		}
		return a.url < b.url
	})
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	out := make([]*relay.Session, len(cands))
	for i, c := range cands {
		out[i] = c.s
	}
	return out
}

// Close stops every session. The pool cannot be reused.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sessions := make([]*relay.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*relay.Session)
	p.mu.Unlock()

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  error
	)
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.Close(); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.URL(), err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	p.wg.Wait()
	return errs
}

func (p *Pool) forward(s *relay.Session) {
	defer p.wg.Done()
	for in := range s.Frames() {
		if p.handler != nil {
			p.handler.HandleFrame(in)
		}
	}
}

func (p *Pool) onState(s *relay.Session, _, to relay.State) {
	if to == relay.StateConnected && p.handler != nil {
		p.handler.HandleConnected(s)
	}
}

func withDefaultTimeout(ctx context.Context, c clock.Clock, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return c.WithTimeout(ctx, d)
}
