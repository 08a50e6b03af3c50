package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/op/go-logging.v1"

	"relaymesh/internal/domain"
	"relaymesh/internal/event"
	"relaymesh/internal/log"
	"relaymesh/internal/metrics"
)

// Config bounds per-subscription memory.
type Config struct {
	// DedupWindow is how many event ids each subscription remembers.
	DedupWindow int
	// Buffer is the capacity of each subscription's event channel. Events
	// arriving while it is full are dropped and counted.
	Buffer int
}

// DefaultConfig returns a 4096 id window and a 256 event buffer.
func DefaultConfig() Config {
	return Config{DedupWindow: 4096, Buffer: 256}
}

// Validate rejects non-positive sizes.
func (c Config) Validate() error {
	if c.DedupWindow < 1 {
		return fmt.Errorf("%w: DedupWindow must be positive", domain.ErrInvalidConfiguration)
	}
	if c.Buffer < 1 {
		return fmt.Errorf("%w: Buffer must be positive", domain.ErrInvalidConfiguration)
	}
	return nil
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *logging.Logger) Option { return func(r *Router) { r.log = l } }

// WithMetrics records routing results in m.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Router) { r.metrics = m } }

// Router owns the active subscriptions.
type Router struct {
	cfg     Config
	log     *logging.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// New returns a router with no subscriptions.
func New(cfg Config, opts ...Option) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Router{cfg: cfg, subs: make(map[string]*Subscription)}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = log.NewDiscard().GetLogger("router")
	}
	return r, nil
}

// Subscribe registers filter under a fresh id. The caller is responsible for
// installing it on relays.
func (r *Router) Subscribe(filter domain.Filter) (*Subscription, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	seen, err := lru.New[domain.EventID, struct{}](r.cfg.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	s := &Subscription{
		id:        uuid.NewString(),
		filter:    filter,
		events:    make(chan domain.InboundEvent, r.cfg.Buffer),
		done:      make(chan struct{}),
		seen:      seen,
		installed: make(map[string]struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrClosed
	}
	r.subs[s.id] = s
	r.log.Debugf("subscription %s registered", s.id)
	return s, nil
}

// Unsubscribe stops id and returns it so the caller can close it on the
// relays it was installed on.
func (r *Router) Unsubscribe(id string) (*Subscription, bool) {
	r.mu.Lock()
	s, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.stop()
	r.log.Debugf("subscription %s removed", id)
	return s, true
}

// Lookup returns the active subscription id.
func (r *Router) Lookup(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	return s, ok
}

// Active returns the active subscriptions ordered by id.
func (r *Router) Active() []*Subscription {
	r.mu.RLock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Close stops every subscription. Later calls to Subscribe fail.
func (r *Router) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*Subscription)
	r.closed = true
	r.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

// HandleFrame routes one frame received from a relay. It is safe to call
// from many goroutines and never blocks on a subscriber.
func (r *Router) HandleFrame(in domain.InboundFrame) {
	f := in.Frame
	switch f.Type {
	case domain.FrameEvent:
		if f.Event == nil || f.SubscriptionID == "" {
			return
		}
		r.ingest(in)
	case domain.FrameEOSE:
		r.log.Debugf("%s: end of stored events for %s", in.Relay, f.SubscriptionID)
	case domain.FrameNotice:
		r.log.Infof("%s: notice: %s", in.Relay, f.Message)
	case domain.FrameClosed:
		if s, ok := r.Lookup(f.SubscriptionID); ok {
			s.Uninstall(in.Relay)
		}
		r.log.Warningf("%s: closed subscription %s: %s", in.Relay, f.SubscriptionID, f.Message)
	default:
		r.log.Debugf("%s: ignoring %s frame", in.Relay, f.Type)
	}
}

func (r *Router) ingest(in domain.InboundFrame) {
	ev := *in.Frame.Event
	s, ok := r.Lookup(in.Frame.SubscriptionID)
	if !ok || !s.filter.Matches(ev) {
		r.metrics.RouterEvent("unmatched")
		return
	}
	if s.seen.Contains(ev.ID) {
		r.metrics.RouterEvent("duplicate")
		return
	}
	if err := event.Verify(ev); err != nil {
		r.metrics.RouterEvent("invalid_signature")
		r.log.Warningf("%s: dropped event %s: %v", in.Relay, ev.ID, err)
		return
	}
	if found, _ := s.seen.ContainsOrAdd(ev.ID, struct{}{}); found {
		r.metrics.RouterEvent("duplicate")
		return
	}
	switch s.deliver(domain.InboundEvent{
		SubscriptionID: s.id,
		Relay:          in.Relay,
		Event:          ev,
		ReceivedAt:     in.ReceivedAt,
	}) {
	case deliveryQueued:
		r.metrics.RouterEvent("delivered")
		if s.overflowing.Swap(false) {
			r.log.Infof("subscription %s: consumer caught up after %d dropped events", s.id, s.Dropped())
		}
	case deliveryDropped:
		// Forget the id so a copy from another relay can still get through.
		s.seen.Remove(ev.ID)
		r.metrics.RouterEvent("overflow")
		if !s.overflowing.Swap(true) {
			r.log.Warningf("subscription %s: buffer full, dropping events until the consumer catches up", s.id)
		}
	}
}
