package relayserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	"relaymesh/internal/domain"
	"relaymesh/internal/event"
	"relaymesh/internal/log"
	"relaymesh/internal/transport"
)

const (
	defaultMaxEvents = 10000
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Option configures a Relay.
type Option func(*Relay)

// WithMaxEvents bounds the stored event window.
func WithMaxEvents(n int) Option { return func(r *Relay) { r.maxEvents = n } }

// WithQueueSize bounds each connection's outbound queue.
func WithQueueSize(n int) Option { return func(r *Relay) { r.queueSize = n } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(r *Relay) { r.log = l } }

// Relay is an in-memory relay. The zero value is not usable; call New.
type Relay struct {
	log       *logging.Logger
	maxEvents int
	queueSize int
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	events  []domain.Event
	ids     map[domain.EventID]struct{}
	clients map[*client]struct{}
}

// New returns an empty relay.
func New(opts ...Option) *Relay {
	r := &Relay{
		maxEvents: defaultMaxEvents,
		queueSize: defaultQueueSize,
		ids:       make(map[domain.EventID]struct{}),
		clients:   make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = log.NewDiscard().GetLogger("relayserver")
	}
	r.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	return r
}

type client struct {
	conn transport.Conn
	out  chan domain.Frame
	done chan struct{}

	mu   sync.Mutex
	subs map[string]domain.Filter
}

func (c *client) enqueue(f domain.Frame) bool {
	select {
	case c.out <- f:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *client) matching(ev domain.Event) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, f := range c.subs {
		if f.Matches(ev) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ServeHTTP upgrades the request to a websocket and serves it.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Debugf("upgrade from %s failed: %v", req.RemoteAddr, err)
		return
	}
	r.log.Debugf("connection from %s", req.RemoteAddr)
	r.ServeConn(transport.NewWebsocketConn(ws))
}

// ServeConn serves one connection until it fails or is dropped.
func (r *Relay) ServeConn(conn transport.Conn) {
	c := &client{
		conn: conn,
		out:  make(chan domain.Frame, r.queueSize),
		done: make(chan struct{}),
		subs: make(map[string]domain.Filter),
	}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.writer(c)
	}()

	defer func() {
		r.mu.Lock()
		delete(r.clients, c)
		r.mu.Unlock()
		close(c.done)
		_ = conn.Close()
		wg.Wait()
	}()

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, transport.ErrMalformedFrame) {
				c.enqueue(domain.Frame{Type: domain.FrameNotice, Message: "error: " + err.Error()})
				continue
			}
			return
		}
		r.handle(c, f)
	}
}

func (r *Relay) writer(c *client) {
	for {
		select {
		case f := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.WriteFrame(ctx, f)
			cancel()
			if err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (r *Relay) handle(c *client, f domain.Frame) {
	switch {
	case f.IsPublish():
		r.publish(c, *f.Event)
	case f.Type == domain.FrameReq:
		c.mu.Lock()
		c.subs[f.SubscriptionID] = *f.Filter
		c.mu.Unlock()
		for _, ev := range r.query(*f.Filter) {
			c.enqueue(domain.Frame{Type: domain.FrameEvent, SubscriptionID: f.SubscriptionID, Event: &ev})
		}
		c.enqueue(domain.Frame{Type: domain.FrameEOSE, SubscriptionID: f.SubscriptionID})
	case f.Type == domain.FrameClose:
		c.mu.Lock()
		delete(c.subs, f.SubscriptionID)
		c.mu.Unlock()
	default:
		c.enqueue(domain.Frame{Type: domain.FrameNotice, Message: "unsupported: " + string(f.Type)})
	}
}

func (r *Relay) publish(c *client, ev domain.Event) {
	if err := event.Verify(ev); err != nil {
		r.log.Debugf("rejected %s: %v", ev.ID, err)
		c.enqueue(okFrame(ev.ID, false, "invalid: "+err.Error()))
		return
	}
	if !r.store(ev) {
		c.enqueue(okFrame(ev.ID, true, "duplicate: already have this event"))
		return
	}
	c.enqueue(okFrame(ev.ID, true, ""))
	r.fanout(ev)
}

// Inject stores ev and fans it out without verifying it, the way a
// misbehaving relay would.
func (r *Relay) Inject(ev domain.Event) {
	if r.store(ev) {
		r.fanout(ev)
	}
}

func (r *Relay) store(ev domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[ev.ID]; ok {
		return false
	}
	r.ids[ev.ID] = struct{}{}
	r.events = append(r.events, ev)
	if over := len(r.events) - r.maxEvents; over > 0 {
		for _, old := range r.events[:over] {
			delete(r.ids, old.ID)
		}
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
	return true
}

func (r *Relay) fanout(ev domain.Event) {
	r.mu.RLock()
	clients := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		for _, subID := range c.matching(ev) {
			if !c.enqueue(domain.Frame{Type: domain.FrameEvent, SubscriptionID: subID, Event: &ev}) {
				r.log.Warningf("dropped %s for slow subscriber %s", ev.ID, subID)
			}
		}
	}
}

func (r *Relay) query(f domain.Filter) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Event
	for i := len(r.events) - 1; i >= 0; i-- {
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
		if f.Matches(r.events[i]) {
			out = append(out, r.events[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Events returns a snapshot of the stored events, oldest first.
func (r *Relay) Events() []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Event(nil), r.events...)
}

// Subscriptions counts live subscriptions across all connections.
func (r *Relay) Subscriptions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for c := range r.clients {
		c.mu.Lock()
		n += len(c.subs)
		c.mu.Unlock()
	}
	return n
}

// DropConnections closes every live connection.
func (r *Relay) DropConnections() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		_ = c.conn.Close()
	}
}

func okFrame(id domain.EventID, accepted bool, msg string) domain.Frame {
	return domain.Frame{Type: domain.FrameOK, OK: &domain.OKResult{EventID: id, Accepted: accepted, Message: msg}}
}
