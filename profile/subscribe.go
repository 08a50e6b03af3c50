package profile

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"relaymesh/internal/domain"
	"relaymesh/internal/pool"
	"relaymesh/internal/relay"
	"relaymesh/internal/router"
	"relaymesh/internal/services/message"
)

// ErrUnknownSubscription is returned by Unsubscribe for ids that are not
// active.
var ErrUnknownSubscription = errors.New("unknown subscription")

// Subscription is a filter installed on the profile's relays.
type Subscription struct {
	p    *Profile
	sub  *router.Subscription
	stop func() bool
}

// ID is the subscription id the relays see.
func (s *Subscription) ID() string { return s.sub.ID() }

// Events delivers every matching, verified event once. It is closed when the
// subscription ends. Its buffer is Config.Router.Buffer deep; events that
// arrive while it is full are dropped rather than holding up the relays.
func (s *Subscription) Events() <-chan InboundEvent { return s.sub.Events() }

// Dropped is how many events were lost because Events was not read in time.
func (s *Subscription) Dropped() uint64 { return s.sub.Dropped() }

// Relays lists the relays the subscription is installed on.
func (s *Subscription) Relays() []string { return s.sub.Installed() }

// Close is Unsubscribe for this subscription.
func (s *Subscription) Close() error {
	s.stop()
	return s.p.Unsubscribe(s.sub.ID())
}

// Subscribe installs filter on every connected relay and on every relay that
// connects later. The subscription ends when ctx is done, on Unsubscribe, or
// when the profile closes.
func (p *Profile) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	sub, err := p.subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}
	s := &Subscription{p: p, sub: sub}
	s.stop = context.AfterFunc(ctx, func() { _ = p.Unsubscribe(sub.ID()) })
	return s, nil
}

// Unsubscribe stops forwarding events for id at once and asks the relays it
// was installed on to close it. Relays that do not answer are ignored.
func (p *Profile) Unsubscribe(id string) error {
	sub, ok := p.router.Unsubscribe(id)
	if !ok {
		return ErrUnknownSubscription
	}
	installed := sub.Installed()
	if len(installed) == 0 || p.isClosed() {
		return nil
	}

	ctx, cancel := p.clock.WithTimeout(context.Background(), p.cfg.SubscribeTimeout)
	defer cancel()
	var g errgroup.Group
	for _, u := range installed {
		s, ok := p.pool.Session(u)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := s.Send(ctx, domain.CloseFrame(id)); err != nil {
				p.log.Debugf("%s: close %s: %v", u, id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// MessageStream yields decrypted direct messages addressed to the profile.
type MessageStream struct {
	p         *Profile
	sub       *router.Subscription
	out       chan DirectMessage
	stop      func() bool
	closeOnce sync.Once
}

// Messages is closed when the stream ends.
func (s *MessageStream) Messages() <-chan DirectMessage { return s.out }

// Close ends the stream.
func (s *MessageStream) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		_ = s.p.Unsubscribe(s.sub.ID())
		s.p.keyMu.Lock()
		delete(s.p.streams, s.sub.ID())
		s.p.keyMu.Unlock()
	})
	return nil
}

// SubscribeToMessages subscribes to direct messages addressed to the
// profile's key and decrypts them. Messages that fail authentication are
// logged and skipped. The stream ends when ctx is done, on Close, when the
// key is replaced, or when the profile closes.
func (p *Profile) SubscribeToMessages(ctx context.Context) (*MessageStream, error) {
	msgs := p.messageService()
	sub, err := p.subscribe(ctx, msgs.Filter())
	if err != nil {
		return nil, err
	}
	s := &MessageStream{p: p, sub: sub, out: make(chan DirectMessage, cap(sub.Events()))}
	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })

	p.keyMu.Lock()
	if p.streams != nil {
		p.streams[sub.ID()] = s
	}
	p.keyMu.Unlock()

	p.wg.Add(1)
	go s.run(msgs)
	return s, nil
}

func (s *MessageStream) run(msgs *message.Service) {
	defer s.p.wg.Done()
	defer close(s.out)
	for in := range s.sub.Events() {
		dm, err := msgs.Open(in)
		if err != nil {
			s.p.metrics.RouterEvent("undecryptable")
			s.p.log.Warningf("%s: dropped direct message %s from %s: %v", in.Relay, in.Event.ID, in.Event.PubKey, err)
			continue
		}
		select {
		case s.out <- dm:
		case <-s.sub.Done():
			return
		}
	}
}

func (p *Profile) subscribe(ctx context.Context, filter domain.Filter) (*router.Subscription, error) {
	if p.isClosed() {
		return nil, domain.ErrClosed
	}
	if len(p.pool.Sessions()) == 0 {
		return nil, domain.ErrNoAvailableRelay
	}
	sub, err := p.router.Subscribe(filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := p.clock.WithTimeout(ctx, p.cfg.SubscribeTimeout)
	defer cancel()
	var g errgroup.Group
	for _, s := range p.pool.Select(pool.OpSubscribe, 0) {
		g.Go(func() error {
			p.install(ctx, s, sub)
			return nil
		})
	}
	_ = g.Wait()
	p.log.Debugf("subscription %s installed on %d relays", sub.ID(), len(sub.Installed()))
	return sub, nil
}

func (p *Profile) install(ctx context.Context, s *relay.Session, sub *router.Subscription) {
	if err := s.Send(ctx, domain.SubscribeFrame(sub.ID(), sub.Filter())); err != nil {
		p.log.Debugf("%s: install %s: %v", s.URL(), sub.ID(), err)
		return
	}
	sub.MarkInstalled(s.URL())
}

// poolEvents is the pool.Handler side of a Profile.
type poolEvents Profile

// HandleConnected reinstalls every active subscription on a session that
// has just connected.
func (h *poolEvents) HandleConnected(s *relay.Session) {
	p := (*Profile)(h)
	subs := p.router.Active()
	if len(subs) == 0 {
		return
	}
	ctx, cancel := p.clock.WithTimeout(context.Background(), p.cfg.SubscribeTimeout)
	defer cancel()
	for _, sub := range subs {
		p.install(ctx, s, sub)
	}
	p.log.Infof("%s: resubscribed %d subscriptions", s.URL(), len(subs))
}

// HandleFrame passes relay frames to the router.
func (h *poolEvents) HandleFrame(in domain.InboundFrame) { h.router.HandleFrame(in) }

var _ pool.Handler = (*poolEvents)(nil)
