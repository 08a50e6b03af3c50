package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/op/go-logging.v1"

	"relaymesh/internal/domain"
	"relaymesh/internal/log"
	"relaymesh/internal/metrics"
	"relaymesh/internal/transport"
)

var (
	errConnectionLost    = errors.New("connection lost before acknowledgement")
	errTooManySendErrors = errors.New("send error threshold exceeded")
)

// StateHook observes state transitions. It runs on the session goroutine and
// must not block.
type StateHook func(s *Session, from, to State)

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option { return func(s *Session) { s.clock = c } }

// WithLogger sets the session's logger.
func WithLogger(l *logging.Logger) Option { return func(s *Session) { s.log = l } }

// WithMetrics records connection state and frames in m.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithStateHook calls h on every state transition.
func WithStateHook(h StateHook) Option { return func(s *Session) { s.hook = h } }

// Session maintains the connection to one relay.
type Session struct {
	url     string
	cfg     Config
	dialer  transport.Dialer
	clock   clock.Clock
	log     *logging.Logger
	metrics *metrics.Metrics
	hook    StateHook

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
	frames    chan domain.InboundFrame
	degradeCh chan struct{}

	mu            sync.Mutex
	state         State
	changed       chan struct{}
	conn          transport.Conn
	failures      int
	sendErrors    int
	lastSuccess   time.Time
	lastLatency   time.Duration
	lastRoundTrip time.Time
	waiters       map[domain.EventID][]chan domain.OKResult
}

// NewSession returns a Disconnected session for url. Call Start to connect.
func NewSession(url string, cfg Config, dialer transport.Dialer, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, fmt.Errorf("%w: relay session needs a dialer", domain.ErrInvalidConfiguration)
	}
	s := &Session{
		url:       url,
		cfg:       cfg,
		dialer:    dialer,
		clock:     clock.New(),
		frames:    make(chan domain.InboundFrame, cfg.InboundBuffer),
		degradeCh: make(chan struct{}, 1),
		state:     StateDisconnected,
		changed:   make(chan struct{}),
		waiters:   make(map[domain.EventID][]chan domain.OKResult),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = log.NewDiscard().GetLogger("relay")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// URL returns the relay URL.
func (s *Session) URL() string { return s.url }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns a snapshot of the session's health.
func (s *Session) Endpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Endpoint{
		URL:                 s.url,
		State:               s.state,
		ConsecutiveFailures: s.failures,
		LastSuccess:         s.lastSuccess,
		LastLatency:         s.lastLatency,
	}
}

// Frames is the stream of frames received from the relay, excluding OK
// frames, which the session consumes itself. It is closed by Close.
func (s *Session) Frames() <-chan domain.InboundFrame { return s.frames }

// Start launches the connection goroutine. It is a no-op after the first call.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		if s.ctx.Err() != nil {
			return
		}
		s.wg.Add(1)
		go s.worker()
	})
}

// Close stops the session and waits for its goroutines. Pending publishes
// fail with a transport error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.setState(StateDisconnected)
		close(s.frames)
	})
	return nil
}

// WaitState blocks until ok accepts the current state or ctx is done.
func (s *Session) WaitState(ctx context.Context, ok func(State) bool) (State, error) {
	for {
		s.mu.Lock()
		st, ch := s.state, s.changed
		s.mu.Unlock()
		if ok(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Send writes f to the relay. It fails fast unless the session is Connected.
func (s *Session) Send(ctx context.Context, f domain.Frame) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()
	if conn == nil || state != StateConnected {
		return &domain.TransportError{Relay: s.url, Err: domain.ErrNotConnected}
	}

	ctx, cancel := s.clock.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := conn.WriteFrame(ctx, f); err != nil {
		if errors.Is(err, transport.ErrMalformedFrame) {
			return err
		}
		s.noteSendError()
		return &domain.TransportError{Relay: s.url, Err: err}
	}
	s.noteSendOK()
	return nil
}

// Publish sends ev and waits for the relay's OK. A relay answering OK false
// yields a *domain.RejectedError; anything else that prevents an
// acknowledgement is a *domain.TransportError.
func (s *Session) Publish(ctx context.Context, ev domain.Event) error {
	ch := make(chan domain.OKResult, 1)
	s.mu.Lock()
	s.waiters[ev.ID] = append(s.waiters[ev.ID], ch)
	s.mu.Unlock()

	start := s.clock.Now()
	if err := s.Send(ctx, domain.PublishFrame(ev)); err != nil {
		s.dropWaiter(ev.ID, ch)
		return err
	}

	ctx, cancel := s.clock.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()
	select {
	case res, ok := <-ch:
		if !ok {
			return &domain.TransportError{Relay: s.url, Err: errConnectionLost}
		}
		s.recordLatency(s.clock.Since(start))
		if !res.Accepted {
			return &domain.RejectedError{Relay: s.url, EventID: ev.ID, Message: res.Message}
		}
		return nil
	case <-ctx.Done():
		s.dropWaiter(ev.ID, ch)
		s.noteSendError()
		return &domain.TransportError{Relay: s.url, Err: ctx.Err()}
	}
}

// Deliver waits while the session is reconnecting, then publishes f if it
// carries an event submission or sends it otherwise.
func (s *Session) Deliver(ctx context.Context, f domain.Frame) error {
	_, err := s.WaitState(ctx, func(st State) bool {
		return st == StateConnected || st == StateDisconnected
	})
	if err != nil {
		return &domain.TransportError{Relay: s.url, Err: err}
	}
	if f.IsPublish() {
		return s.Publish(ctx, *f.Event)
	}
	return s.Send(ctx, f)
}

func (s *Session) worker() {
	defer s.wg.Done()
	for {
		conn, rtt := s.connect()
		if conn == nil {
			if s.halted() {
				return
			}
			s.setState(StateDisconnected)
			s.log.Warningf("%s: unreachable after %d attempts, next try in %v",
				s.url, s.cfg.MaxRetries, s.cfg.BackoffMax)
			if !s.sleep(s.cfg.BackoffMax) {
				return
			}
			continue
		}
		s.serve(conn, rtt)
		if s.halted() {
			return
		}
		s.mu.Lock()
		n := s.failures
		s.mu.Unlock()
		if !s.sleep(Backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, n)) {
			return
		}
	}
}

// connect runs one retry budget. It returns nil when the budget is spent or
// the session is halted.
func (s *Session) connect() (transport.Conn, time.Duration) {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		s.setState(StateConnecting)

		ctx, cancel := s.clock.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
		start := s.clock.Now()
		conn, err := s.dialer.Dial(ctx, s.url)
		rtt := s.clock.Since(start)
		cancel()

		if s.halted() {
			if conn != nil {
				_ = conn.Close()
			}
			return nil, 0
		}
		if err == nil {
			return conn, rtt
		}

		n := s.recordFailure()
		s.metrics.ConnectFailure(s.url)
		s.log.Debugf("%s: connect attempt %d/%d failed (%d consecutive): %v",
			s.url, attempt, s.cfg.MaxRetries, n, err)
		if attempt < s.cfg.MaxRetries && !s.sleep(Backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, n)) {
			return nil, 0
		}
	}
	return nil, 0
}

// serve runs one connected period and returns once the connection is gone.
func (s *Session) serve(conn transport.Conn, rtt time.Duration) {
	conn.SetPongHandler(s.markRoundTrip)
	now := s.clock.Now()
	s.mu.Lock()
	s.conn = conn
	s.failures = 0
	s.sendErrors = 0
	s.lastSuccess = now
	s.lastRoundTrip = now
	s.lastLatency = rtt
	s.mu.Unlock()
	select {
	case <-s.degradeCh:
	default:
	}

	stop := make(chan struct{})
	readErr := make(chan error, 1)
	go s.reader(conn, stop, readErr)
	s.setState(StateConnected)

	ticker := s.clock.Ticker(s.cfg.PingInterval)
	defer ticker.Stop()

	var reason error
	readerDone := false
loop:
	for {
		select {
		case <-s.ctx.Done():
			break loop
		case err := <-readErr:
			reason = fmt.Errorf("read: %w", err)
			readerDone = true
			break loop
		case <-s.degradeCh:
			reason = errTooManySendErrors
			break loop
		case <-ticker.C:
			if idle := s.sinceRoundTrip(); idle > s.cfg.LivenessTimeout {
				reason = fmt.Errorf("no round-trip for %v", idle.Round(time.Millisecond))
				break loop
			}
			ctx, cancel := s.clock.WithTimeout(s.ctx, s.cfg.WriteTimeout)
			if err := conn.Ping(ctx); err != nil {
				s.log.Debugf("%s: ping: %v", s.url, err)
				s.noteSendError()
			}
			cancel()
		}
	}

	s.mu.Lock()
	s.conn = nil
	waiters := s.waiters
	s.waiters = make(map[domain.EventID][]chan domain.OKResult)
	s.mu.Unlock()
	for _, chans := range waiters {
		for _, ch := range chans {
			close(ch)
		}
	}

	close(stop)
	_ = conn.Close()
	if !readerDone {
		<-readErr
	}
	if s.halted() {
		return
	}
	s.recordFailure()
	s.log.Warningf("%s: degraded: %v", s.url, reason)
	s.setState(StateDegraded)
}

func (s *Session) reader(conn transport.Conn, stop <-chan struct{}, errCh chan<- error) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, transport.ErrMalformedFrame) {
				// A message arrived, so the connection is alive even if we
				// cannot use what the relay said.
				s.markRoundTrip()
				s.metrics.FrameReceived(s.url, "malformed")
				s.log.Debugf("%s: %v", s.url, err)
				continue
			}
			errCh <- err
			return
		}
		s.markRoundTrip()
		s.metrics.FrameReceived(s.url, string(f.Type))

		if f.Type == domain.FrameOK {
			if f.OK != nil {
				s.resolve(*f.OK)
			}
			continue
		}
		select {
		case s.frames <- domain.InboundFrame{Relay: s.url, Frame: f, ReceivedAt: s.clock.Now()}:
		case <-stop:
			errCh <- domain.ErrClosed
			return
		}
	}
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	if !from.CanTransition(to) {
		s.mu.Unlock()
		s.log.Errorf("BUG: %s: illegal transition %s -> %s", s.url, from, to)
		return
	}
	s.state = to
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	s.log.Infof("%s: %s -> %s", s.url, from, to)
	s.metrics.RelayState(s.url, to.String())
	if s.hook != nil {
		s.hook(s, from, to)
	}
}

func (s *Session) resolve(res domain.OKResult) {
	s.mu.Lock()
	chans := s.waiters[res.EventID]
	delete(s.waiters, res.EventID)
	s.mu.Unlock()
	for _, ch := range chans {
		ch <- res
	}
}

func (s *Session) dropWaiter(id domain.EventID, ch chan domain.OKResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.waiters[id]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(s.waiters, id)
	} else {
		s.waiters[id] = chans
	}
}

func (s *Session) recordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

func (s *Session) recordLatency(d time.Duration) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLatency = d
	s.lastSuccess = now
	s.lastRoundTrip = now
	s.sendErrors = 0
}

func (s *Session) noteSendOK() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErrors = 0
	s.lastSuccess = now
}

func (s *Session) noteSendError() {
	s.mu.Lock()
	s.sendErrors++
	n := s.sendErrors
	s.mu.Unlock()
	if n >= s.cfg.ErrorThreshold {
		select {
		case s.degradeCh <- struct{}{}:
		default:
		}
	}
}

func (s *Session) markRoundTrip() {
	now := s.clock.Now()
	s.mu.Lock()
	s.lastRoundTrip = now
	s.mu.Unlock()
}

func (s *Session) sinceRoundTrip() time.Duration {
	s.mu.Lock()
	last := s.lastRoundTrip
	s.mu.Unlock()
	return s.clock.Since(last)
}

func (s *Session) halted() bool { return s.ctx.Err() != nil }

func (s *Session) sleep(d time.Duration) bool {
	t := s.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
