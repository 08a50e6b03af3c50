package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"gopkg.in/op/go-logging.v1"

	"relaymesh/internal/crypto"
	"relaymesh/internal/domain"
	"relaymesh/internal/log"
	"relaymesh/internal/metrics"
	"relaymesh/internal/pool"
	"relaymesh/internal/router"
	"relaymesh/internal/services/message"
	"relaymesh/internal/transport"
)

// Profile is one identity talking to a set of relays.
type Profile struct {
	cfg     Config
	clock   clock.Clock
	log     *logging.Logger
	metrics *metrics.Metrics
	pool    *pool.Pool
	router  *router.Router

	keyMu    sync.RWMutex
	key      *crypto.PrivateKey
	messages *message.Service
	streams  map[string]*MessageStream

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// CreateProfile binds privateKey, a 32-byte secp256k1 scalar, to a new pool
// seeded with seedRelays. The key bytes are copied; the caller may wipe
// them afterwards.
func CreateProfile(privateKey []byte, seedRelays []string, opts ...Option) (*Profile, error) {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	for _, u := range seedRelays {
		if _, err := pool.NormalizeURL(u); err != nil {
			return nil, err
		}
	}
	key, err := crypto.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	msgs, err := message.New(key, o.cfg.ChannelCache)
	if err != nil {
		key.Wipe()
		return nil, err
	}
	if o.dialer == nil {
		o.dialer = &transport.WebsocketDialer{}
	}
	if o.logBackend == nil {
		o.logBackend = log.NewDiscard()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	m, err := metrics.New(o.registerer)
	if err != nil {
		key.Wipe()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	p := &Profile{
		cfg:      o.cfg,
		clock:    o.clock,
		log:      o.logBackend.GetLogger("profile"),
		metrics:  m,
		key:      key,
		messages: msgs,
		streams:  make(map[string]*MessageStream),
		closed:   make(chan struct{}),
	}
	p.router, err = router.New(o.cfg.Router,
		router.WithLogger(o.logBackend.GetLogger("router")),
		router.WithMetrics(m),
	)
	if err != nil {
		key.Wipe()
		return nil, err
	}
	p.pool, err = pool.New(o.cfg.Pool, o.dialer, (*poolEvents)(p),
		pool.WithClock(o.clock),
		pool.WithMetrics(m),
		pool.WithLogBackend(o.logBackend),
	)
	if err != nil {
		key.Wipe()
		return nil, err
	}
	for _, u := range seedRelays {
		if err := p.pool.Add(u); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	p.log.Noticef("profile %s started with %d relays", crypto.Fingerprint(key.PublicKey()), len(seedRelays))
	return p, nil
}

// PublicKey returns the profile's public key.
func (p *Profile) PublicKey() PublicKey {
	p.keyMu.RLock()
	defer p.keyMu.RUnlock()
	return p.key.PublicKey()
}

// Fingerprint returns a short, human comparable form of PublicKey.
func (p *Profile) Fingerprint() Fingerprint { return crypto.Fingerprint(p.PublicKey()) }

// ExportPrivateKey returns a copy of the private key. The caller owns the
// copy and is responsible for storing it securely.
func (p *Profile) ExportPrivateKey() ([]byte, error) {
	if p.isClosed() {
		return nil, domain.ErrClosed
	}
	p.keyMu.RLock()
	defer p.keyMu.RUnlock()
	p.log.Noticef("private key for %s exported", crypto.Fingerprint(p.key.PublicKey()))
	return p.key.Bytes(), nil
}

// ImportPrivateKey replaces the profile's identity. Message streams opened
// under the previous identity are closed; open new ones with
// SubscribeToMessages.
func (p *Profile) ImportPrivateKey(raw []byte) (PublicKey, error) {
	key, err := crypto.ParsePrivateKey(raw)
	if err != nil {
		return PublicKey{}, err
	}
	msgs, err := message.New(key, p.cfg.ChannelCache)
	if err != nil {
		key.Wipe()
		return PublicKey{}, err
	}

	p.keyMu.Lock()
	if p.isClosed() {
		// Close may already have wiped the old key; it will not see this one.
		p.keyMu.Unlock()
		msgs.Reset()
		key.Wipe()
		return PublicKey{}, domain.ErrClosed
	}
	old, oldMsgs := p.key, p.messages
	p.key, p.messages = key, msgs
	streams := p.streams
	p.streams = make(map[string]*MessageStream)
	p.keyMu.Unlock()

	for _, s := range streams {
		_ = s.Close()
	}
	oldMsgs.Reset()
	p.log.Noticef("private key imported: %s replaces %s",
		crypto.Fingerprint(key.PublicKey()), crypto.Fingerprint(old.PublicKey()))
	old.Wipe()
	return key.PublicKey(), nil
}

// AddRelay adds a relay at runtime. Active subscriptions are installed on it
// once it connects.
func (p *Profile) AddRelay(url string) error {
	if p.isClosed() {
		return domain.ErrClosed
	}
	return p.pool.Add(url)
}

// RemoveRelay closes and forgets a relay.
func (p *Profile) RemoveRelay(url string) error {
	if p.isClosed() {
		return domain.ErrClosed
	}
	u, err := pool.NormalizeURL(url)
	if err != nil {
		return err
	}
	if err := p.pool.Remove(u); err != nil {
		return err
	}
	for _, s := range p.router.Active() {
		s.Uninstall(u)
	}
	return nil
}

// Relays returns the status of every relay ordered by URL.
func (p *Profile) Relays() []RelayStatus {
	eps := p.pool.Endpoints()
	out := make([]RelayStatus, len(eps))
	for i, ep := range eps {
		out[i] = RelayStatus{
			URL:                 ep.URL,
			State:               ep.State.String(),
			ConsecutiveFailures: ep.ConsecutiveFailures,
			LastSuccess:         ep.LastSuccess,
			LastLatency:         ep.LastLatency,
			Score:               p.pool.Score(ep),
		}
	}
	return out
}

// Close ends every subscription and stream, closes the relays and wipes the
// private key.
func (p *Profile) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.router.Close()
		p.closeErr = p.pool.Close()
		p.wg.Wait()

		p.keyMu.Lock()
		p.messages.Reset()
		p.key.Wipe()
		p.streams = nil
		p.keyMu.Unlock()
		p.log.Noticef("profile closed")
	})
	return p.closeErr
}

func (p *Profile) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *Profile) messageService() *message.Service {
	p.keyMu.RLock()
	defer p.keyMu.RUnlock()
	return p.messages
}

func receipt(id domain.EventID, res *pool.BroadcastResult) Receipt {
	r := Receipt{EventID: id}
	if res == nil {
		return r
	}
	r.Acks, r.Required, r.Attempted = res.Acks, res.Required, res.Attempted
	r.Acked = res.Acked()
	sort.Strings(r.Acked)
	return r
}

// IsQuorumError reports whether err is a broadcast that reached some but not
// enough relays, and returns the number that acknowledged.
func IsQuorumError(err error) (acks int, ok bool) {
	var qe *pool.QuorumError
	if errors.As(err, &qe) {
		return qe.Acks, true
	}
	return 0, false
}
