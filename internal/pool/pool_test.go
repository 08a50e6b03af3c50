package pool_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaymesh/internal/crypto"
	"relaymesh/internal/domain"
	"relaymesh/internal/event"
	"relaymesh/internal/pool"
	"relaymesh/internal/relay"
	"relaymesh/internal/relaytest"
)

func fastConfig() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Session.ConnectTimeout = 200 * time.Millisecond
	cfg.Session.BackoffBase = 5 * time.Millisecond
	cfg.Session.BackoffMax = 50 * time.Millisecond
	cfg.Session.MaxRetries = 2
	cfg.Session.LivenessTimeout = 2 * time.Second
	cfg.Session.PingInterval = 500 * time.Millisecond
	cfg.Session.WriteTimeout = 200 * time.Millisecond
	cfg.Session.AckTimeout = 2 * time.Second
	return cfg
}

type recorder struct {
	mu        sync.Mutex
	frames    []domain.InboundFrame
	connected []string
}

func (r *recorder) HandleFrame(in domain.InboundFrame) {
	r.mu.Lock()
	r.frames = append(r.frames, in)
	r.mu.Unlock()
}

func (r *recorder) HandleConnected(s *relay.Session) {
	r.mu.Lock()
	r.connected = append(r.connected, s.URL())
	r.mu.Unlock()
}

func newPool(t *testing.T, net *relaytest.Network, h pool.Handler, urls ...string) *pool.Pool {
	t.Helper()
	p, err := pool.New(fastConfig(), net, h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	for _, u := range urls {
		require.NoError(t, p.Add(u))
	}
	return p
}

func relayURLs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("wss://r%d.test", i)
	}
	return out
}

func waitConnected(t *testing.T, p *pool.Pool, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(p.Select(pool.OpSubscribe, 0)) == n
	}, 3*time.Second, 5*time.Millisecond)
}

func signedNote(t *testing.T) domain.Event {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ev := domain.Event{CreatedAt: time.Now().Unix(), Kind: domain.KindTextNote, Content: "broadcast"}
	require.NoError(t, event.Sign(&ev, key))
	return ev
}

func policy(minAcks int, timeout time.Duration) pool.Policy {
	return pool.Policy{MinAcks: minAcks, Timeout: timeout}
}

func TestScore_FailuresDominate(t *testing.T) {
	now := time.Now()
	w := pool.DefaultWeights()

	flaky := relay.Endpoint{ConsecutiveFailures: 1, LastSuccess: now}
	slowAndStale := relay.Endpoint{LastLatency: time.Hour}
	require.Less(t, pool.Score(slowAndStale, now, w), pool.Score(flaky, now, w))
}

func TestScore_LatencyThenStaleness(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))
	w := pool.DefaultWeights()

	fast := relay.Endpoint{LastLatency: 20 * time.Millisecond, LastSuccess: mock.Now()}
	slow := relay.Endpoint{LastLatency: 400 * time.Millisecond, LastSuccess: mock.Now()}
	require.Less(t, pool.Score(fast, mock.Now(), w), pool.Score(slow, mock.Now(), w))

	mock.Add(10 * time.Minute)
	fresh := relay.Endpoint{LastLatency: 20 * time.Millisecond, LastSuccess: mock.Now()}
	require.Less(t, pool.Score(fresh, mock.Now(), w), pool.Score(fast, mock.Now(), w))

	never := relay.Endpoint{}
	require.Less(t, pool.Score(fast, mock.Now(), w), pool.Score(never, mock.Now(), w))
}

func TestNormalizeURL(t *testing.T) {
	u, err := pool.NormalizeURL(" WSS://Relay.Example.com/ ")
	require.NoError(t, err)
	require.Equal(t, "wss://relay.example.com", u)

	for _, bad := range []string{"", "https://relay.example.com", "wss://", "relay.example.com"} {
		_, err := pool.NormalizeURL(bad)
		require.ErrorIs(t, err, domain.ErrInvalidConfiguration, bad)
	}
}

func TestPool_AddIsIdempotentAndRemoveForgets(t *testing.T) {
	net := relaytest.NewNetwork()
	defer net.Close()
	net.AddRelay("wss://a.test")

	p := newPool(t, net, nil, "wss://a.test", "WSS://A.TEST/")
	require.Len(t, p.Sessions(), 1)

	require.NoError(t, p.Remove("wss://a.test"))
	require.Empty(t, p.Sessions())
	require.ErrorIs(t, p.Remove("wss://a.test"), domain.ErrUnknownRelay)
}

func TestPool_HandlerSeesConnectAndFrames(t *testing.T) {
	net := relaytest.NewNetwork()
	defer net.Close()
	net.AddRelay("wss://a.test")
	rec := &recorder{}

	p := newPool(t, net, rec, "wss://a.test")
	waitConnected(t, p, 1)

	s, ok := p.Session("wss://a.test")
	require.True(t, ok)
	require.NoError(t, s.Send(context.Background(), domain.SubscribeFrame("x", domain.Filter{})))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.connected) == 1 && len(rec.frames) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, domain.FrameEOSE, rec.frames[0].Frame.Type)
}

func TestSelect_ExcludesDisconnected(t *testing.T) {
	net := relaytest.NewNetwork()
	defer net.Close()
	urls := relayURLs(3)
	for _, u := range urls {
		net.AddRelay(u)
	}
	net.SetMode(urls[2], relaytest.Down)

	p := newPool(t, net, nil, urls...)
	waitConnected(t, p, 2)
	for _, s := range p.Select(pool.OpSubscribe, 0) {
		require.NotEqual(t, urls[2], s.URL())
	}

	top := p.Select(pool.OpPublish, 2)
	require.Len(t, top, 2)
	for _, s := range top {
		require.NotEqual(t, urls[2], s.URL())
	}
}

func TestBroadcast_QuorumWithTwoRelaysDown(t *testing.T) {
	net := relaytest.NewNetwork()
	defer net.Close()
	urls := relayURLs(5)
	for _, u := range urls {
		net.AddRelay(u)
	}
	net.SetMode(urls[1], relaytest.Down)
	net.SetMode(urls[3], relaytest.Down)

	p := newPool(t, net, nil, urls...)
	waitConnected(t, p, 3)

	ev := signedNote(t)
	res, err := p.Broadcast(context.Background(), domain.PublishFrame(ev), policy(3, 2*time.Second))
	require.NoError(t, err)
	require.Equal(t, 3, res.Acks)
	for _, u := range []string{urls[0], urls[2], urls[4]} {
		require.True(t, net.PublishedTo(u, ev.ID), u)
	}
}

func TestBroadcast_AllRelaysDown(t *testing.T) {
	net := relaytest.NewNetwork()
	defer net.Close()
	urls := relayURLs(3)
	for _, u := range urls {
		net.AddRelay(u)
		net.SetMode(u, relaytest.Down)
	}
	p := newPool(t, net, nil, urls...)

	timeout := 500 * time.Millisecond
	start := time.Now()
	_, err := p.Broadcast(context.Background(), domain.PublishFrame(signedNote(t)), policy(1, timeout))
	require.ErrorIs(t, err, domain.ErrNoAvailableRelay)
	require.Less(t, time.Since(start), timeout+time.Second)
}

func TestBroadcast_EmptyPool(t *testing.T) {
	p := newPool(t, relaytest.NewNetwork(), nil)
	_, err := p.Broadcast(context.Background(), domain.PublishFrame(signedNote(t)), policy(1, time.Second))
	require.ErrorIs(t, err, domain.ErrNoAvailableRelay)
}

func TestBroadcast_HungRelaysDoNotStall(t *testing.T) {
	net := relaytest.NewNetwork()
	defer net.Close()
	urls := relayURLs(5)
	for _, u := range urls {
		net.AddRelay(u)
	}
	net.SetMode(urls[3], relaytest.Blackhole)
	net.SetMode(urls[4], relaytest.Hang)

	p := newPool(t, net, nil, urls...)
	waitConnected(t, p, 4)

	start := time.Now()
	res, err := p.Broadcast(context.Background(), domain.PublishFrame(signedNote(t)), policy(3, 10*time.Second))
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Acks, 3)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestBroadcast_QuorumNotReached(t *testing.T) {
	net := relaytest.NewNetwork()
	defer net.Close()
	urls := relayURLs(2)
	for _, u := range urls {
		net.AddRelay(u)
	}
	net.SetMode(urls[1], relaytest.Down)

	p := newPool(t, net, nil, urls...)
	waitConnected(t, p, 1)

	res, err := p.Broadcast(context.Background(), domain.PublishFrame(signedNote(t)), policy(2, time.Second))
	require.ErrorIs(t, err, domain.ErrQuorumNotReached)
	require.NotErrorIs(t, err, domain.ErrNoAvailableRelay)
	var qe *pool.QuorumError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, 1, qe.Acks)
	require.Equal(t, []string{urls[0]}, res.Acked())
}

func TestBroadcast_InvalidPolicy(t *testing.T) {
	p := newPool(t, relaytest.NewNetwork(), nil)
	for _, pol := range []pool.Policy{
		{MinAcks: 0, Timeout: time.Second},
		{MinAcks: 3, Fanout: 2, Timeout: time.Second},
		{MinAcks: 1},
	} {
		_, err := p.Broadcast(context.Background(), domain.PublishFrame(signedNote(t)), pol)
		require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	}
}

func TestPool_ConcurrentMembership(t *testing.T) {
	net := relaytest.NewNetwork()
	defer net.Close()
	urls := relayURLs(8)
	for _, u := range urls {
		net.AddRelay(u)
	}
	p := newPool(t, net, nil)

	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(2)
		go func(u string) {
			defer wg.Done()
			assert.NoError(t, p.Add(u))
		}(u)
		go func() {
			defer wg.Done()
			_ = p.Select(pool.OpPublish, 3)
		}()
	}
	wg.Wait()
	require.Len(t, p.Sessions(), len(urls))

	for _, u := range urls[:4] {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			assert.NoError(t, p.Remove(u))
		}(u)
	}
	wg.Wait()
	require.Len(t, p.Sessions(), 4)
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Add(urls[0]), domain.ErrClosed)
}
