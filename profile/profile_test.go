package profile_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaymesh/internal/crypto"
	"relaymesh/internal/relaytest"
	"relaymesh/profile"
)

func testConfig(minAcks int) profile.Config {
	cfg := profile.DefaultConfig()
	cfg.Pool.Session.ConnectTimeout = 200 * time.Millisecond
	cfg.Pool.Session.BackoffBase = 5 * time.Millisecond
	cfg.Pool.Session.BackoffMax = 50 * time.Millisecond
	cfg.Pool.Session.MaxRetries = 2
	cfg.Pool.Session.LivenessTimeout = 2 * time.Second
	cfg.Pool.Session.PingInterval = 500 * time.Millisecond
	cfg.Pool.Session.WriteTimeout = 200 * time.Millisecond
	cfg.Pool.Session.AckTimeout = time.Second
	cfg.Publish.MinAcks = minAcks
	cfg.Publish.Timeout = 2 * time.Second
	cfg.SubscribeTimeout = time.Second
	return cfg
}

func newNetwork(t *testing.T, n int) (*relaytest.Network, []string) {
	t.Helper()
	net := relaytest.NewNetwork()
	t.Cleanup(net.Close)
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("wss://relay%d.test", i)
		net.AddRelay(urls[i])
	}
	return net, urls
}

func newProfile(t *testing.T, net *relaytest.Network, urls []string, minAcks int) *profile.Profile {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p, err := profile.CreateProfile(key.Bytes(), urls,
		profile.WithDialer(net),
		profile.WithConfig(testConfig(minAcks)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func waitConnected(t *testing.T, p *profile.Profile, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		connected := 0
		for _, r := range p.Relays() {
			if r.State == "connected" {
				connected++
			}
		}
		return connected == n
	}, 3*time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, s *profile.MessageStream) profile.DirectMessage {
	t.Helper()
	select {
	case dm, ok := <-s.Messages():
		require.True(t, ok, "stream closed")
		return dm
	case <-time.After(3 * time.Second):
		t.Fatal("no message")
		return profile.DirectMessage{}
	}
}

func requireQuiet(t *testing.T, s *profile.MessageStream) {
	t.Helper()
	select {
	case dm := <-s.Messages():
		t.Fatalf("unexpected message %q", dm.Plaintext)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProfile_SendReceiveAcrossRelays(t *testing.T) {
	net, urls := newNetwork(t, 3)
	alice := newProfile(t, net, urls, 2)
	bob := newProfile(t, net, urls, 2)
	waitConnected(t, alice, 3)
	waitConnected(t, bob, 3)

	stream, err := bob.SubscribeToMessages(context.Background())
	require.NoError(t, err)

	r, err := alice.SendEncryptedMessage(context.Background(), bob.PublicKey(), []byte("hello bob"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, r.Acks, 2)
	require.Equal(t, 2, r.Required)

	dm := receive(t, stream)
	require.Equal(t, []byte("hello bob"), dm.Plaintext)
	require.Equal(t, alice.PublicKey(), dm.From)
	require.Equal(t, r.EventID, dm.EventID)

	// The other relays deliver the same event; it must not surface again.
	requireQuiet(t, stream)
}

func TestProfile_HostilePayloadDoesNotEndStream(t *testing.T) {
	net, urls := newNetwork(t, 2)
	alice := newProfile(t, net, urls, 1)
	bob := newProfile(t, net, urls, 1)
	mallory := newProfile(t, net, urls, 1)
	waitConnected(t, bob, 2)

	stream, err := bob.SubscribeToMessages(context.Background())
	require.NoError(t, err)

	_, _, err = mallory.Publish(context.Background(), profile.Event{
		Kind:    profile.KindEncryptedDirectMessage,
		Tags:    []profile.Tag{{"p", bob.PublicKey().String()}},
		Content: "definitely not an envelope",
	})
	require.NoError(t, err)

	forged := profile.Event{
		PubKey:    alice.PublicKey(),
		CreatedAt: time.Now().Unix(),
		Kind:      profile.KindEncryptedDirectMessage,
		Tags:      []profile.Tag{{"p", bob.PublicKey().String()}},
		Content:   "unsigned",
	}
	net.Relay(urls[0]).Inject(forged)

	_, err = alice.SendEncryptedMessage(context.Background(), bob.PublicKey(), []byte("still here"))
	require.NoError(t, err)

	dm := receive(t, stream)
	require.Equal(t, []byte("still here"), dm.Plaintext)
}

func TestProfile_ResubscribesAfterReconnect(t *testing.T) {
	net, urls := newNetwork(t, 1)
	alice := newProfile(t, net, urls, 1)
	bob := newProfile(t, net, urls, 1)
	waitConnected(t, bob, 1)

	stream, err := bob.SubscribeToMessages(context.Background())
	require.NoError(t, err)
	relay := net.Relay(urls[0])
	require.Eventually(t, func() bool { return relay.Subscriptions() == 1 }, 2*time.Second, 5*time.Millisecond)

	net.SetMode(urls[0], relaytest.Down)
	require.Eventually(t, func() bool { return relay.Subscriptions() == 0 }, 2*time.Second, 5*time.Millisecond)
	net.SetMode(urls[0], relaytest.Up)
	waitConnected(t, bob, 1)
	waitConnected(t, alice, 1)
	require.Eventually(t, func() bool { return relay.Subscriptions() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = alice.SendEncryptedMessage(context.Background(), bob.PublicKey(), []byte("after reconnect"))
	require.NoError(t, err)
	require.Equal(t, []byte("after reconnect"), receive(t, stream).Plaintext)
}

func TestProfile_AllRelaysDown(t *testing.T) {
	net, urls := newNetwork(t, 3)
	for _, u := range urls {
		net.SetMode(u, relaytest.Down)
	}
	alice := newProfile(t, net, urls, 1)
	bob, err := crypto.GenerateKey()
	require.NoError(t, err)

	start := time.Now()
	_, err = alice.SendEncryptedMessage(context.Background(), bob.PublicKey(), []byte("nobody home"))
	require.ErrorIs(t, err, profile.ErrNoAvailableRelay)
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestProfile_QuorumNotReached(t *testing.T) {
	net, urls := newNetwork(t, 2)
	net.SetMode(urls[1], relaytest.Down)
	alice := newProfile(t, net, urls, 2)
	waitConnected(t, alice, 1)

	ev, r, err := alice.Publish(context.Background(), profile.Event{Content: "half"})
	require.ErrorIs(t, err, profile.ErrQuorumNotReached)
	acks, ok := profile.IsQuorumError(err)
	require.True(t, ok)
	require.Equal(t, 1, acks)
	require.Equal(t, []string{urls[0]}, r.Acked)
	require.True(t, net.PublishedTo(urls[0], ev.ID))
}

func TestProfile_PublishSubscribe(t *testing.T) {
	net, urls := newNetwork(t, 2)
	alice := newProfile(t, net, urls, 2)
	bob := newProfile(t, net, urls, 1)
	waitConnected(t, alice, 2)
	waitConnected(t, bob, 2)

	sub, err := bob.Subscribe(context.Background(), profile.Filter{
		Authors: []profile.PublicKey{alice.PublicKey()},
		Kinds:   []int{profile.KindTextNote},
	})
	require.NoError(t, err)
	require.Equal(t, urls, sub.Relays())

	ev, r, err := alice.Publish(context.Background(), profile.Event{Content: "hello world"})
	require.NoError(t, err)
	require.Equal(t, profile.KindTextNote, ev.Kind)
	require.Equal(t, alice.PublicKey(), ev.PubKey)
	require.Equal(t, urls, r.Acked)

	select {
	case in := <-sub.Events():
		require.Equal(t, ev.ID, in.Event.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
	}
	select {
	case in := <-sub.Events():
		t.Fatalf("duplicate delivery from %s", in.Relay)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, sub.Close())
	_, open := <-sub.Events()
	require.False(t, open)
	for _, u := range urls {
		relay := net.Relay(u)
		require.Eventually(t, func() bool { return relay.Subscriptions() == 0 }, 2*time.Second, 5*time.Millisecond)
	}
	require.ErrorIs(t, bob.Unsubscribe(sub.ID()), profile.ErrUnknownSubscription)
}

func TestProfile_SubscriptionEndsWithContext(t *testing.T) {
	net, urls := newNetwork(t, 1)
	bob := newProfile(t, net, urls, 1)
	waitConnected(t, bob, 1)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := bob.SubscribeToMessages(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-stream.Messages():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after cancel")
	}
}

func TestProfile_ExportImport(t *testing.T) {
	net, urls := newNetwork(t, 1)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p, err := profile.CreateProfile(key.Bytes(), urls, profile.WithDialer(net), profile.WithConfig(testConfig(1)))
	require.NoError(t, err)
	defer p.Close()
	waitConnected(t, p, 1)

	exported, err := p.ExportPrivateKey()
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), exported)
	require.Equal(t, key.PublicKey(), p.PublicKey())

	stream, err := p.SubscribeToMessages(context.Background())
	require.NoError(t, err)

	next, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, err := p.ImportPrivateKey(next.Bytes())
	require.NoError(t, err)
	require.Equal(t, next.PublicKey(), pub)
	require.Equal(t, next.PublicKey(), p.PublicKey())

	select {
	case _, ok := <-stream.Messages():
		require.False(t, ok, "stream for the old key must close")
	case <-time.After(2 * time.Second):
		t.Fatal("old stream still open")
	}

	_, err = p.ImportPrivateKey(make([]byte, 32))
	require.ErrorIs(t, err, profile.ErrInvalidConfiguration)
	require.Equal(t, next.PublicKey(), p.PublicKey())
}

func TestProfile_RelayMembership(t *testing.T) {
	net, urls := newNetwork(t, 3)
	p := newProfile(t, net, urls[:1], 1)
	waitConnected(t, p, 1)

	sub, err := p.Subscribe(context.Background(), profile.Filter{})
	require.NoError(t, err)

	require.NoError(t, p.AddRelay(urls[1]))
	require.NoError(t, p.AddRelay(urls[2]))
	waitConnected(t, p, 3)
	require.Eventually(t, func() bool { return len(sub.Relays()) == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.RemoveRelay(urls[0]))
	require.ErrorIs(t, p.RemoveRelay(urls[0]), profile.ErrUnknownRelay)
	require.Equal(t, urls[1:], sub.Relays())

	status := p.Relays()
	require.Len(t, status, 2)
	for _, s := range status {
		require.Equal(t, "connected", s.State)
		require.Zero(t, s.ConsecutiveFailures)
		require.False(t, s.LastSuccess.IsZero())
	}
	require.ErrorIs(t, p.AddRelay("http://not-a-relay"), profile.ErrInvalidConfiguration)
}

func TestCreateProfile_Validation(t *testing.T) {
	net, urls := newNetwork(t, 1)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = profile.CreateProfile([]byte{1, 2, 3}, urls, profile.WithDialer(net), profile.WithConfig(testConfig(1)))
	require.ErrorIs(t, err, profile.ErrInvalidConfiguration)

	_, err = profile.CreateProfile(key.Bytes(), []string{"ftp://x"}, profile.WithDialer(net), profile.WithConfig(testConfig(1)))
	require.ErrorIs(t, err, profile.ErrInvalidConfiguration)

	// MinAcks has no default.
	_, err = profile.CreateProfile(key.Bytes(), urls, profile.WithDialer(net))
	require.ErrorIs(t, err, profile.ErrInvalidConfiguration)

	p, err := profile.CreateProfile(key.Bytes(), nil, profile.WithDialer(net), profile.WithConfig(testConfig(1)))
	require.NoError(t, err)
	defer p.Close()
	_, err = p.SubscribeToMessages(context.Background())
	require.ErrorIs(t, err, profile.ErrNoAvailableRelay)
	_, err = p.SendEncryptedMessage(context.Background(), profile.PublicKey{}, []byte("x"))
	require.ErrorIs(t, err, profile.ErrInvalidConfiguration)
}

func TestProfile_Close(t *testing.T) {
	net, urls := newNetwork(t, 1)
	p := newProfile(t, net, urls, 1)
	waitConnected(t, p, 1)
	stream, err := p.SubscribeToMessages(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, ok := <-stream.Messages()
	require.False(t, ok)

	_, _, err = p.Publish(context.Background(), profile.Event{Content: "late"})
	require.ErrorIs(t, err, profile.ErrClosed)
	_, err = p.ExportPrivateKey()
	require.ErrorIs(t, err, profile.ErrClosed)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = p.ImportPrivateKey(other.Bytes())
	require.ErrorIs(t, err, profile.ErrClosed)
	_, err = p.Subscribe(context.Background(), profile.Filter{})
	require.ErrorIs(t, err, profile.ErrClosed)
}

func TestProfile_StalledSubscriberDoesNotBlockOthers(t *testing.T) {
	net, urls := newNetwork(t, 1)
	alice := newProfile(t, net, urls, 1)

	cfg := testConfig(1)
	cfg.Router.Buffer = 8
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	bob, err := profile.CreateProfile(key.Bytes(), urls, profile.WithDialer(net), profile.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bob.Close() })
	waitConnected(t, alice, 1)
	waitConnected(t, bob, 1)

	notes := profile.Filter{Authors: []profile.PublicKey{alice.PublicKey()}, Kinds: []int{profile.KindTextNote}}
	stalled, err := bob.Subscribe(context.Background(), notes)
	require.NoError(t, err)
	live, err := bob.Subscribe(context.Background(), notes)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[profile.EventID]bool)
	)
	go func() {
		for in := range live.Events() {
			mu.Lock()
			seen[in.Event.ID] = true
			mu.Unlock()
		}
	}()

	var last profile.EventID
	for i := 0; i < 200; i++ {
		ev, _, err := alice.Publish(context.Background(), profile.Event{Content: fmt.Sprintf("note %d", i)})
		require.NoError(t, err)
		last = ev.ID
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[last]
	}, 3*time.Second, 5*time.Millisecond)
	require.Positive(t, stalled.Dropped())
	require.Len(t, stalled.Events(), 8)

	start := time.Now()
	_, r, err := bob.Publish(context.Background(), profile.Event{Content: "still acknowledged"})
	require.NoError(t, err)
	require.Equal(t, urls, r.Acked)
	require.Less(t, time.Since(start), time.Second)

	relay := net.Relay(urls[0])
	net.SetMode(urls[0], relaytest.Down)
	require.Eventually(t, func() bool { return relay.Subscriptions() == 0 }, 2*time.Second, 5*time.Millisecond)
	net.SetMode(urls[0], relaytest.Up)
	waitConnected(t, bob, 1)
	require.Eventually(t, func() bool { return relay.Subscriptions() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, urls, stalled.Relays())
}
