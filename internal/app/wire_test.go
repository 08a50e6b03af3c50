package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"relaymesh/internal/relaytest"
)

const pass = "Correct-Horse-9"

func TestWire_OpenProfile(t *testing.T) {
	net := relaytest.NewNetwork()
	defer net.Close()
	net.AddRelay("wss://relay.test")

	cfg, err := Load([]byte("Relays = [\"wss://relay.test\"]\n[Logging]\nDisable = true\n"))
	require.NoError(t, err)
	w, err := NewWire(cfg, t.TempDir())
	require.NoError(t, err)
	defer w.Close()
	w.Dialer = net

	_, err = w.OpenProfile(pass)
	require.Error(t, err)

	pub, _, err := w.Identity.Generate(pass)
	require.NoError(t, err)

	p, err := w.OpenProfile(pass)
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, pub, p.PublicKey())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := p.SendEncryptedMessage(ctx, pub, []byte("note to self"))
	require.NoError(t, err)
	require.Equal(t, 1, r.Acks)
	require.True(t, net.PublishedTo("wss://relay.test", r.EventID))

	n, err := testutil.GatherAndCount(w.Registry, "relaymesh_broadcast_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestWire_ServeMetricsDisabled(t *testing.T) {
	w, err := NewWire(Default(), t.TempDir())
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.ServeMetrics(context.Background()))
}
