package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"relaymesh/internal/metrics"
)

func TestMetrics_RelayState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.RelayState("wss://a", "connecting")
	m.RelayState("wss://a", "connected")

	expected := `
# HELP relaymesh_relay_state 1 for the current state of each relay session
# TYPE relaymesh_relay_state gauge
relaymesh_relay_state{relay="wss://a",state="connected"} 1
relaymesh_relay_state{relay="wss://a",state="connecting"} 0
relaymesh_relay_state{relay="wss://a",state="degraded"} 0
relaymesh_relay_state{relay="wss://a",state="disconnected"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "relaymesh_relay_state"))

	m.ForgetRelay("wss://a")
	n, err := testutil.GatherAndCount(reg, "relaymesh_relay_state")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	_, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	_, err = metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	_, err = metrics.New(reg)
	require.NoError(t, err)
	_, err = metrics.New(reg)
	require.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.RelayState("r", "connected")
	m.ConnectFailure("r")
	m.FrameReceived("r", "EVENT")
	m.Broadcast("ok", 3)
	m.RouterEvent("delivered")
	m.ForgetRelay("r")
}
