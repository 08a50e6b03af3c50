// Package metrics holds the Prometheus collectors for one relay pool.
//
// Collectors are registered on a caller supplied Registerer rather than the
// global default, so several profiles can live in one process. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of collectors shared by a pool, its sessions and its router.
type Metrics struct {
	relayState      *prometheus.GaugeVec
	connectFailures *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	broadcasts      *prometheus.CounterVec
	broadcastAcks   prometheus.Histogram
	routerEvents    *prometheus.CounterVec
}

var relayStates = []string{"disconnected", "connecting", "connected", "degraded"}

// New creates the collectors and registers them on reg. A nil reg creates a
// private registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		relayState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relaymesh_relay_state",
				Help: "1 for the current state of each relay session",
			},
			[]string{"relay", "state"},
		),
		connectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymesh_relay_connect_failures_total",
				Help: "Number of failed connection attempts per relay",
			},
			[]string{"relay"},
		),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymesh_frames_received_total",
				Help: "Number of frames received per relay and frame type",
			},
			[]string{"relay", "type"},
		),
		broadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymesh_broadcast_total",
				Help: "Number of broadcasts by outcome",
			},
			[]string{"outcome"},
		),
		broadcastAcks: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relaymesh_broadcast_acks",
				Help:    "Acknowledgements gathered per broadcast",
				Buckets: prometheus.LinearBuckets(0, 1, 10),
			},
		),
		routerEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymesh_router_events_total",
				Help: "Inbound events by routing result",
			},
			[]string{"result"},
		),
	}
	for _, c := range []prometheus.Collector{
		m.relayState, m.connectFailures, m.framesReceived,
		m.broadcasts, m.broadcastAcks, m.routerEvents,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RelayState marks state as the current state of relay.
func (m *Metrics) RelayState(relay, state string) {
	if m == nil {
		return
	}
	for _, s := range relayStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.relayState.WithLabelValues(relay, s).Set(v)
	}
}

// ConnectFailure counts one failed dial.
func (m *Metrics) ConnectFailure(relay string) {
	if m == nil {
		return
	}
	m.connectFailures.WithLabelValues(relay).Inc()
}

// FrameReceived counts one inbound frame.
func (m *Metrics) FrameReceived(relay, frameType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(relay, frameType).Inc()
}

// Broadcast records the outcome of one broadcast and its ack count.
func (m *Metrics) Broadcast(outcome string, acks int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(outcome).Inc()
	m.broadcastAcks.Observe(float64(acks))
}

// RouterEvent counts an inbound event by result, e.g. "delivered",
// "duplicate", "invalid_signature", "unmatched", "overflow", "undecryptable".
func (m *Metrics) RouterEvent(result string) {
	if m == nil {
		return
	}
	m.routerEvents.WithLabelValues(result).Inc()
}

// ForgetRelay drops every series labelled with relay.
func (m *Metrics) ForgetRelay(relay string) {
	if m == nil {
		return
	}
	m.relayState.DeletePartialMatch(prometheus.Labels{"relay": relay})
	m.connectFailures.DeletePartialMatch(prometheus.Labels{"relay": relay})
	m.framesReceived.DeletePartialMatch(prometheus.Labels{"relay": relay})
}
