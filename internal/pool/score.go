package pool

import (
	"time"

	"relaymesh/internal/relay"
)

// Weights parameterise the health score.
type Weights struct {
	// Failure is added per consecutive failure. Keep it above
	// LatencyCap/time.Millisecond + StalenessCap/time.Second so a single
	// failure outweighs any latency and staleness.
	Failure float64
	// LatencyCap bounds the latency term, counted in milliseconds.
	LatencyCap time.Duration
	// StalenessCap bounds the staleness term, counted in seconds. A relay
	// that never succeeded scores the full cap.
	StalenessCap time.Duration
}

// DefaultWeights returns the weights used by New.
func DefaultWeights() Weights {
	return Weights{
		Failure:      10000,
		LatencyCap:   5 * time.Second,
		StalenessCap: time.Hour,
	}
}

// Score ranks ep at time now; lower is healthier.
func Score(ep relay.Endpoint, now time.Time, w Weights) float64 {
	latency := ep.LastLatency
	if latency > w.LatencyCap {
		latency = w.LatencyCap
	}
	stale := w.StalenessCap
	if !ep.LastSuccess.IsZero() {
		if d := now.Sub(ep.LastSuccess); d < stale {
			stale = d
		}
		if stale < 0 {
			stale = 0
		}
	}
	return float64(ep.ConsecutiveFailures)*w.Failure +
		float64(latency)/float64(time.Millisecond) +
		stale.Seconds()
}

// tier groups states for selection; lower tiers are preferred and -1
// excludes the session.
func tier(kind OperationKind, st relay.State) int {
	switch st {
	case relay.StateConnected:
		return 0
	case relay.StateConnecting, relay.StateDegraded:
		if kind == OpPublish {
			return 1
		}
	}
	return -1
}
