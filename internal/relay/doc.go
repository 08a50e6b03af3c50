// Package relay manages the connection to a single relay.
//
// A Session owns one relay URL and keeps a connection to it alive in its own
// goroutine, moving through four states:
//
//	Disconnected --connect--> Connecting --ok--> Connected
//	Connecting --retry budget exhausted--> Disconnected
//	Connected --errors or liveness timeout--> Degraded
//	Degraded --backoff elapsed--> Connecting
//	any --Close--> Disconnected
//
// Failed connection attempts back off exponentially with jitter, capped at
// Config.BackoffMax. After Config.MaxRetries consecutive failures the session
// reports Disconnected and tries again after a full BackoffMax.
//
// # Health
//
// The session is the only writer of its health fields (consecutive failures,
// last success, last latency). Readers take an immutable Endpoint snapshot.
//
// # Liveness
//
// While connected the session pings every PingInterval. A pong, any inbound
// frame or a publish acknowledgement counts as a round-trip; going longer
// than LivenessTimeout without one demotes the session to Degraded.
package relay
