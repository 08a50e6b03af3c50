// Package relayserver is a small in-memory relay.
//
// It accepts signed events, keeps a bounded window of the most recent ones,
// replays matches when a subscription is installed and fans new events out
// to every matching live subscription. It backs cmd/relay and the in-memory
// test network.
//
// # Behaviour
//
//   - EVENT: the id and signature are verified; bad events get OK false,
//     repeats get OK true with a "duplicate:" message.
//   - REQ: replaces any subscription with the same id, replays stored
//     matches (newest Limit, oldest first) and sends EOSE.
//   - CLOSE: drops the subscription silently.
//   - Each connection has a bounded outbound queue. A client that cannot
//     keep up loses frames rather than stalling the relay.
package relayserver
