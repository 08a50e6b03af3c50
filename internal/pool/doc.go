// Package pool holds the set of relay sessions a profile talks to.
//
// # Selection
//
// Sessions are ranked by a health score where lower is better. Consecutive
// failures dominate, then round-trip latency, then time since the last
// success. Select never returns Disconnected sessions. Connected sessions
// come first; for publishing, Connecting and Degraded sessions fill any
// remaining slots because they may recover within the broadcast deadline.
//
// # Broadcast
//
// Broadcast sends one frame to the selected sessions concurrently and
// returns as soon as Policy.MinAcks sessions acknowledge it. A hung relay
// costs at most the broadcast deadline and never delays the others.
// Stragglers keep running in the background until they finish or the
// deadline passes.
package pool
