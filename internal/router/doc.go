// Package router merges the events that many relays deliver for one
// subscription into a single stream.
//
// Each subscription keeps a bounded window of recently seen event ids.
// An inbound event is first matched against the subscription's filter, then
// checked against the window, and only then verified; events that pass are
// recorded in the window and delivered once. Events with a bad id or
// signature are logged and dropped without touching the window, so a
// forged copy cannot shadow the genuine event.
//
// Delivery never waits for the consumer. Each subscription has a bounded
// buffer; when it is full the event is dropped, logged and counted, so a
// stalled reader cannot hold up the relay connections that feed every other
// subscription and every publish acknowledgement.
package router
