// Package transport is the boundary between relay sessions and the network.
//
// A Conn carries decoded frames in both directions and exposes a liveness
// check (Ping, answered through the pong handler). Two implementations are
// provided:
//
//   - websocket: JSON array frames over text messages (gorilla/websocket).
//   - Pipe: an in-memory connected pair that runs frames through the same
//     codec, used by the development relay and by tests.
//
// # Wire format
//
//	client to relay   ["EVENT", <event>]  ["REQ", <sub>, <filter>]  ["CLOSE", <sub>]
//	relay to client   ["EVENT", <sub>, <event>]  ["OK", <id>, <bool>, <msg>]
//	                  ["EOSE", <sub>]  ["NOTICE", <msg>]  ["CLOSED", <sub>, <msg>]
//
// A frame that fails to decode is reported as ErrMalformedFrame; the
// connection itself remains usable.
package transport
