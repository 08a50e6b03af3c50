// Package main runs the in-memory websocket relay used by relaymesh during
// development and tests. It verifies and stores published events and serves
// them to subscribers.
//
// Protocol
//
//	["EVENT", <event>]
//	    Verify and store the event, answer ["OK", <id>, <accepted>, <message>]
//	    and forward it to every matching subscription.
//
//	["REQ", <subscription id>, <filter>]
//	    Replay the newest stored events matching the filter, oldest first,
//	    then send ["EOSE", <subscription id>] and stream new matches.
//
//	["CLOSE", <subscription id>]
//	    Stop streaming to that subscription.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit. Only the newest
//     --max-events events are kept.
//   - Events with a bad id or signature are refused with "invalid:", and
//     resubmissions with "duplicate:".
//   - Each connection has a bounded outbound queue; a client that falls too
//     far behind is disconnected.
//   - The default listen address is :7447.
//
// As of now, this relay is intended for local use. It never sees plaintext
// or private keys; direct messages reach it already encrypted.
package main
