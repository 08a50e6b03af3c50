package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportFailure marks a failed dial, send, or receive on one relay.
	ErrTransportFailure = errors.New("transport failure")
	// ErrNoAvailableRelay is returned when a pool has nothing left to try.
	ErrNoAvailableRelay = errors.New("no available relay")
	// ErrQuorumNotReached is returned when a broadcast gathered fewer
	// acknowledgements than required before its deadline.
	ErrQuorumNotReached = errors.New("acknowledgement quorum not reached")
	// ErrAuthenticationFailure covers every decryption failure. Callers never
	// learn which check failed.
	ErrAuthenticationFailure = errors.New("authentication failure")
	// ErrInvalidSignature is an AuthenticationFailure on an event id or signature.
	ErrInvalidSignature = fmt.Errorf("%w: invalid event signature", ErrAuthenticationFailure)
	// ErrInvalidConfiguration rejects malformed caller input.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	ErrNotConnected = errors.New("relay not connected")
	ErrClosed       = errors.New("closed")
	ErrUnknownRelay = errors.New("unknown relay")
)

// TransportError is a transport failure attributed to a single relay.
type TransportError struct {
	Relay string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Relay, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransportFailure }

// RejectedError is a relay answering OK false. The relay is healthy but the
// event does not count as acknowledged.
type RejectedError struct {
	Relay   string
	EventID EventID
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("relay %s rejected %s: %s", e.Relay, e.EventID, e.Message)
}
