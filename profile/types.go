package profile

import (
	"time"

	"relaymesh/internal/domain"
)

type (
	PublicKey     = domain.PublicKey
	Fingerprint   = domain.Fingerprint
	EventID       = domain.EventID
	Event         = domain.Event
	Tag           = domain.Tag
	Filter        = domain.Filter
	InboundEvent  = domain.InboundEvent
	DirectMessage = domain.DirectMessage
)

const (
	KindTextNote               = domain.KindTextNote
	KindEncryptedDirectMessage = domain.KindEncryptedDirectMessage
)

var (
	ErrNoAvailableRelay      = domain.ErrNoAvailableRelay
	ErrQuorumNotReached      = domain.ErrQuorumNotReached
	ErrTransportFailure      = domain.ErrTransportFailure
	ErrAuthenticationFailure = domain.ErrAuthenticationFailure
	ErrInvalidSignature      = domain.ErrInvalidSignature
	ErrInvalidConfiguration  = domain.ErrInvalidConfiguration
	ErrUnknownRelay          = domain.ErrUnknownRelay
	ErrClosed                = domain.ErrClosed
)

// ParsePublicKey decodes a 64 character hex public key.
func ParsePublicKey(s string) (PublicKey, error) { return domain.ParsePublicKey(s) }

// Receipt describes a completed broadcast.
type Receipt struct {
	EventID   EventID
	Acks      int
	Required  int
	Attempted int
	// Acked lists the relays that acknowledged, sorted.
	Acked []string
}

// RelayStatus is a point-in-time view of one relay.
type RelayStatus struct {
	URL                 string
	State               string
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastLatency         time.Duration
	// Score ranks the relay for selection; lower is healthier.
	Score float64
}
