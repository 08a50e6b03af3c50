package domain

import (
	"encoding/hex"
	"time"
)

const (
	// KindTextNote is the default kind for published notes.
	KindTextNote = 1
	// KindEncryptedDirectMessage carries an EncryptedEnvelope in its content.
	KindEncryptedDirectMessage = 4
)

// EventID is the SHA-256 of an event's canonical serialization.
type EventID [32]byte

func (id EventID) String() string { return hex.EncodeToString(id[:]) }

func (id EventID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

func (id *EventID) UnmarshalText(b []byte) error {
	return decodeFixedHex(id[:], b, "event id")
}

// Signature is a 64-byte BIP-340 Schnorr signature.
type Signature [64]byte

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

func (s *Signature) UnmarshalText(b []byte) error {
	return decodeFixedHex(s[:], b, "signature")
}

// Tag is a single event tag, e.g. ["p", "<hex pubkey>"].
type Tag []string

// Event is a signed, content-addressed record. Once signed it is immutable:
// any change to the signed fields invalidates both ID and Sig.
type Event struct {
	ID        EventID   `json:"id"`
	PubKey    PublicKey `json:"pubkey"`
	CreatedAt int64     `json:"created_at"`
	Kind      int       `json:"kind"`
	Tags      []Tag     `json:"tags"`
	Content   string    `json:"content"`
	Sig       Signature `json:"sig"`
}

// TagValues returns the first value of every tag named name.
func (e Event) TagValues(name string) []string {
	var out []string
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			out = append(out, t[1])
		}
	}
	return out
}

// Created returns CreatedAt as a time.Time.
func (e Event) Created() time.Time { return time.Unix(e.CreatedAt, 0) }

// InboundEvent is an event admitted by the router for one subscription.
type InboundEvent struct {
	SubscriptionID string
	Relay          string
	Event          Event
	ReceivedAt     time.Time
}
