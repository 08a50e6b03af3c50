// Package event implements content addressing and signing of events.
//
// The canonical serialization is the UTF-8 JSON array
//
//	[0, <pubkey hex>, <created_at>, <kind>, <tags>, <content>]
//
// with no insignificant whitespace and no HTML escaping. An event id is the
// SHA-256 of that serialization and the signature is BIP-340 over the id.
package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"relaymesh/internal/crypto"
	"relaymesh/internal/domain"
)

// Canonical returns the serialization an event id is computed over.
func Canonical(ev domain.Event) ([]byte, error) {
	tags := make([][]string, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		if t == nil {
			t = domain.Tag{}
		}
		tags = append(tags, t)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{0, ev.PubKey.String(), ev.CreatedAt, ev.Kind, tags, ev.Content}); err != nil {
		return nil, fmt.Errorf("event: canonical encoding: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// ComputeID hashes the canonical serialization of ev.
func ComputeID(ev domain.Event) (domain.EventID, error) {
	b, err := Canonical(ev)
	if err != nil {
		return domain.EventID{}, err
	}
	return sha256.Sum256(b), nil
}

// Sign sets PubKey, ID and Sig on ev using key. Nil tags are normalised to an
// empty list so the signed form and the wire form agree.
func Sign(ev *domain.Event, key *crypto.PrivateKey) error {
	if ev.Tags == nil {
		ev.Tags = []domain.Tag{}
	}
	ev.PubKey = key.PublicKey()
	id, err := ComputeID(*ev)
	if err != nil {
		return err
	}
	sig, err := key.Sign(id)
	if err != nil {
		return fmt.Errorf("event: sign: %w", err)
	}
	ev.ID = id
	ev.Sig = sig
	return nil
}

// Verify recomputes the id and checks the signature. Every failure is
// reported as domain.ErrInvalidSignature.
func Verify(ev domain.Event) error {
	id, err := ComputeID(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if id != ev.ID {
		return fmt.Errorf("%w: id does not match content", domain.ErrInvalidSignature)
	}
	if !crypto.Verify(ev.PubKey, id, ev.Sig) {
		return domain.ErrInvalidSignature
	}
	return nil
}
