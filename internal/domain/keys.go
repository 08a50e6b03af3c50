package domain

import (
	"encoding/hex"
	"fmt"
)

// PublicKey is a 32-byte x-only secp256k1 public key (BIP-340 encoding).
type PublicKey [32]byte

func (k PublicKey) Slice() []byte  { return k[:] }
func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }
func (k PublicKey) IsZero() bool   { return k == PublicKey{} }

// MarshalText encodes the key as lowercase hex.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(k[:])), nil
}

// UnmarshalText decodes a 64 character hex string.
func (k *PublicKey) UnmarshalText(b []byte) error {
	return decodeFixedHex(k[:], b, "public key")
}

// ParsePublicKey decodes a hex encoded x-only public key. It does not check
// that the key lies on the curve; crypto.LiftPublicKey does that.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	if err := k.UnmarshalText([]byte(s)); err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return k, nil
}

// Fingerprint is a short, human comparable digest of a public key.
type Fingerprint string

func decodeFixedHex(dst, src []byte, what string) error {
	if len(src) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("%s: want %d hex chars, got %d", what, hex.EncodedLen(len(dst)), len(src))
	}
	if _, err := hex.Decode(dst, src); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
