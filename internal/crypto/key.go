package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"relaymesh/internal/domain"
)

// PrivateKeySize is the length of a serialized secp256k1 scalar.
const PrivateKeySize = 32

// PrivateKey is a secp256k1 identity. The public key is always derived from
// the scalar and cached alongside it.
type PrivateKey struct {
	k   *btcec.PrivateKey
	pub domain.PublicKey
}

func newPrivateKey(k *btcec.PrivateKey) *PrivateKey {
	p := &PrivateKey{k: k}
	copy(p.pub[:], schnorr.SerializePubKey(k.PubKey()))
	return p
}

// GenerateKey returns a fresh identity from the system CSPRNG.
func GenerateKey() (*PrivateKey, error) {
	k, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return newPrivateKey(k), nil
}

// ParsePrivateKey validates a 32-byte big-endian scalar in [1, n-1].
// Out-of-range input is rejected rather than silently reduced.
func ParsePrivateKey(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d",
			domain.ErrInvalidConfiguration, PrivateKeySize, len(b))
	}
	var s secp.ModNScalar
	if overflow := s.SetByteSlice(b); overflow || s.IsZero() {
		s.Zero()
		return nil, fmt.Errorf("%w: private key out of range", domain.ErrInvalidConfiguration)
	}
	k := secp.NewPrivateKey(&s)
	s.Zero()
	return newPrivateKey(k), nil
}

// ParsePrivateKeyHex is ParsePrivateKey over a hex string.
func ParsePrivateKeyHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: private key is not hex", domain.ErrInvalidConfiguration)
	}
	defer Wipe(b)
	return ParsePrivateKey(b)
}

// PublicKey returns the x-only public key.
func (p *PrivateKey) PublicKey() domain.PublicKey { return p.pub }

// Bytes returns a copy of the scalar. Callers own it and should Wipe it.
func (p *PrivateKey) Bytes() []byte { return p.k.Serialize() }

// Wipe zeroes the scalar. The key is unusable afterwards.
func (p *PrivateKey) Wipe() { p.k.Zero() }

// LiftPublicKey parses an x-only key into a curve point with even Y.
func LiftPublicKey(pub domain.PublicKey) (*btcec.PublicKey, error) {
	pk, err := schnorr.ParsePubKey(pub[:])
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not on secp256k1", domain.ErrInvalidConfiguration)
	}
	return pk, nil
}
