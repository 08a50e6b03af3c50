package crypto

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"relaymesh/internal/domain"
)

// Sign produces a BIP-340 signature over a 32-byte digest.
func (p *PrivateKey) Sign(digest [32]byte) (domain.Signature, error) {
	var out domain.Signature
	sig, err := schnorr.Sign(p.k, digest[:])
	if err != nil {
		return out, err
	}
	copy(out[:], sig.Serialize())
	return out, nil
}

// Verify checks sig over digest for pub. Malformed keys or signatures verify
// as false.
func Verify(pub domain.PublicKey, digest [32]byte, sig domain.Signature) bool {
	pk, err := schnorr.ParsePubKey(pub[:])
	if err != nil {
		return false
	}
	s, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	return s.Verify(digest[:], pk)
}
