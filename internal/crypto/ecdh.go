package crypto

import (
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"relaymesh/internal/domain"
)

// ECDH returns the 32-byte x-coordinate of d·P for the remote key P.
// The result is raw key material; run it through a KDF before use.
func (p *PrivateKey) ECDH(remote domain.PublicKey) ([]byte, error) {
	pk, err := LiftPublicKey(remote)
	if err != nil {
		return nil, err
	}
	return secp.GenerateSharedSecret(p.k, pk), nil
}
