package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"relaymesh/internal/domain"
)

// Fingerprint returns a short, grouped hex fingerprint of a public key.
//
// It hashes with SHA-256, truncates to 10 bytes and groups by four hex
// characters, e.g. "1a2b 3c4d 5e6f 7a8b 9c0d".
func Fingerprint(pub domain.PublicKey) domain.Fingerprint {
	sum := sha256.Sum256(pub[:])
	h := hex.EncodeToString(sum[:10])
	var b strings.Builder
	for i := 0; i < len(h); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(h[i : i+4])
	}
	return domain.Fingerprint(b.String())
}
