// Package crypto exposes the secp256k1 primitives used by relaymesh.
//
// Contents
//
//   - Private key generation, parsing and export (GenerateKey, ParsePrivateKey)
//   - BIP-340 Schnorr signing and verification (PrivateKey.Sign, Verify)
//   - Elliptic-curve Diffie-Hellman over x-only public keys (PrivateKey.ECDH)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//
// # Notes
//
// Public keys are the 32-byte x-only encoding. A key read from the wire is
// lifted to the point with even Y, so ECDH only ever depends on the shared
// x-coordinate and is symmetric between the two parties.
package crypto
