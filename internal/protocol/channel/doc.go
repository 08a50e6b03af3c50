// Package channel implements the authenticated encryption used for direct
// messages between two identities.
//
// # Overview
//
// Both parties derive the same 32-byte SharedSecret from their own private
// key and the peer's public key:
//
//  1. ECDH over secp256k1, keeping only the x-coordinate.
//  2. HKDF-Extract (SHA-256) with a fixed, versioned salt.
//
// Messages are sealed with XChaCha20-Poly1305. The sender and recipient keys
// are bound in as associated data, so an envelope cannot be replayed under
// swapped identities.
//
// # Nonces
//
// A Channel draws a random 16-byte prefix once and appends a 64-bit counter,
// so one Channel never repeats a nonce. The stateless Encrypt function draws
// all 24 bytes at random, which is safe for the volumes a client produces.
//
// # Errors
//
// Decrypt and ParseEnvelope return domain.ErrAuthenticationFailure for every
// failure and never return partial plaintext.
package channel
