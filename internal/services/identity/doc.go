// Package identity manages creation, sealing and loading of the local key.
//
// It enforces passphrase policy, generates secp256k1 keys, and persists
// them via the domain.KeyStore.
package identity
