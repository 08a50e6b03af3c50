// Package store provides file-based persistence for the relaymesh CLI.
//
// The only thing persisted is the local private key, sealed under a
// passphrase with scrypt and ChaCha20-Poly1305 and written atomically under
// the configured home directory. Profiles themselves never touch disk.
package store
