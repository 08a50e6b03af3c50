// Package app wires application dependencies for the CLI.
//
// It loads the TOML configuration, then builds the logging backend, the
// metrics registry, the key store and the identity service, exposing them
// via the Wire struct. Wire.OpenProfile unseals the stored key and starts a
// profile on the configured relays.
package app
