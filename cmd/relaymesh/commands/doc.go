// Package commands defines the relaymesh CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init      Create the local identity
//   - pubkey    Print the public key and its fingerprint
//   - export    Print the private key as hex
//   - import    Replace the local identity with a hex private key
//   - send      Encrypt and send a direct message
//   - listen    Print direct messages as they arrive
//   - publish   Publish a signed text note
//   - relays    Connect and print the health of every relay
//
// # Implementation
//
// The root command loads the TOML configuration, applies flag overrides and
// builds the dependency graph (logging, key store, identity service, metrics
// registry) before any subcommand runs. Commands that talk to relays open a
// profile and close it on exit.
package commands
