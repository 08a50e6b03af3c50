// Package profile is the public entry point of relaymesh.
//
// A Profile binds one secp256k1 identity to a pool of relay sessions and a
// subscription router:
//
//	p, err := profile.CreateProfile(key, []string{"wss://relay.example"},
//		profile.WithConfig(cfg))
//	defer p.Close()
//
//	receipt, err := p.SendEncryptedMessage(ctx, bob, []byte("hi"))
//
//	stream, err := p.SubscribeToMessages(ctx)
//	for dm := range stream.Messages() {
//		...
//	}
//
// Outbound operations are broadcast to the healthiest relays and succeed
// once Config.Publish.MinAcks relays acknowledge them. Inbound events are
// verified and deduplicated before they reach a subscriber. Direct messages
// that fail authentication are logged and dropped; they never end a stream.
//
// A Profile owns no on-disk state. ExportPrivateKey and ImportPrivateKey are
// the only ways key material crosses its boundary.
package profile
