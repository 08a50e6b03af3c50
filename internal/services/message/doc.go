// Package message seals and opens encrypted direct messages.
//
// A direct message is a kind 4 event whose content is an encoded
// EncryptedEnvelope and whose "p" tag names the recipient. Channels are
// derived once per peer and kept in a bounded cache.
package message
