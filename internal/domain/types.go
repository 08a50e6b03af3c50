package domain

import "time"

// EncryptedEnvelope is the sealed form of a direct message. Tag is kept
// apart from Ciphertext so the pieces map one to one onto the AEAD output.
type EncryptedEnvelope struct {
	Version    uint8
	Sender     PublicKey
	Recipient  PublicKey
	Nonce      [24]byte
	Ciphertext []byte
	Tag        [16]byte
}

// DirectMessage is a decrypted message delivered to the application.
type DirectMessage struct {
	EventID   EventID
	From      PublicKey
	Plaintext []byte
	SentAt    time.Time
	Relay     string
}
