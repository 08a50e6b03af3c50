package channel

import (
	"encoding/base64"

	"github.com/fxamacker/cbor/v2"

	"relaymesh/internal/domain"
)

// wireEnvelope is the CBOR array carried, base64 encoded, in event content.
type wireEnvelope struct {
	_          struct{} `cbor:",toarray"`
	Version    uint8
	Sender     []byte
	Recipient  []byte
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxArrayElements: 16,
		MaxNestedLevels:  4,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// MarshalEnvelope encodes env for an event's content field.
func MarshalEnvelope(env domain.EncryptedEnvelope) (string, error) {
	b, err := cbor.Marshal(wireEnvelope{
		Version:    env.Version,
		Sender:     env.Sender[:],
		Recipient:  env.Recipient[:],
		Nonce:      env.Nonce[:],
		Ciphertext: env.Ciphertext,
		Tag:        env.Tag[:],
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// ParseEnvelope decodes content produced by MarshalEnvelope. Malformed input
// fails with domain.ErrAuthenticationFailure, like a bad tag would.
func ParseEnvelope(content string) (domain.EncryptedEnvelope, error) {
	var env domain.EncryptedEnvelope
	b, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return env, domain.ErrAuthenticationFailure
	}
	var w wireEnvelope
	if err := decMode.Unmarshal(b, &w); err != nil {
		return env, domain.ErrAuthenticationFailure
	}
	if len(w.Sender) != len(env.Sender) || len(w.Recipient) != len(env.Recipient) ||
		len(w.Nonce) != len(env.Nonce) || len(w.Tag) != len(env.Tag) {
		return env, domain.ErrAuthenticationFailure
	}
	env.Version = w.Version
	copy(env.Sender[:], w.Sender)
	copy(env.Recipient[:], w.Recipient)
	copy(env.Nonce[:], w.Nonce)
	copy(env.Tag[:], w.Tag)
	env.Ciphertext = w.Ciphertext
	return env, nil
}
