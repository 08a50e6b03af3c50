package channel

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"relaymesh/internal/crypto"
	"relaymesh/internal/domain"
)

const (
	// Version is the envelope format produced by this package.
	Version   = 1
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX
	TagSize   = chacha20poly1305.Overhead

	prefixSize = NonceSize - 8
)

var kdfSalt = []byte("relaymesh-dm-v1")

var errNonceExhausted = errors.New("channel: nonce counter exhausted")

// SharedSecret is the symmetric key two identities agree on.
type SharedSecret [KeySize]byte

// Wipe zeroes the secret.
func (s *SharedSecret) Wipe() { crypto.Wipe(s[:]) }

// DeriveSharedSecret computes the secret between local and remote. The
// result is the same for derive(a, B) and derive(b, A).
func DeriveSharedSecret(local *crypto.PrivateKey, remote domain.PublicKey) (SharedSecret, error) {
	var out SharedSecret
	x, err := local.ECDH(remote)
	if err != nil {
		return out, err
	}
	prk := hkdf.Extract(sha256.New, x, kdfSalt)
	copy(out[:], prk)
	crypto.Wipe(x)
	crypto.Wipe(prk)
	return out, nil
}

// Channel seals messages between a fixed pair of identities.
// It is safe for concurrent use.
type Channel struct {
	local  domain.PublicKey
	remote domain.PublicKey
	aead   cipher.AEAD

	prefix  [prefixSize]byte
	counter atomic.Uint64
}

// New derives the shared secret and returns a ready Channel.
func New(local *crypto.PrivateKey, remote domain.PublicKey) (*Channel, error) {
	secret, err := DeriveSharedSecret(local, remote)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe()
	return NewWithSecret(secret, local.PublicKey(), remote)
}

// NewWithSecret builds a Channel from an already derived secret.
func NewWithSecret(secret SharedSecret, local, remote domain.PublicKey) (*Channel, error) {
	aead, err := chacha20poly1305.NewX(secret[:])
	if err != nil {
		return nil, err
	}
	c := &Channel{local: local, remote: remote, aead: aead}
	if _, err := rand.Read(c.prefix[:]); err != nil {
		return nil, err
	}
	return c, nil
}

// Encrypt seals plaintext from the local to the remote identity.
func (c *Channel) Encrypt(plaintext []byte) (domain.EncryptedEnvelope, error) {
	n := c.counter.Add(1)
	if n == 0 {
		return domain.EncryptedEnvelope{}, errNonceExhausted
	}
	var nonce [NonceSize]byte
	copy(nonce[:], c.prefix[:])
	binary.BigEndian.PutUint64(nonce[prefixSize:], n)
	return seal(c.aead, nonce, c.local, c.remote, plaintext), nil
}

// Decrypt opens an envelope exchanged between the two identities of c, in
// either direction.
func (c *Channel) Decrypt(env domain.EncryptedEnvelope) ([]byte, error) {
	inbound := env.Sender == c.remote && env.Recipient == c.local
	outbound := env.Sender == c.local && env.Recipient == c.remote
	if !inbound && !outbound {
		return nil, domain.ErrAuthenticationFailure
	}
	return open(c.aead, env)
}

// Encrypt seals plaintext under secret with a random nonce.
func Encrypt(secret SharedSecret, sender, recipient domain.PublicKey, plaintext []byte) (domain.EncryptedEnvelope, error) {
	aead, err := chacha20poly1305.NewX(secret[:])
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	return seal(aead, nonce, sender, recipient, plaintext), nil
}

// Decrypt opens env under secret.
func Decrypt(secret SharedSecret, env domain.EncryptedEnvelope) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(secret[:])
	if err != nil {
		return nil, domain.ErrAuthenticationFailure
	}
	return open(aead, env)
}

func seal(aead cipher.AEAD, nonce [NonceSize]byte, sender, recipient domain.PublicKey, plaintext []byte) domain.EncryptedEnvelope {
	out := aead.Seal(nil, nonce[:], plaintext, associatedData(sender, recipient))
	env := domain.EncryptedEnvelope{
		Version:    Version,
		Sender:     sender,
		Recipient:  recipient,
		Nonce:      nonce,
		Ciphertext: out[:len(out)-TagSize],
	}
	copy(env.Tag[:], out[len(out)-TagSize:])
	return env
}

func open(aead cipher.AEAD, env domain.EncryptedEnvelope) ([]byte, error) {
	if env.Version != Version {
		return nil, domain.ErrAuthenticationFailure
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag[:]...)
	pt, err := aead.Open(nil, env.Nonce[:], sealed, associatedData(env.Sender, env.Recipient))
	if err != nil {
		return nil, domain.ErrAuthenticationFailure
	}
	return pt, nil
}

func associatedData(sender, recipient domain.PublicKey) []byte {
	ad := make([]byte, 0, 1+2*len(sender))
	ad = append(ad, Version)
	ad = append(ad, sender[:]...)
	return append(ad, recipient[:]...)
}
