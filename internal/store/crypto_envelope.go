package store

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"relaymesh/internal/domain"
)

const (
	// The current supported version of the sealed blob format stored on disk.
	keystoreFormatVersion = 1
)

var (
	// ErrWrongPassphrase is returned when the passphrase is incorrect or the
	// blob has been modified.
	ErrWrongPassphrase = fmt.Errorf("%w: wrong passphrase or corrupted key file", domain.ErrAuthenticationFailure)
)

// blob is the on-disk CBOR structure holding the ciphertext and KDF parameters.
type blob struct {
	_      struct{} `cbor:",toarray"`
	V      int
	Salt   []byte
	N      int
	R      int
	P      int
	Cipher []byte
}

type scryptParams struct{ N, r, p int }

// Tunables for scrypt key derivation.
func scryptParamsDefault() scryptParams { return scryptParams{N: 1 << 15, r: 8, p: 1} }

// seal derives a key from passphrase and seals raw into a CBOR blob.
func seal(passphrase string, raw []byte, sp scryptParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	aead, err := deriveAEAD(passphrase, salt[:], sp)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte // zero nonce; the key is fresh per salt
	ct := aead.Seal(nil, nonce[:], raw, salt[:])

	return cbor.Marshal(blob{
		V:      keystoreFormatVersion,
		Salt:   salt[:],
		N:      sp.N,
		R:      sp.r,
		P:      sp.p,
		Cipher: ct,
	})
}

// open decrypts a blob produced by seal.
func open(passphrase string, b []byte) ([]byte, error) {
	var bl blob
	if err := cbor.Unmarshal(b, &bl); err != nil {
		return nil, ErrWrongPassphrase
	}
	if bl.V != keystoreFormatVersion {
		return nil, fmt.Errorf("unsupported key file version %d", bl.V)
	}
	aead, err := deriveAEAD(passphrase, bl.Salt, scryptParams{N: bl.N, r: bl.R, p: bl.P})
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, bl.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func deriveAEAD(passphrase string, salt []byte, sp scryptParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, sp.N, sp.r, sp.p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}
