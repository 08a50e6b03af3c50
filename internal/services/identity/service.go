package identity

import (
	"errors"
	"fmt"
	"unicode"

	"relaymesh/internal/crypto"
	"relaymesh/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)

	// ErrKeyExists is returned by Generate and Import when a key is already stored.
	ErrKeyExists = errors.New("a key already exists; refusing to overwrite it")
)

// Service manages the local private key using a backing store.
type Service struct {
	store domain.KeyStore
	force bool
}

// New returns an identity service backed by the given store.
func New(s domain.KeyStore) *Service { return &Service{store: s} }

// Overwrite lets Generate and Import replace an existing key.
func (s *Service) Overwrite(ok bool) *Service { s.force = ok; return s }

// Generate creates a new key, saves it sealed with the passphrase, and
// returns its public key and fingerprint.
func (s *Service) Generate(passphrase string) (domain.PublicKey, domain.Fingerprint, error) {
	if err := s.checkWritable(passphrase); err != nil {
		return domain.PublicKey{}, "", err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return domain.PublicKey{}, "", err
	}
	defer key.Wipe()

	raw := key.Bytes()
	defer crypto.Wipe(raw)
	if err := s.store.SaveKey(passphrase, raw); err != nil {
		return domain.PublicKey{}, "", err
	}
	pub := key.PublicKey()
	return pub, crypto.Fingerprint(pub), nil
}

// Load opens the stored key and returns its 32 raw bytes. Callers should
// wipe the result once the key is handed to a profile.
func (s *Service) Load(passphrase string) ([]byte, error) {
	return s.store.LoadKey(passphrase)
}

// Import validates raw and stores it sealed with the passphrase.
func (s *Service) Import(passphrase string, raw []byte) (domain.PublicKey, error) {
	if err := s.checkWritable(passphrase); err != nil {
		return domain.PublicKey{}, err
	}
	key, err := crypto.ParsePrivateKey(raw)
	if err != nil {
		return domain.PublicKey{}, err
	}
	defer key.Wipe()
	if err := s.store.SaveKey(passphrase, raw); err != nil {
		return domain.PublicKey{}, err
	}
	return key.PublicKey(), nil
}

// Export returns the stored private key bytes.
func (s *Service) Export(passphrase string) ([]byte, error) {
	raw, err := s.store.LoadKey(passphrase)
	if err != nil {
		return nil, err
	}
	if _, err := crypto.ParsePrivateKey(raw); err != nil {
		crypto.Wipe(raw)
		return nil, err
	}
	return raw, nil
}

// Fingerprint returns a short fingerprint of the stored key's public key.
func (s *Service) Fingerprint(passphrase string) (domain.Fingerprint, error) {
	pub, err := s.PublicKey(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(pub), nil
}

// PublicKey returns the public key of the stored key.
func (s *Service) PublicKey(passphrase string) (domain.PublicKey, error) {
	raw, err := s.store.LoadKey(passphrase)
	if err != nil {
		return domain.PublicKey{}, err
	}
	defer crypto.Wipe(raw)
	key, err := crypto.ParsePrivateKey(raw)
	if err != nil {
		return domain.PublicKey{}, err
	}
	defer key.Wipe()
	return key.PublicKey(), nil
}

func (s *Service) checkWritable(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	if !s.force && s.store.Exists() {
		return ErrKeyExists
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len([]rune(passphrase)) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
