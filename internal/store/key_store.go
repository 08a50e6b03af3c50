package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"relaymesh/internal/domain"
)

const keyFilename = "key.cbor.enc"

// ErrNoKey is returned by LoadKey when nothing has been saved yet.
var ErrNoKey = errors.New("no key file; run init or import first")

// KeyFileStore persists the local private key to disk.
type KeyFileStore struct {
	dir    string
	params scryptParams
	mu     sync.Mutex
}

// NewKeyFileStore returns a KeyFileStore rooted at dir.
func NewKeyFileStore(dir string) *KeyFileStore {
	return &KeyFileStore{dir: dir, params: scryptParamsDefault()}
}

// Path is the key file location.
func (s *KeyFileStore) Path() string { return filepath.Join(s.dir, keyFilename) }

// SaveKey seals raw under passphrase, replacing any existing key file.
func (s *KeyFileStore) SaveKey(passphrase string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := seal(passphrase, raw, s.params)
	if err != nil {
		return err
	}
	return replaceSealed(s.Path(), b)
}

// LoadKey reads and opens the key file.
func (s *KeyFileStore) LoadKey(passphrase string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readSealed(s.Path())
	if err != nil {
		return nil, err
	}
	return open(passphrase, b)
}

// Exists reports whether a key file is present.
func (s *KeyFileStore) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Compile-time assertion that KeyFileStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyFileStore)(nil)
