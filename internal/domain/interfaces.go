package domain

// KeyStore persists the local private key sealed under a passphrase.
type KeyStore interface {
	SaveKey(passphrase string, raw []byte) error
	LoadKey(passphrase string) ([]byte, error)
	Exists() bool
}

// IdentityService manages the lifecycle of the local identity key.
type IdentityService interface {
	Generate(passphrase string) (PublicKey, Fingerprint, error)
	Load(passphrase string) ([]byte, error)
	Import(passphrase string, raw []byte) (PublicKey, error)
	Export(passphrase string) ([]byte, error)
	Fingerprint(passphrase string) (Fingerprint, error)
}
