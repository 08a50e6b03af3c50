package identity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relaymesh/internal/crypto"
	"relaymesh/internal/domain"
	"relaymesh/internal/services/identity"
	"relaymesh/internal/store"
)

const pass = "Correct-Horse-9"

func newService(t *testing.T) *identity.Service {
	t.Helper()
	return identity.New(store.NewKeyFileStore(t.TempDir()))
}

func TestGenerate_LoadRoundTrip(t *testing.T) {
	svc := newService(t)
	pub, fp, err := svc.Generate(pass)
	require.NoError(t, err)
	require.Equal(t, crypto.Fingerprint(pub), fp)

	raw, err := svc.Load(pass)
	require.NoError(t, err)
	key, err := crypto.ParsePrivateKey(raw)
	require.NoError(t, err)
	require.Equal(t, pub, key.PublicKey())

	got, err := svc.Fingerprint(pass)
	require.NoError(t, err)
	require.Equal(t, fp, got)
}

func TestGenerate_WeakPassphrase(t *testing.T) {
	svc := newService(t)
	for _, p := range []string{"", "short-A1!", "alllowercase123!", "NoDigitsHere!!", "NoSymbols12345"} {
		_, _, err := svc.Generate(p)
		require.ErrorIs(t, err, identity.ErrWeakPassphrase, p)
	}
}

func TestGenerate_RefusesOverwrite(t *testing.T) {
	svc := newService(t)
	first, _, err := svc.Generate(pass)
	require.NoError(t, err)

	_, _, err = svc.Generate(pass)
	require.ErrorIs(t, err, identity.ErrKeyExists)

	second, _, err := svc.Overwrite(true).Generate(pass)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestImport_ExportRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	svc := newService(t)
	pub, err := svc.Import(pass, key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), pub)

	raw, err := svc.Export(pass)
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), raw)

	_, err = svc.Export("Wrong-Horse-9")
	require.ErrorIs(t, err, domain.ErrAuthenticationFailure)
}

func TestImport_RejectsInvalidKey(t *testing.T) {
	svc := newService(t)
	_, err := svc.Import(pass, make([]byte, 32))
	require.Error(t, err)
	_, err = svc.Import(pass, []byte{1, 2, 3})
	require.Error(t, err)
}
