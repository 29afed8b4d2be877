package wallet

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeypairDerivationIsDeterministic(t *testing.T) {
	w := &Wallet{
		Mnemonic:     "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		AccountIndex: 0,
	}
	k1, err := w.Keypair()
	require.NoError(t, err)
	k2, err := w.Keypair()
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestDifferentAccountIndexesDeriveDifferentAddresses(t *testing.T) {
	base := &Wallet{Mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"}
	w0 := *base
	w0.AccountIndex = 0
	w1 := *base
	w1.AccountIndex = 1

	addr0, err := w0.Address()
	require.NoError(t, err)
	addr1, err := w1.Address()
	require.NoError(t, err)
	require.NotEqual(t, addr0, addr1)
}

func TestKeypairRejectsInvalidMnemonic(t *testing.T) {
	w := &Wallet{Mnemonic: "not a valid mnemonic at all"}
	_, err := w.Keypair()
	require.Error(t, err)
}

func TestSignProducesVerifiableSignature(t *testing.T) {
	w := &Wallet{Mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"}
	addr, err := w.Address()
	require.NoError(t, err)

	msg := []byte("hello")
	sig, err := w.Sign(msg)
	require.NoError(t, err)

	require.True(t, ed25519.Verify(ed25519.PublicKey(addr[:]), msg, sig))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "wallet.dat")

	w, err := New()
	require.NoError(t, err)
	require.NoError(t, w.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, w.Mnemonic, loaded.Mnemonic)
	require.Equal(t, w.AccountIndex, loaded.AccountIndex)
}
