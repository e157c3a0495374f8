package pki_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsenecal/FastPKI/pki"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := pki.GenerateKeyPair(2048)
	require.NoError(t, err)
	assert.Equal(t, 2048, kp.PrivateKey.N.BitLen())
	assert.Contains(t, string(kp.PrivateKeyPEM), "BEGIN PRIVATE KEY")

	// Round-trips through the stored form.
	signer, err := pki.ParsePrivateKeyPEM(string(kp.PrivateKeyPEM))
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKey.Public(), signer.Public())
}

func TestGenerateKeyPair_WeakKey(t *testing.T) {
	_, err := pki.GenerateKeyPair(1024)
	assert.ErrorIs(t, err, pki.ErrWeakKey)

	_, err = pki.GenerateKeyPair(0)
	assert.ErrorIs(t, err, pki.ErrWeakKey)
}

func TestParsePrivateKeyPEM_Garbage(t *testing.T) {
	_, err := pki.ParsePrivateKeyPEM("not a key")
	assert.ErrorIs(t, err, pki.ErrSigning)
}
