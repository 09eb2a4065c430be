package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultRoundTrip(t *testing.T) {
	vault, err := NewVault("master-secret")
	require.NoError(t, err)

	creds := map[string]string{"accessToken": "tok-1", "secret": "whsec"}
	envelope, err := vault.EncryptMap(creds)
	require.NoError(t, err)
	require.NotEmpty(t, envelope)

	got, err := vault.DecryptMap(envelope)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestVaultRejectsTamperedEnvelope(t *testing.T) {
	vault, err := NewVault("master-secret")
	require.NoError(t, err)

	envelope, err := vault.EncryptMap(map[string]string{"secret": "s"})
	require.NoError(t, err)

	tampered := []byte(envelope)
	tampered[len(tampered)-5] ^= 0x01
	_, err = vault.DecryptMap(string(tampered))
	assert.Error(t, err)
}

func TestVaultWrongSecretFails(t *testing.T) {
	a, err := NewVault("secret-a")
	require.NoError(t, err)
	b, err := NewVault("secret-b")
	require.NoError(t, err)

	envelope, err := a.EncryptMap(map[string]string{"k": "v"})
	require.NoError(t, err)
	_, err = b.DecryptMap(envelope)
	assert.Error(t, err)
}

func TestVaultEmptyEnvelope(t *testing.T) {
	vault, err := NewVault("master-secret")
	require.NoError(t, err)
	got, err := vault.DecryptMap("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVaultRequiresSecret(t *testing.T) {
	_, err := NewVault("")
	assert.Error(t, err)
}
