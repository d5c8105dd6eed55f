package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	ciphertext, err := Encrypt([]byte("guarded payload"), key)
	require.NoError(t, err)
	require.NotContains(t, ciphertext, "guarded payload")

	plaintext, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	require.Equal(t, "guarded payload", string(plaintext))
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	other, err := GenerateKey()
	require.NoError(t, err)

	ciphertext, err := Encrypt([]byte("secret"), key)
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, other)
	require.Error(t, err)
}

func TestDecryptRejectsTruncatedPayload(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	_, err = Decrypt("c2hvcnQ", key)
	require.Error(t, err)
}
