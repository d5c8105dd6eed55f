package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func fastParams() Argon2Parameters {
	return Argon2Parameters{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: KeySize}
}

func TestDeriveKeyArgon2idIsDeterministic(t *testing.T) {
	secret := []byte("device-key-material")
	salt := bytes.Repeat([]byte{0xA5}, 16)

	first, err := DeriveKeyArgon2id(secret, salt, fastParams())
	require.NoError(t, err)
	second, err := DeriveKeyArgon2id(secret, salt, fastParams())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, first, KeySize)
}

func TestDeriveKeyArgon2idSaltSeparation(t *testing.T) {
	secret := []byte("device-key-material")

	keyA, err := DeriveKeyArgon2id(secret, bytes.Repeat([]byte{0x01}, 16), fastParams())
	require.NoError(t, err)
	keyB, err := DeriveKeyArgon2id(secret, bytes.Repeat([]byte{0x02}, 16), fastParams())
	require.NoError(t, err)

	require.NotEqual(t, keyA, keyB)
}

func TestDeriveKeyArgon2idRejectsBadInput(t *testing.T) {
	salt := bytes.Repeat([]byte{0x01}, 16)

	_, err := DeriveKeyArgon2id(nil, salt, fastParams())
	require.Error(t, err, "empty secret")

	_, err = DeriveKeyArgon2id([]byte("secret"), []byte("short"), fastParams())
	require.Error(t, err, "short salt")
}

func TestArgon2ParametersValidate(t *testing.T) {
	require.NoError(t, DefaultArgon2Params().Validate())

	cases := map[string]Argon2Parameters{
		"zero time":        {Time: 0, Memory: 8 * 1024, Threads: 1, KeyLength: KeySize},
		"zero threads":     {Time: 1, Memory: 8 * 1024, Threads: 0, KeyLength: KeySize},
		"low memory":       {Time: 1, Memory: 4, Threads: 1, KeyLength: KeySize},
		"wrong key length": {Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 16},
	}
	for name, params := range cases {
		require.Error(t, params.Validate(), name)
	}
}
