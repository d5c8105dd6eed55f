// Package storetest provides store fixtures for package-level tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-mobile/synccore/internal/database/testutil"
	"github.com/aegis-mobile/synccore/internal/keystore"
	"github.com/aegis-mobile/synccore/internal/store"
	"github.com/aegis-mobile/synccore/internal/vault"
	"github.com/aegis-mobile/synccore/pkg/crypto"
)

// FastArgon2Params keeps key derivation cheap in tests.
func FastArgon2Params() crypto.Argon2Parameters {
	return crypto.Argon2Parameters{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 32}
}

// MustOpenStore returns an initialised Store backed by an in-memory
// database and a throwaway file key store.
func MustOpenStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	keys, err := keystore.NewFileStore(filepath.Join(t.TempDir(), "device.key"))
	require.NoError(t, err)

	opts = append([]store.Option{
		store.WithCryptoOptions(vault.WithArgon2Parameters(FastArgon2Params())),
	}, opts...)

	s, err := store.New(db, keys, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))

	return s
}
