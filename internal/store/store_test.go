package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-mobile/synccore/internal/database/testutil"
	"github.com/aegis-mobile/synccore/internal/keystore"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/store"
	"github.com/aegis-mobile/synccore/internal/store/storetest"
	"github.com/aegis-mobile/synccore/internal/vault"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
)

func TestInitializeIsIdempotent(t *testing.T) {
	s := storetest.MustOpenStore(t)
	require.NoError(t, s.Initialize(context.Background()))
}

func TestInitializeWithWrongKeySurfacesEncryptionError(t *testing.T) {
	ctx := context.Background()
	db := testutil.MustOpenTestDB(t)
	dir := t.TempDir()

	keysA, err := keystore.NewFileStore(filepath.Join(dir, "a.key"))
	require.NoError(t, err)

	first, err := store.New(db, keysA,
		store.WithCryptoOptions(vault.WithArgon2Parameters(storetest.FastArgon2Params())))
	require.NoError(t, err)
	require.NoError(t, first.Initialize(ctx))

	// A different key store simulates a lost device key against the same data.
	keysB, err := keystore.NewFileStore(filepath.Join(dir, "b.key"))
	require.NoError(t, err)

	second, err := store.New(db, keysB,
		store.WithCryptoOptions(vault.WithArgon2Parameters(storetest.FastArgon2Params())))
	require.NoError(t, err)

	err = second.Initialize(ctx)
	require.ErrorIs(t, err, apperrors.ErrEncryptionKey)
}

func TestUpsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := storetest.MustOpenStore(t)

	tx := &models.Transaction{
		Meta:        models.Meta{UserID: "user-1", EventAt: time.Now().UTC()},
		AmountCents: 2450,
		Currency:    "EUR",
		Merchant:    "Corner Cafe",
		Category:    "food",
		Confidence:  0.92,
	}
	require.NoError(t, s.Upsert(ctx, tx))
	require.NotEmpty(t, tx.ID)

	got, err := s.Get(ctx, models.KindTransaction, tx.ID)
	require.NoError(t, err)

	loaded, ok := got.(*models.Transaction)
	require.True(t, ok)
	require.Equal(t, int64(2450), loaded.AmountCents)
	require.Equal(t, "Corner Cafe", loaded.Merchant)
}

func TestPayloadIsEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	s := storetest.MustOpenStore(t)

	msg := &models.GuardianMessage{
		Meta:       models.Meta{UserID: "user-1"},
		GuardianID: "guardian-9",
		Body:       "sensitive guardian note",
		Severity:   "high",
	}
	require.NoError(t, s.Upsert(ctx, msg))

	var row models.EntityRow
	require.NoError(t, s.DB().Table(models.KindGuardianMessage.Table()).
		Take(&row, "id = ?", msg.ID).Error)
	require.NotContains(t, row.Payload, "sensitive guardian note")
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := storetest.MustOpenStore(t)

	_, err := s.Get(context.Background(), models.KindSetting, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetUnsyncedOrderingAndMarkSynced(t *testing.T) {
	ctx := context.Background()
	s := storetest.MustOpenStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		tx := &models.Transaction{
			Meta:        models.Meta{UserID: "user-1", EventAt: base.Add(time.Duration(i) * time.Hour)},
			AmountCents: int64(100 * (i + 1)),
		}
		require.NoError(t, s.Upsert(ctx, tx))
		ids = append(ids, tx.ID)
	}

	unsynced, err := s.GetUnsynced(ctx, models.KindTransaction, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 3)
	// Most recent event first.
	require.Equal(t, ids[2], unsynced[0].Metadata().ID)
	require.Equal(t, ids[0], unsynced[2].Metadata().ID)

	require.NoError(t, s.MarkSynced(ctx, models.KindTransaction, ids[2]))

	unsynced, err = s.GetUnsynced(ctx, models.KindTransaction, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 2)

	counts, err := s.CountUnsynced(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[models.KindTransaction])
}

func TestMarkSyncedMissingRow(t *testing.T) {
	s := storetest.MustOpenStore(t)
	err := s.MarkSynced(context.Background(), models.KindPattern, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpsertRemoteStoresSynced(t *testing.T) {
	ctx := context.Background()
	s := storetest.MustOpenStore(t)

	setting := &models.Setting{
		Meta:  models.Meta{ID: "setting-1", UserID: "user-1"},
		Key:   "language",
		Value: "fr",
	}
	require.NoError(t, s.UpsertRemote(ctx, setting))

	counts, err := s.CountUnsynced(ctx)
	require.NoError(t, err)
	require.Zero(t, counts[models.KindSetting])
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := storetest.MustOpenStore(t)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, user := range []string{"user-1", "user-1", "user-2"} {
		conv := &models.Conversation{
			Meta:    models.Meta{UserID: user, EventAt: base.AddDate(0, 0, i)},
			Role:    "user",
			Content: "hello",
		}
		require.NoError(t, s.Upsert(ctx, conv))
	}

	byUser, err := s.Query(ctx, models.KindConversation, store.Filter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, byUser, 2)

	windowed, err := s.Query(ctx, models.KindConversation, store.Filter{
		From: base.AddDate(0, 0, 1),
		To:   base.AddDate(0, 0, 2),
	})
	require.NoError(t, err)
	require.Len(t, windowed, 2)
}

func TestRunRetention(t *testing.T) {
	ctx := context.Background()
	s := storetest.MustOpenStore(t)

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	oldSynced := &models.Transaction{Meta: models.Meta{ID: "old-synced", EventAt: now.AddDate(0, 0, -120)}}
	require.NoError(t, s.UpsertRemote(ctx, oldSynced))

	oldUnsynced := &models.Transaction{Meta: models.Meta{ID: "old-unsynced", EventAt: now.AddDate(0, 0, -120)}}
	require.NoError(t, s.Upsert(ctx, oldUnsynced))

	fresh := &models.Transaction{Meta: models.Meta{ID: "fresh", EventAt: now.AddDate(0, 0, -5)}}
	require.NoError(t, s.UpsertRemote(ctx, fresh))

	// Patterns have no retention policy.
	pattern := &models.Pattern{Meta: models.Meta{ID: "pattern-old", EventAt: now.AddDate(-2, 0, 0)}, Label: "late-night"}
	require.NoError(t, s.UpsertRemote(ctx, pattern))

	removed, err := s.RunRetention(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, err = s.Get(ctx, models.KindTransaction, "old-synced")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = s.Get(ctx, models.KindTransaction, "old-unsynced")
	require.NoError(t, err)
	_, err = s.Get(ctx, models.KindPattern, "pattern-old")
	require.NoError(t, err)
}

func TestLastSyncTimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := storetest.MustOpenStore(t)

	got, err := s.LastSyncTime(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	at := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSyncTime(ctx, at))

	got, err = s.LastSyncTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.Equal(at))

	later := at.Add(time.Hour)
	require.NoError(t, s.SetLastSyncTime(ctx, later))

	got, err = s.LastSyncTime(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(later))
}
