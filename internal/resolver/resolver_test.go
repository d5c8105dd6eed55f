package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-mobile/synccore/internal/events"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/queue"
	"github.com/aegis-mobile/synccore/internal/resolver"
	"github.com/aegis-mobile/synccore/internal/store"
	"github.com/aegis-mobile/synccore/internal/store/storetest"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
)

type fixture struct {
	store    *store.Store
	queue    *queue.Queue
	resolver *resolver.Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := storetest.MustOpenStore(t)
	q, err := queue.New(s.DB(), events.NewBus())
	require.NoError(t, err)
	t.Cleanup(q.Shutdown)

	r, err := resolver.New(s, q)
	require.NoError(t, err)

	return &fixture{store: s, queue: q, resolver: r}
}

var eventAt = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

func transaction(id string, confidence float64, blocked bool) *models.Transaction {
	return &models.Transaction{
		Meta:        models.Meta{ID: id, UserID: "u-1", EventAt: eventAt},
		AmountCents: 1299,
		Currency:    "USD",
		Merchant:    "corner-store",
		Category:    "groceries",
		Confidence:  confidence,
		Blocked:     blocked,
	}
}

func pattern(id string, frequency int64, confidence float64, last time.Time) *models.Pattern {
	return &models.Pattern{
		Meta:           models.Meta{ID: id, UserID: "u-1", EventAt: eventAt},
		Label:          "late-night-spend",
		Frequency:      frequency,
		Confidence:     confidence,
		LastOccurrence: last,
	}
}

func TestClassify(t *testing.T) {
	local := transaction("tx-1", 0.5, false)
	remote := transaction("tx-1", 0.9, false)

	conflictType, err := resolver.Classify(nil, remote)
	require.NoError(t, err)
	require.Equal(t, resolver.ConflictCreate, conflictType)

	conflictType, err = resolver.Classify(local, nil)
	require.NoError(t, err)
	require.Equal(t, resolver.ConflictDelete, conflictType)

	conflictType, err = resolver.Classify(local, remote)
	require.NoError(t, err)
	require.Equal(t, resolver.ConflictUpdate, conflictType)

	_, err = resolver.Classify(nil, nil)
	require.Error(t, err)
}

func TestServerWinsAppliesRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := transaction("tx-1", 0.5, false)
	require.NoError(t, f.store.Upsert(ctx, local))

	remote := transaction("tx-1", 0.9, true)
	res, err := f.resolver.Resolve(ctx, models.KindTransaction, local, remote, models.StrategyServerWins)
	require.NoError(t, err)
	require.Equal(t, resolver.ActionAppliedRemote, res.Action)

	got, err := f.store.Get(ctx, models.KindTransaction, "tx-1")
	require.NoError(t, err)
	require.True(t, got.(*models.Transaction).Blocked)

	// Remote state needs no upload.
	unsynced, err := f.store.GetUnsynced(ctx, models.KindTransaction, 10)
	require.NoError(t, err)
	require.Empty(t, unsynced)
}

func TestServerWinsDeleteRemovesLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := transaction("tx-1", 0.5, false)
	require.NoError(t, f.store.Upsert(ctx, local))

	res, err := f.resolver.Resolve(ctx, models.KindTransaction, local, nil, models.StrategyServerWins)
	require.NoError(t, err)
	require.Equal(t, resolver.ActionDeletedLocal, res.Action)

	_, err = f.store.Get(ctx, models.KindTransaction, "tx-1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestClientWinsDeleteKeepsLocalAndRequeues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := transaction("tx-1", 0.5, false)
	require.NoError(t, f.store.Upsert(ctx, local))

	res, err := f.resolver.Resolve(ctx, models.KindTransaction, local, nil, models.StrategyClientWins)
	require.NoError(t, err)
	require.Equal(t, resolver.ActionRequeuedLocal, res.Action)

	_, err = f.store.Get(ctx, models.KindTransaction, "tx-1")
	require.NoError(t, err)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)
}

func TestClientWinsIgnoresRemoteOnlyRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	remote := transaction("tx-new", 0.9, false)
	res, err := f.resolver.Resolve(ctx, models.KindTransaction, nil, remote, models.StrategyClientWins)
	require.NoError(t, err)
	require.Equal(t, resolver.ActionIgnoredRemote, res.Action)

	_, err = f.store.Get(ctx, models.KindTransaction, "tx-new")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestClientWinsIdenticalSidesDoesNotRequeue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := transaction("tx-1", 0.5, false)
	require.NoError(t, f.store.Upsert(ctx, local))

	res, err := f.resolver.Resolve(ctx, models.KindTransaction, local, transaction("tx-1", 0.5, false), models.StrategyClientWins)
	require.NoError(t, err)
	require.Equal(t, resolver.ActionKeptLocal, res.Action)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestMergePatternsSumsFrequencyAndKeepsStrongestSignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	localLast := eventAt.Add(-time.Hour)
	remoteLast := eventAt.Add(time.Hour)

	local := pattern("p-1", 3, 0.6, localLast)
	require.NoError(t, f.store.Upsert(ctx, local))

	remote := pattern("p-1", 5, 0.8, remoteLast)
	res, err := f.resolver.Resolve(ctx, models.KindPattern, local, remote, models.StrategyMerge)
	require.NoError(t, err)
	require.Equal(t, resolver.ActionMerged, res.Action)

	merged := res.Result.(*models.Pattern)
	require.Equal(t, int64(8), merged.Frequency)
	require.Equal(t, 0.8, merged.Confidence)
	require.True(t, merged.LastOccurrence.Equal(remoteLast))

	// The merged record is a fresh local mutation awaiting upload.
	unsynced, err := f.store.GetUnsynced(ctx, models.KindPattern, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)
}

func TestMergeTransactionsPrefersHigherConfidenceAndOrsBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := transaction("tx-1", 0.4, true)
	require.NoError(t, f.store.Upsert(ctx, local))

	remote := transaction("tx-1", 0.9, false)
	remote.Category = "entertainment"

	res, err := f.resolver.Resolve(ctx, models.KindTransaction, local, remote, models.StrategyMerge)
	require.NoError(t, err)

	merged := res.Result.(*models.Transaction)
	require.Equal(t, "tx-1", merged.ID)
	require.Equal(t, "entertainment", merged.Category, "higher-confidence side supplies the classification")
	require.True(t, merged.Blocked, "a block from either side sticks")
}

func TestMergeUnsupportedKindFails(t *testing.T) {
	f := newFixture(t)

	local := &models.Setting{Meta: models.Meta{ID: "s-1", UserID: "u-1", EventAt: eventAt}, Key: "k", Value: "a"}
	remote := &models.Setting{Meta: models.Meta{ID: "s-1", UserID: "u-1", EventAt: eventAt}, Key: "k", Value: "b"}

	_, err := f.resolver.Resolve(context.Background(), models.KindSetting, local, remote, models.StrategyMerge)
	require.Error(t, err)
}

func TestManualDefersWithoutMutating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := transaction("tx-1", 0.5, false)
	require.NoError(t, f.store.Upsert(ctx, local))

	remote := transaction("tx-1", 0.9, true)
	res, err := f.resolver.Resolve(ctx, models.KindTransaction, local, remote, models.StrategyManual)
	require.NoError(t, err)
	require.Equal(t, resolver.ActionDeferred, res.Action)

	// Local copy untouched.
	got, err := f.store.Get(ctx, models.KindTransaction, "tx-1")
	require.NoError(t, err)
	require.False(t, got.(*models.Transaction).Blocked)

	records, err := f.resolver.PendingConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "tx-1", records[0].RecordID)
	require.NotEmpty(t, records[0].LocalSnapshot)
	require.NotEmpty(t, records[0].RemoteSnapshot)
}

func TestResolveUsesKindDefaultStrategy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Transactions default to server-wins.
	local := transaction("tx-1", 0.5, false)
	require.NoError(t, f.store.Upsert(ctx, local))

	res, err := f.resolver.Resolve(ctx, models.KindTransaction, local, transaction("tx-1", 0.9, true), "")
	require.NoError(t, err)
	require.Equal(t, models.StrategyServerWins, res.Strategy)
	require.Equal(t, resolver.ActionAppliedRemote, res.Action)

	// Settings default to client-wins.
	setting := &models.Setting{Meta: models.Meta{ID: "s-1", UserID: "u-1", EventAt: eventAt}, Key: "k", Value: "a"}
	require.NoError(t, f.store.Upsert(ctx, setting))

	res, err = f.resolver.Resolve(ctx, models.KindSetting, setting, nil, "")
	require.NoError(t, err)
	require.Equal(t, models.StrategyClientWins, res.Strategy)
	require.Equal(t, resolver.ActionRequeuedLocal, res.Action)
}

func TestResolutionIsDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := pattern("p-1", 3, 0.6, eventAt)
	require.NoError(t, f.store.Upsert(ctx, local))
	remote := pattern("p-1", 5, 0.8, eventAt)

	first, err := f.resolver.Resolve(ctx, models.KindPattern, local, remote, models.StrategyMerge)
	require.NoError(t, err)
	second, err := f.resolver.Resolve(ctx, models.KindPattern, local, remote, models.StrategyMerge)
	require.NoError(t, err)

	require.Equal(t, first.Action, second.Action)
	require.Equal(t, first.Result.(*models.Pattern).Frequency, second.Result.(*models.Pattern).Frequency)
	require.Equal(t, first.Result.(*models.Pattern).Confidence, second.Result.(*models.Pattern).Confidence)
}

func TestAuditTrailAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		local := transaction("tx-1", 0.5, false)
		require.NoError(t, f.store.Upsert(ctx, local))
		_, err := f.resolver.Resolve(ctx, models.KindTransaction, local, transaction("tx-1", 0.9, false), models.StrategyServerWins)
		require.NoError(t, err)
	}

	entries := f.resolver.Audit()
	require.Len(t, entries, 3)
	require.Equal(t, resolver.ConflictUpdate, entries[0].Type)

	stats := f.resolver.Stats()
	require.Equal(t, int64(3), stats.Total)
	require.Equal(t, int64(3), stats.ByTable["transactions"])
	require.Equal(t, int64(3), stats.ByStrategy[string(models.StrategyServerWins)])
}
