package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-mobile/synccore/internal/events"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/transport"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	eventAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	tx := &models.Transaction{
		Meta:        models.Meta{ID: "tx-1", UserID: "u-1", EventAt: eventAt},
		AmountCents: 4200,
		Currency:    "USD",
		Merchant:    "bookshop",
	}

	env, err := transport.EncodeEntity(tx)
	require.NoError(t, err)
	require.Equal(t, "tx-1", env.ID)
	require.Equal(t, "u-1", env.UserID)

	decoded, err := transport.DecodeEnvelope(models.KindTransaction, env)
	require.NoError(t, err)
	out := decoded.(*models.Transaction)
	require.Equal(t, int64(4200), out.AmountCents)
	require.Equal(t, "bookshop", out.Merchant)
	require.True(t, out.EventAt.Equal(eventAt))
}

func TestDecodeEnvelopeIdentityWinsOverPayload(t *testing.T) {
	env := transport.Envelope{
		ID:      "canonical",
		UserID:  "u-1",
		EventAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Payload: json.RawMessage(`{"id":"stale","key":"theme","value":"dark"}`),
	}

	decoded, err := transport.DecodeEnvelope(models.KindSetting, env)
	require.NoError(t, err)
	require.Equal(t, "canonical", decoded.Metadata().ID)
	require.Equal(t, "dark", decoded.(*models.Setting).Value)
}

func TestDownloadSinceSendsCursorAndToken(t *testing.T) {
	var gotSince, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/v1/sync/transactions", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]transport.Envelope{{ID: "tx-1", UserID: "u-1"}})
	}))
	defer server.Close()

	remote, err := transport.NewHTTPRemote(server.URL, transport.WithToken("secret"))
	require.NoError(t, err)

	since := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	envelopes, err := remote.DownloadSince(context.Background(), models.KindTransaction, since)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	require.Equal(t, "tx-1", envelopes[0].ID)
	require.Equal(t, "2026-08-01T09:30:00Z", gotSince)
	require.Equal(t, "Bearer secret", gotAuth)
}

func TestDownloadAllOmitsCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.False(t, r.URL.Query().Has("since"))
		_ = json.NewEncoder(w).Encode([]transport.Envelope{})
	}))
	defer server.Close()

	remote, err := transport.NewHTTPRemote(server.URL)
	require.NoError(t, err)

	envelopes, err := remote.DownloadAll(context.Background(), models.KindPattern)
	require.NoError(t, err)
	require.Empty(t, envelopes)
}

func TestUploadPostsBatch(t *testing.T) {
	var received []transport.Envelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/sync/settings/batch", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	remote, err := transport.NewHTTPRemote(server.URL)
	require.NoError(t, err)

	batch := []transport.Envelope{{ID: "s-1", UserID: "u-1"}, {ID: "s-2", UserID: "u-1"}}
	require.NoError(t, remote.Upload(context.Background(), models.KindSetting, batch))
	require.Len(t, received, 2)
}

func TestUploadEmptyBatchIsNoOp(t *testing.T) {
	remote, err := transport.NewHTTPRemote("http://127.0.0.1:1") // nothing listens here
	require.NoError(t, err)
	require.NoError(t, remote.Upload(context.Background(), models.KindSetting, nil))
}

func TestServerErrorsAreTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	remote, err := transport.NewHTTPRemote(server.URL)
	require.NoError(t, err)

	_, err = remote.DownloadAll(context.Background(), models.KindTransaction)
	require.ErrorIs(t, err, apperrors.ErrTransientNetwork)
	require.True(t, apperrors.IsRetryable(err))
}

func TestConnectionFailureIsTransient(t *testing.T) {
	remote, err := transport.NewHTTPRemote("http://127.0.0.1:1",
		transport.WithRequestTimeout(time.Second))
	require.NoError(t, err)

	_, err = remote.DownloadAll(context.Background(), models.KindTransaction)
	require.ErrorIs(t, err, apperrors.ErrTransientNetwork)
}

func TestClientErrorsArePermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	remote, err := transport.NewHTTPRemote(server.URL)
	require.NoError(t, err)

	err = remote.Upload(context.Background(), models.KindSetting, []transport.Envelope{{ID: "s-1"}})
	require.Error(t, err)
	require.False(t, apperrors.IsRetryable(err))
}

func TestMonitorPublishesOnlyOnFlips(t *testing.T) {
	bus := events.NewBus()

	var changes []transport.NetworkChange
	bus.Subscribe(events.TopicNetworkChanged, func(e events.Event) {
		changes = append(changes, e.Payload.(transport.NetworkChange))
	})

	m := transport.NewMonitor(bus, "")
	require.False(t, m.Online())

	m.Set(true)
	m.Set(true) // steady state, no event
	m.Set(false)

	require.Len(t, changes, 2)
	require.True(t, changes[0].Online)
	require.False(t, changes[1].Online)
	require.False(t, m.Online())
}

func TestMonitorProbeLoopDetectsRecovery(t *testing.T) {
	var reachable atomic.Bool
	bus := events.NewBus()

	online := make(chan struct{}, 1)
	bus.Subscribe(events.TopicNetworkChanged, func(e events.Event) {
		if e.Payload.(transport.NetworkChange).Online {
			select {
			case online <- struct{}{}:
			default:
			}
		}
	})

	m := transport.NewMonitor(bus, "",
		transport.WithProbe(func(context.Context) bool { return reachable.Load() }),
		transport.WithProbeInterval(10*time.Millisecond))
	m.Start(context.Background())
	defer m.Stop()

	reachable.Store(true)
	select {
	case <-online:
	case <-time.After(2 * time.Second):
		t.Fatal("expected probe loop to detect recovery")
	}
	require.True(t, m.Online())
}
