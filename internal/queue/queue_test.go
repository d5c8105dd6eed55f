package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-mobile/synccore/internal/events"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/queue"
	"github.com/aegis-mobile/synccore/internal/store/storetest"
)

type fixture struct {
	queue *queue.Queue
	bus   *events.Bus
	now   *time.Time
}

func newFixture(t *testing.T, opts ...queue.Option) *fixture {
	t.Helper()

	s := storetest.MustOpenStore(t)
	bus := events.NewBus()
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	f := &fixture{bus: bus, now: &now}
	opts = append([]queue.Option{
		queue.WithNow(func() time.Time { return *f.now }),
	}, opts...)

	q, err := queue.New(s.DB(), bus, opts...)
	require.NoError(t, err)
	t.Cleanup(q.Shutdown)

	f.queue = q
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func TestDrainProcessesByPriorityThenInsertionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var order []int
	f.queue.Register(queue.ActionAnalytics, func(_ context.Context, item models.QueueItem) error {
		order = append(order, item.Priority)
		return nil
	})

	for _, priority := range []int{1, 10, 5, 7, 1} {
		_, err := f.queue.Enqueue(ctx, queue.ActionAnalytics, "events", "", nil,
			queue.WithPriority(priority))
		require.NoError(t, err)
		f.advance(time.Millisecond)
	}

	require.NoError(t, f.queue.Drain(ctx))
	require.Equal(t, []int{10, 7, 5, 1, 1}, order)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestFailingItemIsDeadLetteredAfterExhaustingRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	attempts := 0
	f.queue.Register(queue.ActionPaymentRequest, func(context.Context, models.QueueItem) error {
		attempts++
		return errors.New("remote unavailable")
	})

	item, err := f.queue.Enqueue(ctx, queue.ActionPaymentRequest, "transactions", "tx-1",
		map[string]string{"id": "tx-1"})
	require.NoError(t, err)
	require.Equal(t, 3, item.MaxRetries)

	// Four consecutive failing attempts: initial + three retries.
	for i := 0; i < 4; i++ {
		require.NoError(t, f.queue.Drain(ctx))
		f.advance(10 * time.Minute) // beyond any backoff
	}

	require.Equal(t, 4, attempts)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)

	letters, err := f.queue.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, item.ID, letters[0].QueueItemID)
	require.Equal(t, 4, letters[0].Attempts)
	require.Contains(t, letters[0].LastError, "remote unavailable")
}

func TestRetryBackoffDefersNextAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	attempts := 0
	f.queue.Register(queue.ActionSettingUpdate, func(context.Context, models.QueueItem) error {
		attempts++
		return errors.New("boom")
	})

	_, err := f.queue.Enqueue(ctx, queue.ActionSettingUpdate, "settings", "s-1", nil)
	require.NoError(t, err)

	require.NoError(t, f.queue.Drain(ctx))
	require.Equal(t, 1, attempts)

	// Not yet due: the first retry backoff is base × factor = 4s.
	f.advance(time.Second)
	require.NoError(t, f.queue.Drain(ctx))
	require.Equal(t, 1, attempts)

	f.advance(5 * time.Second)
	require.NoError(t, f.queue.Drain(ctx))
	require.Equal(t, 2, attempts)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)
}

func TestMissingHandlerDeadLettersImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, queue.ActionCriticalAlert, "alerts", "a-1", nil)
	require.NoError(t, err)

	require.NoError(t, f.queue.Drain(ctx))

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)

	letters, err := f.queue.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Contains(t, letters[0].LastError, "no handler")
}

func TestDrainIsSingleFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := 0
	f.queue.Register(queue.ActionAnalytics, func(ctx context.Context, _ models.QueueItem) error {
		calls++
		// A reentrant drain while one is active must be a no-op.
		require.NoError(t, f.queue.Drain(ctx))
		return nil
	})

	_, err := f.queue.Enqueue(ctx, queue.ActionAnalytics, "events", "", nil)
	require.NoError(t, err)

	require.NoError(t, f.queue.Drain(ctx))
	require.Equal(t, 1, calls)
}

func TestDefaultPrioritiesFollowActionClassification(t *testing.T) {
	require.Greater(t,
		queue.DefaultPriority(queue.ActionCriticalAlert),
		queue.DefaultPriority(queue.ActionPaymentRequest))
	require.Greater(t,
		queue.DefaultPriority(queue.ActionPaymentRequest),
		queue.DefaultPriority(queue.ActionGuardianMessage))
	require.Greater(t,
		queue.DefaultPriority(queue.ActionGuardianMessage),
		queue.DefaultPriority(queue.ActionSettingUpdate))
	require.Greater(t,
		queue.DefaultPriority(queue.ActionSettingUpdate),
		queue.DefaultPriority(queue.ActionAnalytics))
}

func TestQueueEventsAreEmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var topics []events.Topic
	for _, topic := range []events.Topic{
		events.TopicQueueEnqueued,
		events.TopicQueueProcessed,
		events.TopicQueueRetrying,
		events.TopicQueueFailed,
	} {
		captured := topic
		f.bus.Subscribe(captured, func(e events.Event) {
			topics = append(topics, e.Topic)
		})
	}

	fail := true
	f.queue.Register(queue.ActionPatternUpdate, func(context.Context, models.QueueItem) error {
		if fail {
			return errors.New("flaky")
		}
		return nil
	})

	_, err := f.queue.Enqueue(ctx, queue.ActionPatternUpdate, "patterns", "p-1", nil,
		queue.WithMaxRetries(1))
	require.NoError(t, err)
	require.Contains(t, topics, events.TopicQueueEnqueued)

	require.NoError(t, f.queue.Drain(ctx))
	require.Contains(t, topics, events.TopicQueueRetrying)

	fail = false
	f.advance(time.Minute)
	require.NoError(t, f.queue.Drain(ctx))
	require.Contains(t, topics, events.TopicQueueProcessed)

	// A fresh always-failing item exhausts its single retry and fails.
	fail = true
	_, err = f.queue.Enqueue(ctx, queue.ActionPatternUpdate, "patterns", "p-2", nil,
		queue.WithMaxRetries(0))
	require.NoError(t, err)
	require.NoError(t, f.queue.Drain(ctx))
	require.Contains(t, topics, events.TopicQueueFailed)
}

func TestEnqueueOnlineKicksImmediateDrain(t *testing.T) {
	f := newFixture(t, queue.WithOnline(func() bool { return true }))
	ctx := context.Background()

	processed := make(chan struct{}, 1)
	f.queue.Register(queue.ActionAnalytics, func(context.Context, models.QueueItem) error {
		select {
		case processed <- struct{}{}:
		default:
		}
		return nil
	})

	_, err := f.queue.Enqueue(ctx, queue.ActionAnalytics, "events", "", nil)
	require.NoError(t, err)

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected immediate drain to process the item")
	}
}
