package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aegis-mobile/synccore/internal/events"
	"github.com/aegis-mobile/synccore/internal/models"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
	"github.com/aegis-mobile/synccore/pkg/logger"
	"github.com/aegis-mobile/synccore/pkg/metrics"
)

const (
	defaultBatchSize       = 10
	defaultMaxRetries      = 3
	defaultBaseDelay       = 2 * time.Second
	defaultMaxDelay        = 5 * time.Minute
	defaultBackoffFactor   = 2.0
	defaultRescheduleDelay = time.Second
)

// Handler delivers a single queue item to its remote destination.
type Handler func(ctx context.Context, item models.QueueItem) error

// EventPayload describes a queue event on the bus.
type EventPayload struct {
	Item  models.QueueItem `json:"item"`
	Error string           `json:"error,omitempty"`
}

// Queue is the durable, priority-ordered record of outbound mutations. Its
// rows live inside the local store and survive restarts; delivery failures
// become retry state, never errors raised to the caller of Drain.
type Queue struct {
	db  *gorm.DB
	bus *events.Bus
	log *zap.Logger
	now func() time.Time

	online func() bool

	handlers   map[Action]Handler
	handlersMu sync.RWMutex

	draining atomic.Bool

	batchSize       int
	maxRetries      int
	baseDelay       time.Duration
	maxDelay        time.Duration
	backoffFactor   float64
	rescheduleDelay time.Duration

	timerMu sync.Mutex
	timer   *time.Timer
	closed  bool
}

// Option customises the Queue.
type Option func(*Queue)

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithOnline sets the connectivity gate consulted before immediate drains.
func WithOnline(online func() bool) Option {
	return func(q *Queue) {
		q.online = online
	}
}

// WithBatchSize bounds how many items a single drain pass processes.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithBackoff overrides the retry backoff parameters.
func WithBackoff(base time.Duration, factor float64, max time.Duration) Option {
	return func(q *Queue) {
		if base > 0 {
			q.baseDelay = base
		}
		if factor >= 1 {
			q.backoffFactor = factor
		}
		if max > 0 {
			q.maxDelay = max
		}
	}
}

// WithDefaultMaxRetries overrides how many retries an item gets by default.
func WithDefaultMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// WithRescheduleDelay overrides the gap before a follow-up drain batch.
func WithRescheduleDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.rescheduleDelay = d
		}
	}
}

// New constructs a Queue on top of the local store's database handle.
func New(db *gorm.DB, bus *events.Bus, opts ...Option) (*Queue, error) {
	if db == nil {
		return nil, errors.New("queue: db is required")
	}

	q := &Queue{
		db:              db,
		bus:             bus,
		log:             logger.WithModule("queue"),
		now:             time.Now,
		handlers:        make(map[Action]Handler),
		batchSize:       defaultBatchSize,
		maxRetries:      defaultMaxRetries,
		baseDelay:       defaultBaseDelay,
		maxDelay:        defaultMaxDelay,
		backoffFactor:   defaultBackoffFactor,
		rescheduleDelay: defaultRescheduleDelay,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Register installs the delivery handler for an action. Items whose action
// has no handler fail permanently on first dispatch.
func (q *Queue) Register(action Action, handler Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[action] = handler
}

// EnqueueOption adjusts a single enqueued item.
type EnqueueOption func(*models.QueueItem)

// WithPriority overrides the action's default priority.
func WithPriority(priority int) EnqueueOption {
	return func(item *models.QueueItem) {
		item.Priority = priority
	}
}

// WithMaxRetries overrides the default retry allowance for one item.
func WithMaxRetries(n int) EnqueueOption {
	return func(item *models.QueueItem) {
		if n >= 0 {
			item.MaxRetries = n
		}
	}
}

// Enqueue persists an outbound mutation. When the device is online and no
// drain is active, a drain attempt is kicked immediately.
func (q *Queue) Enqueue(ctx context.Context, action Action, table, recordID string, payload any, opts ...EnqueueOption) (*models.QueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.ErrSerialization.WithInternal(err)
	}

	item := models.QueueItem{
		Action:        string(action),
		TargetTable:   table,
		RecordID:      recordID,
		Payload:       datatypes.JSON(raw),
		Priority:      DefaultPriority(action),
		MaxRetries:    q.maxRetries,
		NextAttemptAt: q.now(),
	}
	item.CreatedAt = q.now()
	for _, opt := range opts {
		opt(&item)
	}

	if err := q.db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}

	q.refreshDepthGauge(ctx)
	q.publish(events.TopicQueueEnqueued, EventPayload{Item: item})

	if q.online != nil && q.online() && !q.draining.Load() {
		go func() {
			if err := q.Drain(context.Background()); err != nil {
				q.log.Warn("immediate drain failed", zap.Error(err))
			}
		}()
	}

	return &item, nil
}

// Drain processes one bounded batch of due items in priority order. It is
// single-flight: a call while another drain is active returns immediately.
// Per-item failures become retry or dead-letter state, not errors.
func (q *Queue) Drain(ctx context.Context) error {
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)

	now := q.now()

	var batch []models.QueueItem
	if err := q.db.WithContext(ctx).
		Where("next_attempt_at <= ?", now).
		Order("priority DESC, created_at ASC").
		Limit(q.batchSize).
		Find(&batch).Error; err != nil {
		return fmt.Errorf("queue: fetch batch: %w", err)
	}

	for _, item := range batch {
		q.dispatch(ctx, item)
	}

	q.refreshDepthGauge(ctx)

	remaining, err := q.dueCount(ctx, q.now())
	if err != nil {
		return err
	}
	if remaining > 0 {
		q.scheduleFollowUp()
	}
	return nil
}

func (q *Queue) dispatch(ctx context.Context, item models.QueueItem) {
	handler := q.handlerFor(Action(item.Action))

	var err error
	if handler == nil {
		err = fmt.Errorf("queue: no handler registered for action %q", item.Action)
		// An unroutable item can never succeed; spend no retries on it.
		q.deadLetter(ctx, item, err)
		return
	}

	err = handler(ctx, item)
	if err == nil {
		if delErr := q.db.WithContext(ctx).Delete(&models.QueueItem{}, "id = ?", item.ID).Error; delErr != nil {
			q.log.Error("remove processed item", zap.String("id", item.ID), zap.Error(delErr))
			return
		}
		q.publish(events.TopicQueueProcessed, EventPayload{Item: item})
		return
	}

	item.RetryCount++
	if item.RetryCount > item.MaxRetries {
		q.deadLetter(ctx, item, err)
		return
	}

	now := q.now()
	next := now.Add(q.backoffDelay(item.RetryCount))
	if updErr := q.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"retry_count":     item.RetryCount,
			"next_attempt_at": next,
			"last_attempt_at": now,
			"updated_at":      now,
		}).Error; updErr != nil {
		q.log.Error("record retry", zap.String("id", item.ID), zap.Error(updErr))
		return
	}

	item.NextAttemptAt = next
	item.LastAttemptAt = &now
	q.publish(events.TopicQueueRetrying, EventPayload{Item: item, Error: err.Error()})
	q.log.Debug("item retry scheduled",
		zap.String("id", item.ID),
		zap.String("action", item.Action),
		zap.Int("retry", item.RetryCount),
		zap.Time("next_attempt", next))
}

func (q *Queue) deadLetter(ctx context.Context, item models.QueueItem, cause error) {
	now := q.now()
	letter := models.DeadLetter{
		QueueItemID: item.ID,
		Action:      item.Action,
		TargetTable: item.TargetTable,
		RecordID:    item.RecordID,
		Payload:     item.Payload,
		Attempts:    item.RetryCount,
		LastError:   cause.Error(),
		FailedAt:    now,
	}

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&letter).Error; err != nil {
			return err
		}
		return tx.Delete(&models.QueueItem{}, "id = ?", item.ID).Error
	})
	if err != nil {
		q.log.Error("dead-letter item", zap.String("id", item.ID), zap.Error(err))
		return
	}

	metrics.QueueDeadLetters.Inc()
	q.publish(events.TopicQueueFailed, EventPayload{Item: item, Error: cause.Error()})
	q.log.Warn("item dead-lettered",
		zap.String("id", item.ID),
		zap.String("action", item.Action),
		zap.Int("attempts", item.RetryCount),
		zap.String("error", cause.Error()))
}

// backoffDelay computes min(base × factor^retryCount, max).
func (q *Queue) backoffDelay(retryCount int) time.Duration {
	delay := time.Duration(float64(q.baseDelay) * math.Pow(q.backoffFactor, float64(retryCount)))
	if delay > q.maxDelay || delay <= 0 {
		return q.maxDelay
	}
	return delay
}

// Pending returns the number of items in the active queue.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.QueueItem{}).Count(&n).Error
	return n, err
}

// DeadLetters returns the most recent failure records.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	var letters []models.DeadLetter
	err := q.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&letters).Error
	return letters, err
}

// Shutdown cancels any scheduled follow-up drain. Idempotent.
func (q *Queue) Shutdown() {
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) scheduleFollowUp() {
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	if q.closed || q.timer != nil {
		return
	}
	q.timer = time.AfterFunc(q.rescheduleDelay, func() {
		q.timerMu.Lock()
		q.timer = nil
		q.timerMu.Unlock()
		if err := q.Drain(context.Background()); err != nil {
			q.log.Warn("scheduled drain failed", zap.Error(err))
		}
	})
}

func (q *Queue) dueCount(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("next_attempt_at <= ?", now).
		Count(&n).Error
	return n, err
}

func (q *Queue) handlerFor(action Action) Handler {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	return q.handlers[action]
}

func (q *Queue) refreshDepthGauge(ctx context.Context) {
	if n, err := q.Pending(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}

func (q *Queue) publish(topic events.Topic, payload EventPayload) {
	if q.bus != nil {
		q.bus.Publish(events.Event{Topic: topic, Payload: payload})
	}
}
