package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aegis-mobile/synccore/internal/events"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/queue"
	"github.com/aegis-mobile/synccore/internal/resolver"
	"github.com/aegis-mobile/synccore/internal/store"
	"github.com/aegis-mobile/synccore/internal/transport"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
	"github.com/aegis-mobile/synccore/pkg/logger"
	"github.com/aegis-mobile/synccore/pkg/metrics"
)

// Status is the orchestrator's externally visible state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// CycleKind selects between a full reconciliation and a cheap delta pass.
type CycleKind string

const (
	CycleFull        CycleKind = "full"
	CycleIncremental CycleKind = "incremental"
)

// Stats summarises one completed sync cycle.
type Stats struct {
	Downloaded int `json:"downloaded"`
	Uploaded   int `json:"uploaded"`
	Conflicts  int `json:"conflicts"`
	Errors     int `json:"errors"`
}

const (
	defaultFullSchedule        = "@hourly"
	defaultIncrementalSchedule = "@every 5m"
	defaultSettleDelay         = 10 * time.Second
	defaultUploadChunkSize     = 50
	defaultIncrementalUpload   = 10
)

// Orchestrator drives sync cycles between the local store and the backend.
// At most one cycle runs at a time; scheduled cycles silently yield to a
// cycle already in flight, manual triggers get an explicit error.
type Orchestrator struct {
	store        *store.Store
	queue        *queue.Queue
	resolver     *resolver.Resolver
	remote       transport.Remote
	connectivity transport.Connectivity
	bus          *events.Bus
	log          *zap.Logger
	now          func() time.Time

	fullSchedule        string
	incrementalSchedule string
	settleDelay         time.Duration
	uploadChunkSize     int
	incrementalUpload   int

	syncing atomic.Bool

	mu          sync.Mutex
	status      Status
	lastError   error
	lastStats   Stats
	lastSync    *time.Time
	cron        *cron.Cron
	settleTimer *time.Timer
	unsubscribe func()
	baseCtx     context.Context
	started     bool
}

// Option customises the Orchestrator.
type Option func(*Orchestrator)

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSchedules overrides the cron expressions for the two cycle kinds.
func WithSchedules(full, incremental string) Option {
	return func(o *Orchestrator) {
		if full != "" {
			o.fullSchedule = full
		}
		if incremental != "" {
			o.incrementalSchedule = incremental
		}
	}
}

// WithSettleDelay adjusts how long to wait after reconnecting before the
// catch-up full sync.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.settleDelay = d
		}
	}
}

// WithUploadChunkSize bounds full-sync upload batches.
func WithUploadChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.uploadChunkSize = n
		}
	}
}

// WithIncrementalUploadLimit bounds per-kind uploads in an incremental pass.
func WithIncrementalUploadLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.incrementalUpload = n
		}
	}
}

// New wires the Orchestrator. All collaborators are required.
func New(
	st *store.Store,
	q *queue.Queue,
	res *resolver.Resolver,
	remote transport.Remote,
	connectivity transport.Connectivity,
	bus *events.Bus,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case st == nil:
		return nil, errors.New("syncer: store is required")
	case q == nil:
		return nil, errors.New("syncer: queue is required")
	case res == nil:
		return nil, errors.New("syncer: resolver is required")
	case remote == nil:
		return nil, errors.New("syncer: remote is required")
	case connectivity == nil:
		return nil, errors.New("syncer: connectivity is required")
	case bus == nil:
		return nil, errors.New("syncer: bus is required")
	}

	o := &Orchestrator{
		store:               st,
		queue:               q,
		resolver:            res,
		remote:              remote,
		connectivity:        connectivity,
		bus:                 bus,
		log:                 logger.WithModule("syncer"),
		now:                 time.Now,
		fullSchedule:        defaultFullSchedule,
		incrementalSchedule: defaultIncrementalSchedule,
		settleDelay:         defaultSettleDelay,
		uploadChunkSize:     defaultUploadChunkSize,
		incrementalUpload:   defaultIncrementalUpload,
		status:              StatusIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start loads persisted sync state, subscribes to connectivity changes, and
// schedules the periodic cycles.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return nil
	}

	last, err := o.store.LastSyncTime(ctx)
	if err != nil {
		return err
	}
	o.lastSync = last
	o.baseCtx = ctx

	if !o.connectivity.Online() {
		o.status = StatusOffline
	}

	o.unsubscribe = o.bus.Subscribe(events.TopicNetworkChanged, func(e events.Event) {
		change, ok := e.Payload.(transport.NetworkChange)
		if !ok {
			return
		}
		o.handleNetworkChange(change.Online)
	})

	c := cron.New()
	if _, err := c.AddFunc(o.fullSchedule, func() { o.runScheduled(CycleFull) }); err != nil {
		return err
	}
	if _, err := c.AddFunc(o.incrementalSchedule, func() { o.runScheduled(CycleIncremental) }); err != nil {
		return err
	}
	c.Start()
	o.cron = c
	o.started = true

	o.log.Info("orchestrator started",
		zap.String("full_schedule", o.fullSchedule),
		zap.String("incremental_schedule", o.incrementalSchedule))
	return nil
}

// Shutdown stops the schedules and any pending settle timer. Idempotent;
// it waits for a scheduled cycle already running inside cron to finish.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	c := o.cron
	o.cron = nil
	if o.settleTimer != nil {
		o.settleTimer.Stop()
		o.settleTimer = nil
	}
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.started = false
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if c != nil {
		<-c.Stop().Done()
	}
}

// TriggerSync runs one cycle right now. It refuses while offline and while
// another cycle is in flight; triggers are never queued.
func (o *Orchestrator) TriggerSync(ctx context.Context, kind CycleKind) error {
	if !o.connectivity.Online() {
		return apperrors.ErrOffline
	}
	if !o.syncing.CompareAndSwap(false, true) {
		return apperrors.ErrAlreadySyncing
	}
	defer o.syncing.Store(false)

	return o.cycle(ctx, kind)
}

// Status reports the current orchestrator state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// LastError returns the error that ended the most recent failed cycle.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastError
}

// LastStats returns the stats of the most recent completed cycle.
func (o *Orchestrator) LastStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStats
}

// LastSyncTime returns the persisted watermark of the last successful cycle.
func (o *Orchestrator) LastSyncTime() *time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSync == nil {
		return nil
	}
	t := *o.lastSync
	return &t
}

// runScheduled is the cron entry point: skips are silent.
func (o *Orchestrator) runScheduled(kind CycleKind) {
	o.mu.Lock()
	ctx := o.baseCtx
	o.mu.Unlock()
	if ctx == nil {
		return
	}

	err := o.TriggerSync(ctx, kind)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrOffline), errors.Is(err, apperrors.ErrAlreadySyncing):
		o.log.Debug("scheduled cycle skipped",
			zap.String("kind", string(kind)), zap.Error(err))
	default:
		// Failure details were already recorded by the cycle itself.
		o.log.Warn("scheduled cycle failed",
			zap.String("kind", string(kind)), zap.Error(err))
	}
}

// handleNetworkChange reacts to connectivity flips. Going offline cancels
// any pending settle timer; coming back online arms one so flapping links
// settle before the catch-up full sync.
func (o *Orchestrator) handleNetworkChange(online bool) {
	o.mu.Lock()

	if o.settleTimer != nil {
		o.settleTimer.Stop()
		o.settleTimer = nil
	}

	if !online {
		o.status = StatusOffline
		o.mu.Unlock()
		o.publishStatus(StatusOffline)
		return
	}

	if o.status == StatusOffline {
		o.status = StatusIdle
	}
	ctx := o.baseCtx
	if o.started && ctx != nil {
		o.settleTimer = time.AfterFunc(o.settleDelay, func() {
			if err := o.TriggerSync(ctx, CycleFull); err != nil {
				o.log.Debug("reconnect sync not run", zap.Error(err))
			}
		})
	}
	o.mu.Unlock()
	o.publishStatus(StatusIdle)
}

// cycle performs one sync pass. The caller holds the single-flight flag.
// Once started, the cycle runs to completion or failure even if
// connectivity drops mid-way; the watermark only advances on success.
func (o *Orchestrator) cycle(ctx context.Context, kind CycleKind) error {
	startedAt := o.now().UTC()
	o.setStatus(StatusSyncing, nil)
	o.log.Info("sync cycle started", zap.String("kind", string(kind)))

	stats, err := o.run(ctx, kind)
	if err != nil {
		o.setStatus(StatusError, err)
		metrics.SyncCycles.WithLabelValues(string(kind), "error").Inc()
		o.bus.Publish(events.Event{Topic: events.TopicSyncError, Payload: err})
		o.log.Error("sync cycle failed", zap.String("kind", string(kind)), zap.Error(err))
		o.settleIdle()
		return err
	}

	if err := o.store.SetLastSyncTime(ctx, startedAt); err != nil {
		o.setStatus(StatusError, err)
		metrics.SyncCycles.WithLabelValues(string(kind), "error").Inc()
		o.bus.Publish(events.Event{Topic: events.TopicSyncError, Payload: err})
		o.settleIdle()
		return err
	}

	o.mu.Lock()
	o.status = StatusSuccess
	o.lastError = nil
	o.lastStats = stats
	o.lastSync = &startedAt
	o.mu.Unlock()

	metrics.SyncCycles.WithLabelValues(string(kind), "success").Inc()
	o.bus.Publish(events.Event{Topic: events.TopicSyncCompleted, Payload: stats})
	o.publishStatus(StatusSuccess)
	o.log.Info("sync cycle completed",
		zap.String("kind", string(kind)),
		zap.Int("downloaded", stats.Downloaded),
		zap.Int("uploaded", stats.Uploaded),
		zap.Int("conflicts", stats.Conflicts))
	o.settleIdle()
	return nil
}

// settleIdle returns the state machine to Idle after a cycle outcome has
// been reported. Offline set by a mid-cycle connectivity flip is kept.
func (o *Orchestrator) settleIdle() {
	o.mu.Lock()
	settled := o.status == StatusSuccess || o.status == StatusError
	if settled {
		o.status = StatusIdle
	}
	o.mu.Unlock()
	if settled {
		o.publishStatus(StatusIdle)
	}
}

func (o *Orchestrator) run(ctx context.Context, kind CycleKind) (Stats, error) {
	var stats Stats

	// Pending mutations first, so our own changes are on the wire before we
	// reconcile against the backend's view.
	if err := o.queue.Drain(ctx); err != nil {
		return stats, err
	}

	since := o.LastSyncTime()

	for _, entityKind := range models.Kinds() {
		if err := o.download(ctx, entityKind, kind, since, &stats); err != nil {
			return stats, err
		}
		if err := o.upload(ctx, entityKind, kind, &stats); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func (o *Orchestrator) download(ctx context.Context, entityKind models.Kind, kind CycleKind, since *time.Time, stats *Stats) error {
	var (
		envelopes []transport.Envelope
		err       error
	)
	if kind == CycleIncremental && since != nil {
		envelopes, err = o.remote.DownloadSince(ctx, entityKind, *since)
	} else {
		envelopes, err = o.remote.DownloadAll(ctx, entityKind)
	}
	if err != nil {
		return err
	}
	if len(envelopes) == 0 {
		return nil
	}

	unsynced, err := o.store.GetUnsynced(ctx, entityKind, 0)
	if err != nil {
		return err
	}
	dirty := make(map[string]models.Entity, len(unsynced))
	for _, entity := range unsynced {
		dirty[entity.Metadata().ID] = entity
	}

	for _, env := range envelopes {
		remote, err := transport.DecodeEnvelope(entityKind, env)
		if err != nil {
			// An undecodable record is logged and skipped, never fatal.
			o.log.Warn("skipping undecodable record",
				zap.String("table", entityKind.Table()),
				zap.String("id", env.ID),
				zap.Error(err))
			stats.Errors++
			continue
		}

		if local, ok := dirty[env.ID]; ok {
			if _, err := o.resolver.Resolve(ctx, entityKind, local, remote, ""); err != nil {
				return err
			}
			stats.Conflicts++
			continue
		}

		if err := o.store.UpsertRemote(ctx, remote); err != nil {
			return err
		}
		stats.Downloaded++
		metrics.SyncRecords.WithLabelValues("downloaded").Inc()
	}

	return nil
}

func (o *Orchestrator) upload(ctx context.Context, entityKind models.Kind, kind CycleKind, stats *Stats) error {
	// Incremental passes cap the upload per kind and defer the rest to the
	// next cycle; full passes push everything in chunks.
	limit := o.uploadChunkSize
	single := false
	if kind == CycleIncremental {
		limit = o.incrementalUpload
		single = true
	}

	for {
		entities, err := o.store.GetUnsynced(ctx, entityKind, limit)
		if err != nil {
			return err
		}
		if len(entities) == 0 {
			return nil
		}

		batch := make([]transport.Envelope, 0, len(entities))
		for _, entity := range entities {
			env, err := transport.EncodeEntity(entity)
			if err != nil {
				return err
			}
			batch = append(batch, env)
		}

		if err := o.remote.Upload(ctx, entityKind, batch); err != nil {
			return err
		}
		for _, entity := range entities {
			if err := o.store.MarkSynced(ctx, entityKind, entity.Metadata().ID); err != nil {
				return err
			}
		}
		stats.Uploaded += len(entities)
		metrics.SyncRecords.WithLabelValues("uploaded").Add(float64(len(entities)))

		if single || len(entities) < limit {
			return nil
		}
	}
}

func (o *Orchestrator) setStatus(status Status, err error) {
	o.mu.Lock()
	o.status = status
	if err != nil {
		o.lastError = err
	}
	o.mu.Unlock()
	o.publishStatus(status)
}

func (o *Orchestrator) publishStatus(status Status) {
	o.bus.Publish(events.Event{Topic: events.TopicSyncStatus, Payload: status})
}
