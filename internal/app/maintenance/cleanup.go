package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aegis-mobile/synccore/internal/cache"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/store"
	"github.com/aegis-mobile/synccore/pkg/logger"
)

const (
	defaultDeadLetterRetentionDays = 30
	defaultRetentionSpec           = "@daily"
	defaultOptimizeSpec            = "@hourly"
	defaultDeadLetterSpec          = "@daily"
)

// Cleaner coordinates background maintenance: enforcing per-kind retention
// on the local store, compacting the cache, and pruning old dead letters.
type Cleaner struct {
	store     *store.Store
	cache     *cache.Cache
	db        *gorm.DB
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention int

	retentionSchedule  string
	optimizeSchedule   string
	deadLetterSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cutoff comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithDeadLetterRetentionDays adjusts how long dead letters are kept.
func WithDeadLetterRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithRetentionSchedule overrides the cron specification for store retention.
func WithRetentionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retentionSchedule = spec
		}
	}
}

// WithOptimizeSchedule overrides the cron specification for cache compaction.
func WithOptimizeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.optimizeSchedule = spec
		}
	}
}

// WithDeadLetterSchedule overrides the cron specification for dead letter pruning.
func WithDeadLetterSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.deadLetterSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewCleaner(st *store.Store, c *cache.Cache, db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		store:              st,
		cache:              c,
		db:                 db,
		now:                time.Now,
		retention:          defaultDeadLetterRetentionDays,
		retentionSchedule:  defaultRetentionSpec,
		optimizeSchedule:   defaultOptimizeSpec,
		deadLetterSchedule: defaultDeadLetterSpec,
		log:                logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.store != nil || cleaner.cache != nil || cleaner.db != nil

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it if at
// least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.store != nil {
		if _, err := c.cron.AddFunc(c.retentionSchedule, func() {
			ctx := context.Background()
			if _, err := c.store.RunRetention(ctx, c.now()); err != nil {
				c.log.Warn("store retention failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.optimizeSchedule, func() {
			ctx := context.Background()
			if _, err := c.cache.Optimize(ctx, c.now()); err != nil {
				c.log.Warn("cache optimize failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.deadLetterSchedule, func() {
			ctx := context.Background()
			if _, err := CleanupDeadLetters(ctx, c.db, c.now().AddDate(0, 0, -c.retention)); err != nil {
				c.log.Warn("dead letter cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured jobs sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.store != nil {
		if _, err := c.store.RunRetention(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.cache != nil {
		if _, err := c.cache.Optimize(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil && c.retention > 0 {
		if _, err := CleanupDeadLetters(ctx, c.db, c.now().AddDate(0, 0, -c.retention)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// CleanupDeadLetters removes dead letters that failed before the cutoff.
// They exist for postmortem inspection, not as an archive.
func CleanupDeadLetters(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup dead letters: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("failed_at < ?", cutoff).
		Delete(&models.DeadLetter{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup dead letters: %w", result.Error)
	}
	return result.RowsAffected, nil
}
