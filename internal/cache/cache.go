package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aegis-mobile/synccore/internal/events"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/vault"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
	"github.com/aegis-mobile/synccore/pkg/logger"
	"github.com/aegis-mobile/synccore/pkg/metrics"
)

// Tier classifies cache entries for eviction. Critical entries are never
// chosen as eviction victims under size pressure; they only leave via their
// own TTL or an explicit removal/clear.
type Tier int

const (
	TierLow Tier = iota
	TierNormal
	TierHigh
	TierCritical
)

const (
	// DefaultBudgetBytes bounds the live cache footprint.
	DefaultBudgetBytes = int64(100 << 20)

	// staleAfter is how long an untouched non-critical entry survives Optimize.
	staleAfter = 7 * 24 * time.Hour
)

// EventPayload describes a cache event on the bus.
type EventPayload struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	Tier      Tier   `json:"tier"`
}

// Cache is a bounded key/value cache for ephemeral and derived data,
// persisted inside the local store. Values are sealed with the store's
// crypto; SizeBytes accounts the plaintext.
type Cache struct {
	db     *gorm.DB
	crypto *vault.Crypto
	bus    *events.Bus
	budget int64
	log    *zap.Logger
	now    func() time.Time

	// mu serialises inserts and evictions so the budget invariant holds
	// at every settled state.
	mu sync.Mutex
}

// Option customises the Cache.
type Option func(*Cache)

// WithBudget overrides the size budget in bytes.
func WithBudget(budget int64) Option {
	return func(c *Cache) {
		if budget > 0 {
			c.budget = budget
		}
	}
}

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a Cache on top of the local store's database handle.
func New(db *gorm.DB, crypto *vault.Crypto, bus *events.Bus, opts ...Option) (*Cache, error) {
	if db == nil {
		return nil, errors.New("cache: db is required")
	}
	if crypto == nil {
		return nil, errors.New("cache: crypto is required")
	}

	c := &Cache{
		db:     db,
		crypto: crypto,
		bus:    bus,
		budget: DefaultBudgetBytes,
		log:    logger.WithModule("cache"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Set serialises and stores a value. When the insert would push the live
// footprint past the budget, non-critical entries are evicted in
// least-recently-used order first; if that cannot free enough space the
// insert is refused with ErrCapacity rather than violating the critical
// tier guarantee.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration, tier Tier) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("cache: key is required")
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.ErrSerialization.WithInternal(err)
	}
	size := int64(len(raw))

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	usage, err := c.liveSizeExcluding(ctx, key, now)
	if err != nil {
		return err
	}

	if required := usage + size - c.budget; required > 0 {
		if err := c.evict(ctx, key, required, now); err != nil {
			return err
		}
	}

	sealed, err := c.crypto.Encrypt(raw)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	entry := models.CacheEntry{
		Key:            key,
		Value:          sealed,
		SizeBytes:      size,
		AccessCount:    0,
		LastAccessedAt: now,
		ExpiresAt:      expiresAt,
		Tier:           int(tier),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"value", "size_bytes", "access_count", "last_accessed_at", "expires_at", "tier", "updated_at",
			}),
		}).Create(&entry).Error; err != nil {
		return err
	}

	c.refreshUsageGauge(ctx, now)
	c.publish(events.TopicCacheSet, EventPayload{Key: key, SizeBytes: size, Tier: tier})
	return nil
}

// Get retrieves a value into out, expiry-aware: a past-expiry entry is
// deleted and reported as absent. A hit bumps the access metadata.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	var entry models.CacheEntry
	err := c.db.WithContext(ctx).Take(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := c.now()
	if expired(entry, now) {
		_ = c.Remove(ctx, key)
		return false, nil
	}

	if err := c.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Where("key = ?", key).
		Updates(map[string]any{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": now,
		}).Error; err != nil {
		return false, err
	}

	raw, err := c.crypto.Decrypt(entry.Value)
	if err != nil {
		return false, apperrors.ErrEncryptionKey.WithInternal(err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, apperrors.ErrSerialization.WithInternal(err)
		}
	}
	return true, nil
}

// Has reports whether a live entry exists, without bumping access metadata.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	var entry models.CacheEntry
	err := c.db.WithContext(ctx).Select("key", "expires_at").Take(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if expired(entry, c.now()) {
		_ = c.Remove(ctx, key)
		return false, nil
	}
	return true, nil
}

// Remove deletes an entry regardless of tier.
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.db.WithContext(ctx).Where("key = ?", key).Delete(&models.CacheEntry{}).Error
}

// ClearPrefix deletes every entry whose key starts with the prefix.
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("cache: prefix is required")
	}
	return c.db.WithContext(ctx).
		Where("key LIKE ?", prefix+"%").
		Delete(&models.CacheEntry{}).Error
}

// ClearAll empties the cache, critical entries included.
func (c *Cache) ClearAll(ctx context.Context) error {
	return c.db.WithContext(ctx).Where("1 = 1").Delete(&models.CacheEntry{}).Error
}

// Budget returns the configured size budget in bytes.
func (c *Cache) Budget() int64 { return c.budget }

// Usage returns the live, non-expired footprint in bytes.
func (c *Cache) Usage(ctx context.Context) (int64, error) {
	return c.liveSizeExcluding(ctx, "", c.now())
}

// Optimize removes expired entries and non-critical entries untouched for
// more than seven days. Scheduled hourly by maintenance.
func (c *Cache) Optimize(ctx context.Context, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int64

	result := c.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return removed, result.Error
	}
	removed += result.RowsAffected

	result = c.db.WithContext(ctx).
		Where("tier <> ? AND last_accessed_at < ?", int(TierCritical), now.Add(-staleAfter)).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return removed, result.Error
	}
	removed += result.RowsAffected

	c.refreshUsageGauge(ctx, now)
	return removed, nil
}

// liveSizeExcluding sums live entry sizes, skipping the named key so a
// replacement does not double-count itself.
func (c *Cache) liveSizeExcluding(ctx context.Context, key string, now time.Time) (int64, error) {
	q := c.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Where("expires_at IS NULL OR expires_at > ?", now)
	if key != "" {
		q = q.Where("key <> ?", key)
	}

	var total int64
	err := q.Select("COALESCE(SUM(size_bytes), 0)").Scan(&total).Error
	return total, err
}

// evict frees at least required bytes (plus a 10% buffer) from the
// non-critical population in least-recently-used order. It refuses with
// ErrCapacity when the non-critical population cannot cover the need.
func (c *Cache) evict(ctx context.Context, insertKey string, required int64, now time.Time) error {
	target := required + required/10

	var candidates []models.CacheEntry
	q := c.db.WithContext(ctx).
		Where("tier <> ?", int(TierCritical)).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("last_accessed_at ASC")
	if insertKey != "" {
		q = q.Where("key <> ?", insertKey)
	}
	if err := q.Find(&candidates).Error; err != nil {
		return err
	}

	var available int64
	for _, candidate := range candidates {
		available += candidate.SizeBytes
	}
	if available < required {
		return apperrors.ErrCapacity
	}

	var freed int64
	for _, victim := range candidates {
		if freed >= target {
			break
		}
		if err := c.db.WithContext(ctx).
			Where("key = ?", victim.Key).
			Delete(&models.CacheEntry{}).Error; err != nil {
			return err
		}
		freed += victim.SizeBytes
		metrics.CacheEvictions.Inc()
		c.publish(events.TopicCacheEvicted, EventPayload{
			Key:       victim.Key,
			SizeBytes: victim.SizeBytes,
			Tier:      Tier(victim.Tier),
		})
	}

	c.log.Debug("cache eviction",
		zap.Int64("required", required),
		zap.Int64("freed", freed))
	return nil
}

func (c *Cache) refreshUsageGauge(ctx context.Context, now time.Time) {
	if total, err := c.liveSizeExcluding(ctx, "", now); err == nil {
		metrics.CacheBytes.Set(float64(total))
	}
}

func (c *Cache) publish(topic events.Topic, payload EventPayload) {
	if c.bus != nil {
		c.bus.Publish(events.Event{Topic: topic, Payload: payload})
	}
}

func expired(entry models.CacheEntry, now time.Time) bool {
	return entry.ExpiresAt != nil && !entry.ExpiresAt.After(now)
}
