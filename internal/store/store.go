package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aegis-mobile/synccore/internal/database"
	"github.com/aegis-mobile/synccore/internal/keystore"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/vault"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
	"github.com/aegis-mobile/synccore/pkg/logger"
)

const keyProbePlaintext = "synccore.key.probe.v1"

// Store is the durable, encrypted local persistence layer. It is the single
// source of truth on-device: domain entities, queue bookkeeping, cache
// metadata, and sync state all live behind it.
type Store struct {
	db         *gorm.DB
	keys       keystore.Store
	crypto     *vault.Crypto
	cryptoOpts []vault.Option
	log        *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	initialized bool
}

// Option customises the Store.
type Option func(*Store)

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCryptoOptions forwards options to the vault key derivation.
func WithCryptoOptions(opts ...vault.Option) Option {
	return func(s *Store) {
		s.cryptoOpts = opts
	}
}

// New constructs a Store around an opened database handle and a key store.
func New(db *gorm.DB, keys keystore.Store, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("store: db is required")
	}
	if keys == nil {
		return nil, errors.New("store: key store is required")
	}

	s := &Store{
		db:   db,
		keys: keys,
		log:  logger.WithModule("store"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize is idempotent: it loads or generates the device key, derives
// the sealing key, applies pending migrations, and verifies the key probe.
// A probe that exists but cannot be opened surfaces ErrEncryptionKey; it is
// never treated as an empty store.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	key, err := keystore.LoadOrCreate(s.keys)
	if err != nil {
		return fmt.Errorf("store: load device key: %w", err)
	}

	crypt, err := vault.NewCrypto(key, s.cryptoOpts...)
	if err != nil {
		return fmt.Errorf("store: derive sealing key: %w", err)
	}

	if err := database.Migrate(s.db); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}

	if err := s.verifyKeyProbe(ctx, crypt); err != nil {
		return err
	}

	s.crypto = crypt
	s.initialized = true
	s.log.Info("local store initialised")
	return nil
}

func (s *Store) verifyKeyProbe(ctx context.Context, crypt *vault.Crypto) error {
	var probe models.KeyProbe
	err := s.db.WithContext(ctx).Take(&probe, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sealed, sealErr := crypt.Encrypt([]byte(keyProbePlaintext))
		if sealErr != nil {
			return fmt.Errorf("store: seal key probe: %w", sealErr)
		}
		return s.db.WithContext(ctx).Create(&models.KeyProbe{ID: 1, Ciphertext: sealed}).Error
	}
	if err != nil {
		return fmt.Errorf("store: read key probe: %w", err)
	}

	opened, err := crypt.Decrypt(probe.Ciphertext)
	if err != nil || string(opened) != keyProbePlaintext {
		return apperrors.ErrEncryptionKey.WithInternal(err)
	}
	return nil
}

// Crypto exposes the sealing helper so the cache layer can share it.
func (s *Store) Crypto() *vault.Crypto {
	return s.crypto
}

// DB exposes the underlying handle for components that keep their
// bookkeeping inside the local store.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errors.New("store: not initialised")
	}
	return nil
}

func (s *Store) table(ctx context.Context, kind models.Kind) *gorm.DB {
	return s.db.WithContext(ctx).Table(kind.Table())
}

func (s *Store) encode(entity models.Entity) (string, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return "", apperrors.ErrSerialization.WithInternal(err)
	}
	sealed, err := s.crypto.Encrypt(raw)
	if err != nil {
		return "", fmt.Errorf("store: seal payload: %w", err)
	}
	return sealed, nil
}

func (s *Store) decode(kind models.Kind, row models.EntityRow) (models.Entity, error) {
	raw, err := s.crypto.Decrypt(row.Payload)
	if err != nil {
		return nil, apperrors.ErrEncryptionKey.WithInternal(err)
	}

	entity := kind.New()
	if err := json.Unmarshal(raw, entity); err != nil {
		return nil, apperrors.ErrSerialization.WithInternal(err)
	}
	return entity, nil
}

// Upsert inserts or replaces a locally mutated entity by id. The row stays
// unsynced until the orchestrator confirms remote acceptance.
func (s *Store) Upsert(ctx context.Context, entity models.Entity) error {
	return s.upsert(ctx, entity, false)
}

// UpsertRemote stores an entity downloaded from the remote; it is synced by
// definition.
func (s *Store) UpsertRemote(ctx context.Context, entity models.Entity) error {
	return s.upsert(ctx, entity, true)
}

func (s *Store) upsert(ctx context.Context, entity models.Entity, synced bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if entity == nil {
		return errors.New("store: entity is required")
	}

	meta := entity.Metadata()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.EventAt.IsZero() {
		meta.EventAt = s.now()
	}

	payload, err := s.encode(entity)
	if err != nil {
		return err
	}

	now := s.now()
	row := models.EntityRow{
		ID:        meta.ID,
		UserID:    meta.UserID,
		Synced:    synced,
		EventAt:   meta.EventAt,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return s.table(ctx, entity.Kind()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "synced", "event_at", "payload", "updated_at"}),
		}).Create(&row).Error
}

// Get returns the entity with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var row models.EntityRow
	err := s.table(ctx, kind).Take(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.decode(kind, row)
}

// Filter narrows Query results using the plaintext metadata columns.
type Filter struct {
	UserID string
	Synced *bool
	From   time.Time
	To     time.Time
	Limit  int
}

// Query returns entities matching the filter, most recent event first.
func (s *Store) Query(ctx context.Context, kind models.Kind, filter Filter) ([]models.Entity, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	q := s.table(ctx, kind)
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Synced != nil {
		q = q.Where("synced = ?", *filter.Synced)
	}
	if !filter.From.IsZero() {
		q = q.Where("event_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("event_at <= ?", filter.To)
	}
	q = q.Order("event_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []models.EntityRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	entities := make([]models.Entity, 0, len(rows))
	for _, row := range rows {
		entity, err := s.decode(kind, row)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// GetUnsynced returns rows awaiting delivery, most recent event first.
func (s *Store) GetUnsynced(ctx context.Context, kind models.Kind, limit int) ([]models.Entity, error) {
	unsynced := false
	return s.Query(ctx, kind, Filter{Synced: &unsynced, Limit: limit})
}

// MarkSynced flags a row as confirmed by the remote.
func (s *Store) MarkSynced(ctx context.Context, kind models.Kind, id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	result := s.table(ctx, kind).
		Where("id = ?", id).
		Updates(map[string]any{"synced": true, "updated_at": s.now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete removes a row. Only the conflict resolver takes this path; there
// is no user-facing hard delete.
func (s *Store) Delete(ctx context.Context, kind models.Kind, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.table(ctx, kind).Where("id = ?", id).Delete(&models.EntityRow{}).Error
}

// CountUnsynced reports pending rows per kind for observability.
func (s *Store) CountUnsynced(ctx context.Context) (map[models.Kind]int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	counts := make(map[models.Kind]int64, len(models.Kinds()))
	for _, kind := range models.Kinds() {
		var n int64
		if err := s.table(ctx, kind).Where("synced = ?", false).Count(&n).Error; err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, nil
}
