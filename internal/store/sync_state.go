package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aegis-mobile/synccore/internal/models"
)

const syncStateID = 1

// LastSyncTime returns the timestamp of the last successful sync cycle,
// or nil when no cycle has completed yet.
func (s *Store) LastSyncTime(ctx context.Context) (*time.Time, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var state models.SyncState
	err := s.db.WithContext(ctx).Take(&state, "id = ?", syncStateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state.LastSyncAt, nil
}

// SetLastSyncTime persists the last successful sync timestamp.
func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	state := models.SyncState{
		ID:         syncStateID,
		LastSyncAt: &t,
		UpdatedAt:  s.now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_sync_at", "updated_at"}),
		}).Create(&state).Error
}
