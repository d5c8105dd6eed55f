package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-mobile/synccore/internal/models"
)

// RunRetention deletes rows that are both synced and older than the kind's
// retention policy. Kinds without a policy are retained indefinitely.
// Unsynced rows are never removed, whatever their age.
func (s *Store) RunRetention(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	var removed int64
	for _, kind := range models.Kinds() {
		retention := kind.Retention()
		if retention <= 0 {
			continue
		}

		cutoff := now.Add(-retention)
		result := s.table(ctx, kind).
			Where("synced = ? AND event_at < ?", true, cutoff).
			Delete(&models.EntityRow{})
		if result.Error != nil {
			return removed, result.Error
		}
		if result.RowsAffected > 0 {
			s.log.Info("retention cleanup",
				zap.String("table", kind.Table()),
				zap.Int64("removed", result.RowsAffected))
		}
		removed += result.RowsAffected
	}
	return removed, nil
}
