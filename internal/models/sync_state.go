package models

import "time"

// SyncState is a single-row table holding orchestrator bookkeeping that
// must survive restarts.
type SyncState struct {
	ID         uint       `gorm:"primaryKey"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// KeyProbe is a sealed sentinel written on first initialisation. Failing to
// decrypt it means the device key is lost or corrupted, which is surfaced
// as a reinitialize-required condition rather than treated as empty data.
type KeyProbe struct {
	ID         uint      `gorm:"primaryKey"`
	Ciphertext string    `gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}
