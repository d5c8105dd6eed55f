package models

import "time"

// EntityRow is the persisted shape shared by every entity table: queryable
// metadata in plaintext columns, the typed entity sealed in the payload
// column. One table per Kind, all using this schema.
type EntityRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"index;size:64"`
	Synced    bool      `gorm:"index"`
	EventAt   time.Time `gorm:"index"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
