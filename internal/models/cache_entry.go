package models

import "time"

// CacheEntry is a cached value persisted in the local store. SizeBytes
// records the plaintext size; the value column holds the sealed bytes.
type CacheEntry struct {
	Key            string     `gorm:"primaryKey;size:256"`
	Value          string     `gorm:"type:text"`
	SizeBytes      int64      `gorm:"index"`
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt time.Time  `gorm:"index"`
	ExpiresAt      *time.Time `gorm:"index"`
	Tier           int        `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
