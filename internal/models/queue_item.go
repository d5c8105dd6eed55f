package models

import (
	"time"

	"gorm.io/datatypes"
)

// QueueItem is a pending outbound mutation awaiting delivery to the remote.
// Ordering is priority descending, then creation time ascending.
type QueueItem struct {
	BaseModel
	Action        string         `gorm:"size:64;index" json:"action"`
	TargetTable   string         `gorm:"size:64" json:"target_table"`
	RecordID      string         `gorm:"size:64;index" json:"record_id"`
	Payload       datatypes.JSON `json:"payload"`
	Priority      int            `gorm:"index" json:"priority"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	NextAttemptAt time.Time      `gorm:"index" json:"next_attempt_at"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
}

// DeadLetter keeps a failure record for an item that exhausted its retries.
type DeadLetter struct {
	BaseModel
	QueueItemID string         `gorm:"size:64;index" json:"queue_item_id"`
	Action      string         `gorm:"size:64" json:"action"`
	TargetTable string         `gorm:"size:64" json:"target_table"`
	RecordID    string         `gorm:"size:64" json:"record_id"`
	Payload     datatypes.JSON `json:"payload"`
	Attempts    int            `json:"attempts"`
	LastError   string         `gorm:"type:text" json:"last_error"`
	FailedAt    time.Time      `gorm:"index" json:"failed_at"`
}
