package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConflictRecord persists a conflict deferred by the manual strategy so it
// can be resolved later. Both snapshots are kept verbatim.
type ConflictRecord struct {
	BaseModel
	TargetTable    string         `gorm:"size:64;index" json:"target_table"`
	RecordID       string         `gorm:"size:64;index" json:"record_id"`
	ConflictType   string         `gorm:"size:32" json:"conflict_type"`
	Strategy       string         `gorm:"size:32" json:"strategy"`
	LocalSnapshot  datatypes.JSON `json:"local_snapshot"`
	RemoteSnapshot datatypes.JSON `json:"remote_snapshot"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}
