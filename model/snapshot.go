package model

import (
	"time"

	"gorm.io/datatypes"
)

// ProgressSnapshot is a point-in-time copy of the exported progress document.
type ProgressSnapshot struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Reason    string         `gorm:"size:32;not null" json:"reason"` // scheduled | manual | pre_import
	Version   int            `gorm:"not null" json:"version"`
	Quests    int            `json:"quests"`
	Events    int            `json:"events"`
	Document  datatypes.JSON `json:"-"`
	CreatedAt time.Time      `gorm:"index:idx_snapshot_created;autoCreateTime:milli" json:"created_at"`
}

func (ProgressSnapshot) TableName() string { return "progress_snapshots" }
