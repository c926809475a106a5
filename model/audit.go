package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records destructive or bulk ledger actions (import, reset, restore, export).
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:36" json:"trace_id"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	QuestID    *int           `gorm:"index:idx_audit_quest" json:"quest_id"`
	Detail     datatypes.JSON `json:"detail"`
	Error      string         `gorm:"type:text" json:"error"`
	IP         string         `gorm:"size:45" json:"ip"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
