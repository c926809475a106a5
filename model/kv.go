package model

import "time"

// KVEntry is one row of the database-backed key/value store.
type KVEntry struct {
	Key       string    `gorm:"column:kv_key;primaryKey;size:191" json:"key"`
	Value     string    `gorm:"type:longtext;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

func (KVEntry) TableName() string { return "kv_entries" }
