package model_test

import (
	"testing"

	"github.com/kasuganosora/questledger/model"
	"github.com/kasuganosora/questledger/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	kv := &model.KVEntry{Key: "quest-progress-storage", Value: `{"version":1}`}
	require.NoError(t, db.Create(kv).Error)

	var found model.KVEntry
	require.NoError(t, db.First(&found, "kv_key = ?", kv.Key).Error)
	assert.Equal(t, `{"version":1}`, found.Value)
	assert.False(t, found.UpdatedAt.IsZero())

	snap := &model.ProgressSnapshot{
		Reason:   "manual",
		Version:  1,
		Document: datatypes.JSON(`{"version":1}`),
	}
	require.NoError(t, db.Create(snap).Error)
	assert.Greater(t, snap.ID, int64(0))

	questID := 5
	al := &model.AuditLog{TraceID: "trace-001", Action: "reset_quest", QuestID: &questID}
	require.NoError(t, db.Create(al).Error)

	var logs []model.AuditLog
	require.NoError(t, db.Where("quest_id = ?", 5).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "reset_quest", logs[0].Action)
}
