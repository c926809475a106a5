package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/questledger/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBStore persists values as rows of the kv_entries table.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Get(ctx context.Context, key string) (string, error) {
	var row model.KVEntry
	err := s.db.WithContext(ctx).Where("kv_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: db get %q: %w", key, err)
	}
	return row.Value, nil
}

func (s *DBStore) Set(ctx context.Context, key, value string) error {
	row := model.KVEntry{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storage: db set %q: %w", key, err)
	}
	return nil
}

func (s *DBStore) Del(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("kv_key = ?", key).Delete(&model.KVEntry{}).Error; err != nil {
		return fmt.Errorf("storage: db del %q: %w", key, err)
	}
	return nil
}
