package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kasuganosora/questledger/game/quest"
	"github.com/kasuganosora/questledger/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Snapshot reasons.
const (
	ReasonScheduled  = "scheduled"
	ReasonManual     = "manual"
	ReasonPreImport  = "pre_import"
	ReasonPreRestore = "pre_restore"
)

// ErrNotFound is returned when a snapshot id does not exist.
var ErrNotFound = errors.New("snapshot: not found")

// Source is the progress store being backed up.
type Source interface {
	ExportAllProgress() string
	Import(doc string, merge bool) error
	Revision() uint64
}

// Service keeps point-in-time copies of the exported progress document in
// the progress_snapshots table.
type Service struct {
	db     *gorm.DB
	src    Source
	keep   int
	logger *zap.Logger

	mu      sync.Mutex
	lastRev uint64
	taken   bool
}

// New returns a Service retaining at most keep snapshots; keep <= 0 keeps all.
func New(db *gorm.DB, src Source, keep int, logger *zap.Logger) *Service {
	return &Service{db: db, src: src, keep: keep, logger: logger}
}

// Take stores the current document. Scheduled snapshots are skipped when the
// store has not changed since the previous snapshot; the bool reports whether
// a row was written.
func (s *Service) Take(ctx context.Context, reason string) (*model.ProgressSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.src.Revision()
	if reason == ReasonScheduled && s.taken && rev == s.lastRev {
		return nil, false, nil
	}

	raw := s.src.ExportAllProgress()
	doc, err := quest.ParseDocument(raw)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: export unreadable: %w", err)
	}
	row := &model.ProgressSnapshot{
		Reason:   reason,
		Version:  doc.Version,
		Quests:   len(doc.QuestProgress),
		Events:   len(doc.Timeline),
		Document: datatypes.JSON(raw),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, false, fmt.Errorf("snapshot: save: %w", err)
	}
	s.lastRev = rev
	s.taken = true

	if err := s.prune(ctx); err != nil {
		s.logger.Warn("snapshot prune failed", zap.Error(err))
	}
	s.logger.Info("progress snapshot taken",
		zap.Int64("id", row.ID),
		zap.String("reason", reason),
		zap.Int("quests", row.Quests),
		zap.Int("events", row.Events))
	return row, true, nil
}

// List returns snapshot metadata newest first. limit <= 0 returns all.
func (s *Service) List(ctx context.Context, limit int) ([]model.ProgressSnapshot, error) {
	q := s.db.WithContext(ctx).
		Omit("document").
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.ProgressSnapshot
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	return rows, nil
}

// Get loads one snapshot including its document.
func (s *Service) Get(ctx context.Context, id int64) (*model.ProgressSnapshot, error) {
	var row model.ProgressSnapshot
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %d: %w", id, err)
	}
	return &row, nil
}

// Restore replaces the live progress with snapshot id. The state being
// replaced is saved first as a pre_restore snapshot.
func (s *Service) Restore(ctx context.Context, id int64) error {
	row, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, _, err := s.Take(ctx, ReasonPreRestore); err != nil {
		return err
	}
	if err := s.src.Import(string(row.Document), false); err != nil {
		return fmt.Errorf("snapshot: restore %d: %w", id, err)
	}
	s.logger.Info("progress restored from snapshot", zap.Int64("id", id))
	return nil
}

// Task adapts Take for the scheduler.
func (s *Service) Task(ctx context.Context) error {
	_, _, err := s.Take(ctx, ReasonScheduled)
	return err
}

func (s *Service) prune(ctx context.Context) error {
	if s.keep <= 0 {
		return nil
	}
	var stale []int64
	err := s.db.WithContext(ctx).Model(&model.ProgressSnapshot{}).
		Order("created_at DESC").Order("id DESC").
		Offset(s.keep).Limit(1 << 20).
		Pluck("id", &stale).Error
	if err != nil || len(stale) == 0 {
		return err
	}
	return s.db.WithContext(ctx).Delete(&model.ProgressSnapshot{}, stale).Error
}
