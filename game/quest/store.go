package quest

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questledger/storage"
	"go.uber.org/zap"
)

// DefaultStorageKey is the key the progress document is persisted under.
const DefaultStorageKey = "quest-progress-storage"

// ChangeOp names the mutation that produced a Change.
type ChangeOp string

const (
	OpStartQuest       ChangeOp = "start_quest"
	OpCompleteQuest    ChangeOp = "complete_quest"
	OpFailQuest        ChangeOp = "fail_quest"
	OpUpdateStatus     ChangeOp = "update_status"
	OpToggleObjective  ChangeOp = "toggle_objective"
	OpSetNote          ChangeOp = "set_note"
	OpAddAttachment    ChangeOp = "add_attachment"
	OpRemoveAttachment ChangeOp = "remove_attachment"
	OpCollectReward    ChangeOp = "collect_reward"
	OpResetQuest       ChangeOp = "reset_quest"
	OpResetAll         ChangeOp = "reset_all"
	OpImport           ChangeOp = "import"
)

// Change describes one committed mutation. QuestID is zero for whole-state operations.
type Change struct {
	Op       ChangeOp  `json:"op"`
	QuestID  int       `json:"questId,omitempty"`
	Revision uint64    `json:"revision"`
	At       time.Time `json:"at"`
}

// Observer is called after every committed mutation, outside the store lock.
type Observer func(Change)

// Config holds Store settings.
type Config struct {
	StorageKey     string
	PersistTimeout time.Duration
}

// Store owns the quest progress state: per-quest records, the timeline and the
// reward ledger. Every mutator runs to completion under one lock, then writes
// the whole document to the KV store. A failed write never fails the mutator;
// the in-memory state stays authoritative and the store is marked dirty until
// Flush succeeds.
type Store struct {
	mu        sync.Mutex
	st        *Document
	kv        storage.KV // nil = no persistence (tests)
	key       string
	timeout   time.Duration
	logger    *zap.Logger
	observers []Observer
	dirty     bool
	revision  uint64

	now   func() time.Time
	newID func() string
}

// NewStore creates an empty Store. Call LoadFromStorage to hydrate it.
func NewStore(kv storage.KV, cfg Config, logger *zap.Logger) *Store {
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		st:      newDocument(),
		kv:      kv,
		key:     cfg.StorageKey,
		timeout: cfg.PersistTimeout,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// OnCommit registers an observer for committed changes.
func (s *Store) OnCommit(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// StartQuest marks the quest in progress and records a started event.
// StartedAt is only set the first time.
func (s *Store) StartQuest(questID int, title string) {
	s.mutate(OpStartQuest, questID, func(st *Document) {
		rec := st.record(questID)
		rec.setTitle(title)
		rec.Status = StatusInProgress
		rec.backfill(StatusInProgress, s.now())
		st.prependEvent(s.newEvent(questID, EventStarted, "Started quest: "+rec.label()))
	})
}

// CompleteQuest marks the quest completed. Each call appends a completed event,
// even when the quest was already completed.
func (s *Store) CompleteQuest(questID int, title string) {
	s.finish(OpCompleteQuest, questID, title, StatusCompleted, EventCompleted, "Completed quest: ")
}

// FailQuest marks the quest failed. Each call appends a failed event.
func (s *Store) FailQuest(questID int, title string) {
	s.finish(OpFailQuest, questID, title, StatusFailed, EventFailed, "Failed quest: ")
}

func (s *Store) finish(op ChangeOp, questID int, title string, status Status, ev EventType, prefix string) {
	s.mutate(op, questID, func(st *Document) {
		rec := st.record(questID)
		rec.setTitle(title)
		rec.Status = status
		rec.backfill(status, s.now())
		st.prependEvent(s.newEvent(questID, ev, prefix+rec.label()))
	})
}

// UpdateQuestStatus sets the status directly and backfills the matching
// timestamp. No timeline event is recorded. Unknown statuses are ignored.
func (s *Store) UpdateQuestStatus(questID int, status Status) bool {
	if !status.Valid() {
		s.logger.Warn("ignoring unknown quest status",
			zap.Int("quest_id", questID), zap.String("status", string(status)))
		return false
	}
	s.mutate(OpUpdateStatus, questID, func(st *Document) {
		rec := st.record(questID)
		rec.Status = status
		rec.backfill(status, s.now())
	})
	return true
}

// ToggleObjective flips the completion of one objective and reports whether
// it is completed afterwards.
//
// A missing record is created in progress with a started event. An existing
// NotStarted record is promoted to in progress without a started event.
// Only completing an objective is recorded on the timeline.
func (s *Store) ToggleObjective(questID, objectiveID int, description string) bool {
	var completed bool
	s.mutate(OpToggleObjective, questID, func(st *Document) {
		now := s.now()
		rec, ok := st.QuestProgress[questID]
		if !ok {
			rec = newRecord(questID, StatusInProgress)
			rec.StartedAt = &now
			st.QuestProgress[questID] = rec
			st.prependEvent(s.newEvent(questID, EventStarted, "Started quest: "+rec.label()))
		} else if rec.Status == StatusNotStarted {
			rec.Status = StatusInProgress
			rec.backfill(StatusInProgress, now)
		}

		if i := slices.Index(rec.CompletedObjectives, objectiveID); i >= 0 {
			rec.CompletedObjectives = slices.Delete(rec.CompletedObjectives, i, i+1)
			return
		}
		rec.CompletedObjectives = append(rec.CompletedObjectives, objectiveID)
		completed = true
		if description == "" {
			description = fmt.Sprintf("#%d", objectiveID)
		}
		st.prependEvent(s.newEvent(questID, EventObjectiveCompleted, "Completed objective: "+description))
	})
	return completed
}

// SetQuestNote replaces the quest note. A note_added event is recorded only
// when the new note is non-empty and differs from the old one.
func (s *Store) SetQuestNote(questID int, note string) {
	s.mutate(OpSetNote, questID, func(st *Document) {
		rec := st.record(questID)
		prev := rec.Notes
		rec.Notes = note
		if note != "" && note != prev {
			st.prependEvent(s.newEvent(questID, EventNoteAdded, "Added note to quest: "+rec.label()))
		}
	})
}

// AddNoteAttachment attaches a blob reference to the quest note and returns
// its id. An id is generated when a.ID is empty; adding an id that is already
// attached changes nothing.
func (s *Store) AddNoteAttachment(questID int, a Attachment) string {
	if a.ID == "" {
		a.ID = s.newID()
	}
	s.mutate(OpAddAttachment, questID, func(st *Document) {
		rec := st.record(questID)
		if rec.attachmentIndex(a.ID) >= 0 {
			return
		}
		if a.AddedAt.IsZero() {
			a.AddedAt = s.now()
		}
		rec.Attachments = append(rec.Attachments, a)
	})
	return a.ID
}

// RemoveNoteAttachment removes an attachment by id and reports whether it existed.
func (s *Store) RemoveNoteAttachment(questID int, attachmentID string) bool {
	var removed bool
	s.mutate(OpRemoveAttachment, questID, func(st *Document) {
		rec := st.record(questID)
		if i := rec.attachmentIndex(attachmentID); i >= 0 {
			rec.Attachments = slices.Delete(rec.Attachments, i, i+1)
			removed = true
		}
	})
	return removed
}

// CollectReward records a reward for the quest and folds it into the ledger.
// A reward whose (type, value) pair was already collected for this quest is
// ignored; the return value reports whether the reward was new.
func (s *Store) CollectReward(questID int, title string, reward Reward) bool {
	var added bool
	s.mutate(OpCollectReward, questID, func(st *Document) {
		rec := st.record(questID)
		rec.setTitle(title)
		if rec.hasReward(reward) {
			return
		}
		rec.CollectedRewards = append(rec.CollectedRewards, reward)
		st.TotalRewards.apply(reward)
		added = true
	})
	return added
}

// ResetQuest deletes the quest record and every timeline event for it.
// The reward ledger is left as is.
func (s *Store) ResetQuest(questID int) bool {
	var existed bool
	s.mutate(OpResetQuest, questID, func(st *Document) {
		_, existed = st.QuestProgress[questID]
		delete(st.QuestProgress, questID)
		st.removeEvents(questID)
	})
	return existed
}

// ResetAllProgress clears every record, the timeline and the ledger.
func (s *Store) ResetAllProgress() {
	s.mutate(OpResetAll, 0, func(st *Document) {
		*st = *newDocument()
	})
}

// Flush retries persistence if the last write failed. It is a no-op when the
// stored document is current.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || s.kv == nil {
		return nil
	}
	data, err := json.Marshal(s.st)
	if err != nil {
		return fmt.Errorf("quest: encode progress: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return err
	}
	s.dirty = false
	s.logger.Info("quest progress flushed", zap.Uint64("revision", s.revision))
	return nil
}

// Dirty reports whether the in-memory state has not been persisted yet.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Revision increases by one for every committed mutation.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *Store) mutate(op ChangeOp, questID int, fn func(st *Document)) {
	s.mu.Lock()
	fn(s.st)
	change := s.commitLocked(op, questID)
	observers := slices.Clone(s.observers)
	s.mu.Unlock()
	s.notify(observers, change)
}

// commitLocked bumps the revision and persists the document. Must hold s.mu.
func (s *Store) commitLocked(op ChangeOp, questID int) Change {
	s.revision++
	s.persistLocked()
	return Change{Op: op, QuestID: questID, Revision: s.revision, At: s.now()}
}

func (s *Store) persistLocked() {
	if s.kv == nil {
		return
	}
	data, err := json.Marshal(s.st)
	if err != nil {
		s.dirty = true
		s.logger.Error("quest progress encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		s.dirty = true
		s.logger.Warn("quest progress persist failed; keeping in-memory state",
			zap.String("key", s.key),
			zap.Uint64("revision", s.revision),
			zap.Error(err))
		return
	}
	s.dirty = false
}

func (s *Store) notify(observers []Observer, change Change) {
	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("quest observer panicked",
						zap.String("op", string(change.Op)), zap.Any("recover", r))
				}
			}()
			o(change)
		}()
	}
}

func (s *Store) newEvent(questID int, typ EventType, desc string) TimelineEvent {
	return TimelineEvent{
		ID:          s.newID(),
		QuestID:     questID,
		Type:        typ,
		Description: desc,
		Timestamp:   s.now(),
	}
}
