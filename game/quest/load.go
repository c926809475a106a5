package quest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/kasuganosora/questledger/storage"
	"go.uber.org/zap"
)

// LoadFromStorage replaces the in-memory state with the persisted document.
// Nothing stored leaves the store empty. A read failure is returned for the
// caller to log and the store stays empty; a damaged document is salvaged
// field by field instead of rejected.
func (s *Store) LoadFromStorage(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("quest: load progress: %w", err)
	}

	doc, problems := decodeStored(raw)
	for _, p := range problems {
		s.logger.Warn("quest progress sanitized on load", zap.String("problem", p))
	}

	s.mu.Lock()
	s.st = doc
	s.mu.Unlock()
	s.logger.Info("quest progress loaded",
		zap.Int("version", doc.Version),
		zap.Int("quests", len(doc.QuestProgress)),
		zap.Int("events", len(doc.Timeline)))
	return nil
}

// decodeStored is the lenient counterpart of ParseDocument used at startup.
// Every top-level field is decoded on its own and falls back to a default
// when it fails a sanity check: a bad or newer version becomes SchemaVersion, bad
// records and events are dropped, and a bad ledger is recomputed from the
// surviving records. The returned strings describe what was repaired.
func decodeStored(raw string) (*Document, []string) {
	doc := newDocument()
	var problems []string

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return doc, []string{"unreadable document, starting empty: " + err.Error()}
	}

	if v, ok := top["version"]; !ok || json.Unmarshal(v, &doc.Version) != nil || doc.Version < 1 {
		problems = append(problems, "invalid version tag, assuming current schema")
		doc.Version = SchemaVersion
	} else if doc.Version > SchemaVersion {
		problems = append(problems, fmt.Sprintf("document version %d is newer than %d, loading known fields", doc.Version, SchemaVersion))
		// only known fields survive decoding, so the result is a current-schema document
		doc.Version = SchemaVersion
	}

	var records map[string]json.RawMessage
	if err := json.Unmarshal(top["questProgress"], &records); err != nil {
		problems = append(problems, "invalid questProgress, starting with no records")
	}
	for key, body := range records {
		id, err := strconv.Atoi(key)
		if err != nil {
			problems = append(problems, fmt.Sprintf("dropped record with non-numeric id %q", key))
			continue
		}
		var rec QuestProgress
		if err := json.Unmarshal(body, &rec); err != nil {
			problems = append(problems, fmt.Sprintf("dropped quest %d: %v", id, err))
			continue
		}
		if err := rec.validate(); err != nil {
			problems = append(problems, fmt.Sprintf("dropped quest %d: %v", id, err))
			continue
		}
		rec.QuestID = id
		rec.normalize()
		doc.QuestProgress[id] = &rec
	}

	var events []json.RawMessage
	if err := json.Unmarshal(top["timeline"], &events); err != nil {
		problems = append(problems, "invalid timeline, starting with no events")
	}
	for i, body := range events {
		var ev TimelineEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			problems = append(problems, fmt.Sprintf("dropped timeline entry %d: %v", i, err))
			continue
		}
		if err := ev.validate(); err != nil {
			problems = append(problems, fmt.Sprintf("dropped timeline entry %d: %v", i, err))
			continue
		}
		doc.Timeline = append(doc.Timeline, ev)
	}

	var ledger RewardLedger
	if body, ok := top["totalRewards"]; !ok || string(body) == "null" || json.Unmarshal(body, &ledger) != nil {
		problems = append(problems, "invalid totalRewards, recomputing from records")
		ledger = RecomputeLedger(doc.QuestProgress)
	}
	doc.TotalRewards = ledger
	doc.normalize()
	return doc, problems
}
