package quest

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMalformedDocument is wrapped by every import parse failure.
	ErrMalformedDocument = errors.New("quest: malformed progress document")
	// ErrUnsupportedVersion is returned for documents written by a newer schema.
	ErrUnsupportedVersion = errors.New("quest: unsupported progress document version")
)

// importDocument mirrors Document with pointers so absent fields can be told
// apart from empty ones.
type importDocument struct {
	Version       *int                   `json:"version"`
	QuestProgress map[int]*QuestProgress `json:"questProgress"`
	Timeline      []TimelineEvent        `json:"timeline"`
	TotalRewards  *RewardLedger          `json:"totalRewards"`
}

// ExportFileName suggests a download name for an export taken at now.
func ExportFileName(now time.Time) string {
	return "quest-progress-" + now.Format("2006-01-02") + ".json"
}

// ExportAllProgress serializes records, timeline, ledger and version tag as
// indented JSON.
func (s *Store) ExportAllProgress() string {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.st, "", "  ")
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("quest progress export failed", zap.Error(err))
		return ""
	}
	return string(data)
}

// ImportProgress is Import reduced to a success flag. Failures are logged.
func (s *Store) ImportProgress(doc string, mergeMode bool) bool {
	if err := s.Import(doc, mergeMode); err != nil {
		s.logger.Warn("quest progress import rejected", zap.Bool("merge", mergeMode), zap.Error(err))
		return false
	}
	return true
}

// Import parses doc and either replaces the live state with it or merges it
// into the live state. The live state is untouched on any error.
func (s *Store) Import(doc string, mergeMode bool) error {
	parsed, err := ParseDocument(doc)
	if err != nil {
		return err
	}
	s.ImportDocument(parsed, mergeMode)
	return nil
}

// ImportDocument commits a document returned by ParseDocument. The store
// takes ownership of parsed.
func (s *Store) ImportDocument(parsed *Document, mergeMode bool) {
	s.mu.Lock()
	next := parsed
	if mergeMode {
		next = mergeDocuments(s.st, parsed)
	}
	s.st = next
	quests, events := len(next.QuestProgress), len(next.Timeline)
	change := s.commitLocked(OpImport, 0)
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	s.notify(observers, change)
	s.logger.Info("quest progress imported",
		zap.Bool("merge", mergeMode),
		zap.Int("quests", quests),
		zap.Int("events", events))
}

// ParseDocument decodes and validates an exported document. All four top-level
// fields are required, every record must carry a known status and every
// timeline event an id and a known type.
func ParseDocument(doc string) (*Document, error) {
	var in importDocument
	dec := json.NewDecoder(strings.NewReader(doc))
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformedDocument)
	}

	switch {
	case in.Version == nil:
		return nil, fmt.Errorf("%w: missing version", ErrMalformedDocument)
	case in.QuestProgress == nil:
		return nil, fmt.Errorf("%w: missing questProgress", ErrMalformedDocument)
	case in.Timeline == nil:
		return nil, fmt.Errorf("%w: missing timeline", ErrMalformedDocument)
	case in.TotalRewards == nil:
		return nil, fmt.Errorf("%w: missing totalRewards", ErrMalformedDocument)
	}
	if *in.Version < 1 || *in.Version > SchemaVersion {
		return nil, fmt.Errorf("%w: %d (supported: 1..%d)", ErrUnsupportedVersion, *in.Version, SchemaVersion)
	}

	for id, rec := range in.QuestProgress {
		if rec == nil {
			return nil, fmt.Errorf("%w: quest %d: null record", ErrMalformedDocument, id)
		}
		if err := rec.validate(); err != nil {
			return nil, fmt.Errorf("%w: quest %d: %v", ErrMalformedDocument, id, err)
		}
		rec.QuestID = id
	}
	for _, ev := range in.Timeline {
		if err := ev.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
	}

	out := &Document{
		Version:       *in.Version,
		QuestProgress: in.QuestProgress,
		Timeline:      in.Timeline,
		TotalRewards:  *in.TotalRewards,
	}
	out.normalize()
	return out, nil
}
