package quest

import (
	"time"
)

// SchemaVersion is the version tag written into every persisted or exported document.
const SchemaVersion = 1

// Status is the lifecycle state of a quest.
type Status string

const (
	StatusNotStarted Status = "NotStarted"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// rank orders statuses by how far along a quest is. Used by merge import.
func (s Status) rank() int {
	switch s {
	case StatusCompleted:
		return 3
	case StatusFailed:
		return 2
	case StatusInProgress:
		return 1
	default:
		return 0
	}
}

// RewardType classifies a collected reward.
type RewardType string

const (
	RewardXP   RewardType = "XP"
	RewardCaps RewardType = "Caps"
	RewardItem RewardType = "Item"
	RewardPerk RewardType = "Perk"
)

// Reward is a single reward entry. Numeric rewards keep their raw string value.
type Reward struct {
	Type  RewardType `json:"type"`
	Value string     `json:"value"`
}

// Attachment references a binary blob attached to a quest note.
type Attachment struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Type    string    `json:"type"`
	Size    int64     `json:"size"`
	Ref     string    `json:"ref"`
	AddedAt time.Time `json:"addedAt"`
}

// QuestProgress is the tracked state of one quest.
type QuestProgress struct {
	QuestID             int          `json:"questId"`
	Title               string       `json:"title,omitempty"`
	Status              Status       `json:"status"`
	CompletedObjectives []int        `json:"completedObjectives"`
	Notes               string       `json:"notes"`
	Attachments         []Attachment `json:"attachments"`
	StartedAt           *time.Time   `json:"startedAt,omitempty"`
	CompletedAt         *time.Time   `json:"completedAt,omitempty"`
	FailedAt            *time.Time   `json:"failedAt,omitempty"`
	CollectedRewards    []Reward     `json:"collectedRewards"`
}

// EventType names a timeline event kind.
type EventType string

const (
	EventStarted            EventType = "started"
	EventObjectiveCompleted EventType = "objective_completed"
	EventCompleted          EventType = "completed"
	EventFailed             EventType = "failed"
	EventNoteAdded          EventType = "note_added"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventStarted, EventObjectiveCompleted, EventCompleted, EventFailed, EventNoteAdded:
		return true
	}
	return false
}

// TimelineEvent is an immutable record of a progress action.
type TimelineEvent struct {
	ID          string    `json:"id"`
	QuestID     int       `json:"questId"`
	Type        EventType `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// RewardLedger aggregates every collected reward across all quests.
type RewardLedger struct {
	XP    float64  `json:"xp"`
	Caps  float64  `json:"caps"`
	Items []string `json:"items"`
	Perks []string `json:"perks"`
}

// CollectedReward is a reward flattened out of its quest for listing.
type CollectedReward struct {
	QuestID     int        `json:"questId"`
	QuestTitle  string     `json:"questTitle,omitempty"`
	Type        RewardType `json:"type"`
	Value       string     `json:"value"`
	CompletedAt time.Time  `json:"completedAt"`
}

// Document is the full persisted state, and also the export/import format.
type Document struct {
	Version       int                    `json:"version"`
	QuestProgress map[int]*QuestProgress `json:"questProgress"`
	Timeline      []TimelineEvent        `json:"timeline"`
	TotalRewards  RewardLedger           `json:"totalRewards"`
}

func newDocument() *Document {
	return &Document{
		Version:       SchemaVersion,
		QuestProgress: make(map[int]*QuestProgress),
		Timeline:      []TimelineEvent{},
		TotalRewards:  emptyLedger(),
	}
}

func emptyLedger() RewardLedger {
	return RewardLedger{Items: []string{}, Perks: []string{}}
}

func newRecord(questID int, status Status) *QuestProgress {
	return &QuestProgress{
		QuestID:             questID,
		Status:              status,
		CompletedObjectives: []int{},
		Attachments:         []Attachment{},
		CollectedRewards:    []Reward{},
	}
}

// normalize replaces nil collections with empty ones so that encoded
// documents never carry nulls where arrays are expected.
func (d *Document) normalize() {
	if d.QuestProgress == nil {
		d.QuestProgress = make(map[int]*QuestProgress)
	}
	if d.Timeline == nil {
		d.Timeline = []TimelineEvent{}
	}
	if d.TotalRewards.Items == nil {
		d.TotalRewards.Items = []string{}
	}
	if d.TotalRewards.Perks == nil {
		d.TotalRewards.Perks = []string{}
	}
	for _, rec := range d.QuestProgress {
		rec.normalize()
	}
}

func (q *QuestProgress) normalize() {
	if q.CompletedObjectives == nil {
		q.CompletedObjectives = []int{}
	}
	if q.Attachments == nil {
		q.Attachments = []Attachment{}
	}
	if q.CollectedRewards == nil {
		q.CollectedRewards = []Reward{}
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (q *QuestProgress) clone() *QuestProgress {
	c := *q
	c.CompletedObjectives = append([]int{}, q.CompletedObjectives...)
	c.Attachments = append([]Attachment{}, q.Attachments...)
	c.CollectedRewards = append([]Reward{}, q.CollectedRewards...)
	c.StartedAt = cloneTime(q.StartedAt)
	c.CompletedAt = cloneTime(q.CompletedAt)
	c.FailedAt = cloneTime(q.FailedAt)
	return &c
}

func (l RewardLedger) clone() RewardLedger {
	return RewardLedger{
		XP:    l.XP,
		Caps:  l.Caps,
		Items: append([]string{}, l.Items...),
		Perks: append([]string{}, l.Perks...),
	}
}

func (d *Document) clone() *Document {
	c := &Document{
		Version:       d.Version,
		QuestProgress: make(map[int]*QuestProgress, len(d.QuestProgress)),
		Timeline:      append([]TimelineEvent{}, d.Timeline...),
		TotalRewards:  d.TotalRewards.clone(),
	}
	for id, rec := range d.QuestProgress {
		c.QuestProgress[id] = rec.clone()
	}
	return c
}
