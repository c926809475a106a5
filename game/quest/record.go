package quest

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

// record returns the quest's progress, creating a NotStarted record if needed.
func (d *Document) record(questID int) *QuestProgress {
	rec, ok := d.QuestProgress[questID]
	if !ok {
		rec = newRecord(questID, StatusNotStarted)
		d.QuestProgress[questID] = rec
	}
	return rec
}

// prependEvent keeps the timeline most-recent-first.
func (d *Document) prependEvent(ev TimelineEvent) {
	d.Timeline = slices.Insert(d.Timeline, 0, ev)
}

func (d *Document) removeEvents(questID int) {
	d.Timeline = slices.DeleteFunc(d.Timeline, func(ev TimelineEvent) bool {
		return ev.QuestID == questID
	})
}

// sortedQuestIDs returns record ids in ascending order for deterministic iteration.
func sortedQuestIDs(records map[int]*QuestProgress) []int {
	ids := make([]int, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (q *QuestProgress) setTitle(title string) {
	if title != "" {
		q.Title = title
	}
}

func (q *QuestProgress) label() string {
	if q.Title != "" {
		return q.Title
	}
	return fmt.Sprintf("#%d", q.QuestID)
}

// backfill sets the timestamp that belongs to status, unless already set.
func (q *QuestProgress) backfill(status Status, now time.Time) {
	var slot **time.Time
	switch status {
	case StatusInProgress:
		slot = &q.StartedAt
	case StatusCompleted:
		slot = &q.CompletedAt
	case StatusFailed:
		slot = &q.FailedAt
	default:
		return
	}
	if *slot == nil {
		t := now
		*slot = &t
	}
}

func (q *QuestProgress) hasReward(r Reward) bool {
	for _, c := range q.CollectedRewards {
		if c.Type == r.Type && c.Value == r.Value {
			return true
		}
	}
	return false
}

func (q *QuestProgress) attachmentIndex(id string) int {
	return slices.IndexFunc(q.Attachments, func(a Attachment) bool { return a.ID == id })
}

func (q *QuestProgress) validate() error {
	if !q.Status.Valid() {
		return fmt.Errorf("unknown status %q", q.Status)
	}
	return nil
}

func (ev TimelineEvent) validate() error {
	if ev.ID == "" {
		return errors.New("event without id")
	}
	if !ev.Type.Valid() {
		return fmt.Errorf("event %s: unknown type %q", ev.ID, ev.Type)
	}
	return nil
}
