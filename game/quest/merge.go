package quest

import (
	"sort"
	"time"
)

// mergeDocuments reconciles an imported document into the live one and
// returns a new document; neither input is modified.
//
// Per quest: objectives are unioned, the more advanced status wins (ties keep
// live), imported notes and attachments are only taken when the live note is
// empty, each timestamp keeps the earliest value, and rewards are unioned by
// (type, value). Timelines are unioned by event id. The ledger is rebuilt from
// the merged records.
func mergeDocuments(live, incoming *Document) *Document {
	out := &Document{
		Version:       SchemaVersion,
		QuestProgress: make(map[int]*QuestProgress, len(live.QuestProgress)+len(incoming.QuestProgress)),
	}

	for id, rec := range live.QuestProgress {
		out.QuestProgress[id] = rec.clone()
	}
	for id, in := range incoming.QuestProgress {
		cur, ok := out.QuestProgress[id]
		if !ok {
			out.QuestProgress[id] = in.clone()
			continue
		}
		mergeRecord(cur, in)
	}

	out.Timeline = mergeTimelines(live.Timeline, incoming.Timeline)
	out.TotalRewards = RecomputeLedger(out.QuestProgress)
	return out
}

// mergeRecord folds in into cur, which must be a private copy.
func mergeRecord(cur, in *QuestProgress) {
	if cur.Title == "" {
		cur.Title = in.Title
	}
	if in.Status.rank() > cur.Status.rank() {
		cur.Status = in.Status
	}

	seen := make(map[int]bool, len(cur.CompletedObjectives))
	for _, o := range cur.CompletedObjectives {
		seen[o] = true
	}
	for _, o := range in.CompletedObjectives {
		if !seen[o] {
			seen[o] = true
			cur.CompletedObjectives = append(cur.CompletedObjectives, o)
		}
	}
	sort.Ints(cur.CompletedObjectives)

	if cur.Notes == "" {
		cur.Notes = in.Notes
		for _, a := range in.Attachments {
			if cur.attachmentIndex(a.ID) < 0 {
				cur.Attachments = append(cur.Attachments, a)
			}
		}
	}

	cur.StartedAt = earliest(cur.StartedAt, in.StartedAt)
	cur.CompletedAt = earliest(cur.CompletedAt, in.CompletedAt)
	cur.FailedAt = earliest(cur.FailedAt, in.FailedAt)

	for _, r := range in.CollectedRewards {
		if !cur.hasReward(r) {
			cur.CollectedRewards = append(cur.CollectedRewards, r)
		}
	}
}

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return cloneTime(b)
	case b == nil:
		return a
	case b.Before(*a):
		return cloneTime(b)
	default:
		return a
	}
}

// mergeTimelines unions both timelines by event id, keeping the live copy of
// duplicates, and orders the result newest first. Equal timestamps keep live
// events ahead of imported ones.
func mergeTimelines(live, incoming []TimelineEvent) []TimelineEvent {
	out := make([]TimelineEvent, 0, len(live)+len(incoming))
	seen := make(map[string]bool, len(live)+len(incoming))
	for _, list := range [][]TimelineEvent{live, incoming} {
		for _, ev := range list {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
