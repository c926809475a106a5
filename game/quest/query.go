package quest

import (
	"slices"
	"sort"
)

// Progress returns a copy of the quest's record.
func (s *Store) Progress(questID int) (QuestProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.QuestProgress[questID]
	if !ok {
		return QuestProgress{}, false
	}
	return *rec.clone(), true
}

// AllProgress returns copies of every record ordered by quest id.
func (s *Store) AllProgress() []QuestProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QuestProgress, 0, len(s.st.QuestProgress))
	for _, id := range sortedQuestIDs(s.st.QuestProgress) {
		out = append(out, *s.st.QuestProgress[id].clone())
	}
	return out
}

// IsObjectiveCompleted reports whether objectiveID is in the quest's completed set.
func (s *Store) IsObjectiveCompleted(questID, objectiveID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.QuestProgress[questID]
	return ok && slices.Contains(rec.CompletedObjectives, objectiveID)
}

// CountByStatus returns how many records currently have the given status.
func (s *Store) CountByStatus(status Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.st.QuestProgress {
		if rec.Status == status {
			n++
		}
	}
	return n
}

// StatusCounts returns the record count for every status, including zeros.
func (s *Store) StatusCounts() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[Status]int{
		StatusNotStarted: 0,
		StatusInProgress: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for _, rec := range s.st.QuestProgress {
		counts[rec.Status]++
	}
	return counts
}

// TotalRewards returns a copy of the live reward ledger.
func (s *Store) TotalRewards() RewardLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.TotalRewards.clone()
}

// DerivedRewards recomputes the ledger from the records without touching the
// live ledger. It differs from TotalRewards only after ResetQuest.
func (s *Store) DerivedRewards() RewardLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RecomputeLedger(s.st.QuestProgress)
}

// Timeline returns the most recent events first. limit <= 0 returns all of them.
func (s *Store) Timeline(limit int) []TimelineEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.st.Timeline
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return slices.Clone(events)
}

// CollectedRewards flattens every quest's rewards, newest quest completion
// first. Quests without a completion time sort as if completed now.
func (s *Store) CollectedRewards() []CollectedReward {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []CollectedReward
	for _, id := range sortedQuestIDs(s.st.QuestProgress) {
		rec := s.st.QuestProgress[id]
		at := now
		if rec.CompletedAt != nil {
			at = *rec.CompletedAt
		}
		for _, r := range rec.CollectedRewards {
			out = append(out, CollectedReward{
				QuestID:     id,
				QuestTitle:  rec.Title,
				Type:        r.Type,
				Value:       r.Value,
				CompletedAt: at,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out
}
