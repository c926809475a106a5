package quest

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// apply folds one newly collected reward into the ledger.
func (l *RewardLedger) apply(r Reward) {
	switch r.Type {
	case RewardXP:
		l.XP += parseAmount(r.Value)
	case RewardCaps:
		l.Caps += parseAmount(r.Value)
	case RewardItem:
		l.Items = addUnique(l.Items, r.Value)
	case RewardPerk:
		l.Perks = addUnique(l.Perks, r.Value)
	}
}

// parseAmount reads a numeric reward value. Anything that is not a finite
// number counts as zero.
func parseAmount(v string) float64 {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return n
}

func addUnique(set []string, v string) []string {
	if slices.Contains(set, v) {
		return set
	}
	return append(set, v)
}

// RecomputeLedger derives the ledger from scratch by walking every collected
// reward of every record, in quest id order.
func RecomputeLedger(records map[int]*QuestProgress) RewardLedger {
	l := emptyLedger()
	for _, id := range sortedQuestIDs(records) {
		for _, r := range records[id].CollectedRewards {
			l.apply(r)
		}
	}
	return l
}
