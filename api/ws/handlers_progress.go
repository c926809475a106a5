package ws

import (
	"context"
	"encoding/json"

	"github.com/kasuganosora/questledger/game/quest"
)

type questPayload struct {
	QuestID int    `json:"quest_id"`
	Title   string `json:"title"`
}

type statusPayload struct {
	QuestID int          `json:"quest_id"`
	Status  quest.Status `json:"status"`
}

type objectivePayload struct {
	QuestID     int    `json:"quest_id"`
	ObjectiveID int    `json:"objective_id"`
	Description string `json:"description"`
}

type notePayload struct {
	QuestID int    `json:"quest_id"`
	Note    string `json:"note"`
}

type rewardPayload struct {
	QuestID int              `json:"quest_id"`
	Title   string           `json:"title"`
	Type    quest.RewardType `json:"type"`
	Value   string           `json:"value"`
}

type timelinePayload struct {
	Limit int `json:"limit"`
}

// RegisterProgressHandlers wires the progress commands into r.
func RegisterProgressHandlers(r *Router, store *quest.Store) {
	r.On("ping", func(ctx context.Context, s *Session, _ json.RawMessage) error {
		s.Reply(SeqFromCtx(ctx), "pong", map[string]uint64{"revision": store.Revision()})
		return nil
	})

	r.On("list", func(ctx context.Context, s *Session, _ json.RawMessage) error {
		s.Reply(SeqFromCtx(ctx), "quests", map[string]any{
			"quests": store.AllProgress(),
			"counts": store.StatusCounts(),
		})
		return nil
	})

	r.On("get_quest", func(ctx context.Context, s *Session, raw json.RawMessage) error {
		var req questPayload
		if err := decode(raw, &req); err != nil {
			return err
		}
		rec, ok := store.Progress(req.QuestID)
		if !ok {
			return badRequest("quest not tracked")
		}
		s.Reply(SeqFromCtx(ctx), "quest", rec)
		return nil
	})

	transition := func(fn func(int, string)) HandlerFunc {
		return func(ctx context.Context, s *Session, raw json.RawMessage) error {
			var req questPayload
			if err := decode(raw, &req); err != nil {
				return err
			}
			fn(req.QuestID, req.Title)
			return questReply(ctx, s, store, req.QuestID)
		}
	}
	r.On("start_quest", transition(store.StartQuest))
	r.On("complete_quest", transition(store.CompleteQuest))
	r.On("fail_quest", transition(store.FailQuest))

	r.On("set_status", func(ctx context.Context, s *Session, raw json.RawMessage) error {
		var req statusPayload
		if err := decode(raw, &req); err != nil {
			return err
		}
		if !store.UpdateQuestStatus(req.QuestID, req.Status) {
			return badRequest("unknown status")
		}
		return questReply(ctx, s, store, req.QuestID)
	})

	r.On("toggle_objective", func(ctx context.Context, s *Session, raw json.RawMessage) error {
		var req objectivePayload
		if err := decode(raw, &req); err != nil {
			return err
		}
		completed := store.ToggleObjective(req.QuestID, req.ObjectiveID, req.Description)
		s.Reply(SeqFromCtx(ctx), "objective", map[string]any{
			"quest_id":     req.QuestID,
			"objective_id": req.ObjectiveID,
			"completed":    completed,
		})
		return nil
	})

	r.On("set_note", func(ctx context.Context, s *Session, raw json.RawMessage) error {
		var req notePayload
		if err := decode(raw, &req); err != nil {
			return err
		}
		store.SetQuestNote(req.QuestID, req.Note)
		return questReply(ctx, s, store, req.QuestID)
	})

	r.On("collect_reward", func(ctx context.Context, s *Session, raw json.RawMessage) error {
		var req rewardPayload
		if err := decode(raw, &req); err != nil {
			return err
		}
		if req.Type == "" || req.Value == "" {
			return badRequest("type and value required")
		}
		added := store.CollectReward(req.QuestID, req.Title, quest.Reward{Type: req.Type, Value: req.Value})
		s.Reply(SeqFromCtx(ctx), "reward", map[string]any{
			"added":        added,
			"totalRewards": store.TotalRewards(),
		})
		return nil
	})

	r.On("timeline", func(ctx context.Context, s *Session, raw json.RawMessage) error {
		var req timelinePayload
		if err := decode(raw, &req); err != nil {
			return err
		}
		s.Reply(SeqFromCtx(ctx), "timeline", store.Timeline(req.Limit))
		return nil
	})
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest("invalid payload")
	}
	return nil
}

func questReply(ctx context.Context, s *Session, store *quest.Store, questID int) error {
	rec, _ := store.Progress(questID)
	s.Reply(SeqFromCtx(ctx), "quest", rec)
	return nil
}
