package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kasuganosora/questledger/game/quest"
	mw "github.com/kasuganosora/questledger/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newSession creates a Session without a connection; replies stay in SendChan.
func newSession() *Session {
	return &Session{
		ID:       "test",
		SendChan: make(chan []byte, 64),
		Done:     make(chan struct{}),
		logger:   zap.NewNop(),
	}
}

func makePacket(t *testing.T, seq uint64, msgType string, payload any) []byte {
	t.Helper()
	p, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(Packet{Seq: seq, Type: msgType, Payload: p})
	require.NoError(t, err)
	return b
}

// sent pops the next queued packet.
func sent(t *testing.T, s *Session) Packet {
	t.Helper()
	select {
	case raw := <-s.SendChan:
		var pkt Packet
		require.NoError(t, json.Unmarshal(raw, &pkt))
		return pkt
	default:
		t.Fatal("no packet sent")
		return Packet{}
	}
}

func TestRouter_Dispatch_Basic(t *testing.T) {
	r := NewRouter(zap.NewNop())
	var gotSeq uint64
	var gotTrace string
	r.On("ping", func(ctx context.Context, s *Session, _ json.RawMessage) error {
		gotSeq = SeqFromCtx(ctx)
		gotTrace = mw.TraceIDFrom(ctx)
		return nil
	})

	s := newSession()
	r.Dispatch(s, makePacket(t, 4, "ping", nil))
	assert.Equal(t, uint64(4), gotSeq)
	assert.NotEmpty(t, gotTrace)
	assert.Equal(t, gotTrace, s.TraceID)
}

func TestRouter_Dispatch_MalformedJSON(t *testing.T) {
	r := NewRouter(zap.NewNop())
	s := newSession()
	r.Dispatch(s, []byte("not json"))
	assert.Equal(t, "error", sent(t, s).Type)
}

func TestRouter_Dispatch_UnknownType(t *testing.T) {
	r := NewRouter(zap.NewNop())
	s := newSession()
	r.Dispatch(s, makePacket(t, 1, "teleport", nil))
	pkt := sent(t, s)
	assert.Equal(t, "error", pkt.Type)
	assert.Equal(t, uint64(1), pkt.Seq)
	assert.Contains(t, string(pkt.Payload), "unknown message type")
}

func TestRouter_Dispatch_AntiReplay(t *testing.T) {
	r := NewRouter(zap.NewNop())
	var calls int
	r.On("msg", func(context.Context, *Session, json.RawMessage) error {
		calls++
		return nil
	})
	s := newSession()

	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	r.Dispatch(s, makePacket(t, 3, "msg", nil))
	assert.Equal(t, 1, calls)

	r.Dispatch(s, makePacket(t, 6, "msg", nil))
	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	assert.Equal(t, 4, calls, "seq 0 skips replay tracking")
}

func TestRouter_Dispatch_Errors(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.On("bad", func(context.Context, *Session, json.RawMessage) error {
		return badRequest("quest_id required")
	})
	r.On("boom", func(context.Context, *Session, json.RawMessage) error {
		return errors.New("disk on fire")
	})
	s := newSession()

	r.Dispatch(s, makePacket(t, 1, "bad", nil))
	pkt := sent(t, s)
	assert.Equal(t, "error", pkt.Type)
	assert.Contains(t, string(pkt.Payload), "quest_id required")

	r.Dispatch(s, makePacket(t, 2, "boom", nil))
	pkt = sent(t, s)
	assert.Equal(t, "error", pkt.Type)
	assert.Contains(t, string(pkt.Payload), "internal error")
	assert.NotContains(t, string(pkt.Payload), "disk on fire")
}

func TestSession_SendAfterClose(t *testing.T) {
	s := newSession()
	s.Close()
	s.Close()
	assert.True(t, s.IsClosed())
	s.Reply(1, "pong", nil)
	assert.Empty(t, s.SendChan)
}

func TestProgressHandlers(t *testing.T) {
	store := quest.NewStore(nil, quest.Config{}, zap.NewNop())
	r := NewRouter(zap.NewNop())
	RegisterProgressHandlers(r, store)
	s := newSession()

	r.Dispatch(s, makePacket(t, 1, "start_quest", questPayload{QuestID: 7, Title: "Lighthouse"}))
	pkt := sent(t, s)
	require.Equal(t, "quest", pkt.Type)
	assert.Equal(t, uint64(1), pkt.Seq)
	var rec quest.QuestProgress
	require.NoError(t, json.Unmarshal(pkt.Payload, &rec))
	assert.Equal(t, quest.StatusInProgress, rec.Status)

	r.Dispatch(s, makePacket(t, 2, "toggle_objective", objectivePayload{QuestID: 7, ObjectiveID: 3}))
	pkt = sent(t, s)
	assert.Equal(t, "objective", pkt.Type)
	assert.JSONEq(t, `{"quest_id":7,"objective_id":3,"completed":true}`, string(pkt.Payload))

	r.Dispatch(s, makePacket(t, 3, "set_status", statusPayload{QuestID: 7, Status: "paused"}))
	assert.Equal(t, "error", sent(t, s).Type)

	r.Dispatch(s, makePacket(t, 4, "collect_reward", rewardPayload{QuestID: 7, Type: quest.RewardXP, Value: "50"}))
	pkt = sent(t, s)
	assert.Equal(t, "reward", pkt.Type)
	assert.Contains(t, string(pkt.Payload), `"added":true`)

	r.Dispatch(s, makePacket(t, 5, "collect_reward", rewardPayload{QuestID: 7, Type: quest.RewardXP}))
	assert.Equal(t, "error", sent(t, s).Type)

	r.Dispatch(s, makePacket(t, 6, "complete_quest", questPayload{QuestID: 7}))
	sent(t, s)
	assert.Equal(t, 1, store.CountByStatus(quest.StatusCompleted))

	r.Dispatch(s, makePacket(t, 7, "get_quest", questPayload{QuestID: 99}))
	assert.Equal(t, "error", sent(t, s).Type)

	r.Dispatch(s, makePacket(t, 8, "timeline", timelinePayload{Limit: 2}))
	pkt = sent(t, s)
	var events []quest.TimelineEvent
	require.NoError(t, json.Unmarshal(pkt.Payload, &events))
	assert.Len(t, events, 2)

	r.Dispatch(s, []byte(`{"seq":9,"type":"set_note","payload":"oops"}`))
	assert.Equal(t, "error", sent(t, s).Type)
}
