package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	mw "github.com/kasuganosora/questledger/middleware"
	"go.uber.org/zap"
)

// HandlerFunc processes a decoded WS message payload.
type HandlerFunc func(ctx context.Context, s *Session, payload json.RawMessage) error

// ClientError is returned by handlers for problems caused by the request. Its
// message is sent back to the client; other errors are reported generically.
type ClientError struct{ Msg string }

func (e *ClientError) Error() string { return e.Msg }

func badRequest(msg string) error { return &ClientError{Msg: msg} }

// Router dispatches incoming WS packets to registered handlers.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRouter creates a new Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// On registers a HandlerFunc for the given message type.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch decodes raw bytes, validates seq, and invokes the appropriate handler.
func (r *Router) Dispatch(s *Session, raw []byte) {
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet", zap.String("session", s.ID), zap.Error(err))
		s.Reply(0, "error", errorPayload{Error: "malformed packet"})
		return
	}

	// Seq == 0 means no seq tracking.
	if pkt.Seq != 0 && pkt.Seq <= s.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.String("session", s.ID),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}
	if pkt.Seq != 0 {
		s.LastSeq = pkt.Seq
	}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type", zap.String("type", pkt.Type), zap.String("session", s.ID))
		s.Reply(pkt.Seq, "error", errorPayload{Type: pkt.Type, Error: "unknown message type"})
		return
	}

	s.TraceID = uuid.NewString()
	ctx := mw.WithTraceID(context.Background(), s.TraceID)
	ctx = context.WithValue(ctx, ctxKeySeq{}, pkt.Seq)

	if err := fn(ctx, s, pkt.Payload); err != nil {
		var ce *ClientError
		if errors.As(err, &ce) {
			s.Reply(pkt.Seq, "error", errorPayload{Type: pkt.Type, Error: ce.Msg})
			return
		}
		r.logger.Error("handler error",
			zap.String("type", pkt.Type),
			zap.String("session", s.ID),
			zap.String("trace_id", s.TraceID),
			zap.Error(err))
		s.Reply(pkt.Seq, "error", errorPayload{Type: pkt.Type, Error: "internal error", TraceID: s.TraceID})
	}
}

type errorPayload struct {
	Type    string `json:"type,omitempty"`
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

type ctxKeySeq struct{}

// SeqFromCtx returns the seq of the packet being handled.
func SeqFromCtx(ctx context.Context) uint64 {
	v, _ := ctx.Value(ctxKeySeq{}).(uint64)
	return v
}
