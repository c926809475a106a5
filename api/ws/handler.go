package ws

import (
	"context"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/questledger/cache"
	"go.uber.org/zap"
)

// Handler upgrades progress socket connections. Each session receives every
// committed change from the pub/sub channel as a "progress" packet and may
// send commands handled by the Router.
type Handler struct {
	pubsub   cache.PubSub
	channel  string
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// An empty allowedOrigins permits all origins (development only).
func NewHandler(pubsub cache.PubSub, channel string, router *Router, allowedOrigins []string, logger *zap.Logger) *Handler {
	if channel == "" {
		channel = "progress"
	}
	h := &Handler{
		pubsub:  pubsub,
		channel: channel,
		router:  router,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// ServeWS handles GET /api/progress/ws.
func (h *Handler) ServeWS(c *gin.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	msgCh, unsub, err := h.pubsub.Subscribe(ctx, h.channel)
	if err != nil {
		cancel()
		h.logger.Error("ws subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsub()
		cancel()
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	s := NewSession(uuid.NewString(), c.ClientIP(), conn, h.logger)
	h.logger.Info("progress socket connected", zap.String("session", s.ID), zap.String("client_ip", s.ClientIP))
	s.Reply(0, "connected", map[string]string{"session": s.ID})

	go func() {
		defer unsub()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				s.SendRaw([]byte(`{"seq":0,"type":"progress","payload":` + msg.Payload + `}`))
			case <-s.Done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	h.readPump(s)
	cancel()
}

// readPump reads messages from the connection and dispatches them until the
// connection closes.
func (h *Handler) readPump(s *Session) {
	defer func() {
		s.Close()
		h.logger.Info("progress socket disconnected", zap.String("session", s.ID))
	}()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close", zap.String("session", s.ID), zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}
