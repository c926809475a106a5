package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questledger/cache"
	"github.com/kasuganosora/questledger/game/quest"
	"go.uber.org/zap"
)

const (
	DefaultChannel   = "progress"
	defaultKeepalive = 30 * time.Second
	publishTimeout   = 2 * time.Second
)

// Handler relays committed progress changes to server-sent event clients.
// Changes travel through the pub/sub channel, so with Redis configured every
// instance streams the changes made on any instance.
type Handler struct {
	pubsub    cache.PubSub
	channel   string
	keepalive time.Duration
	logger    *zap.Logger
}

func NewHandler(pubsub cache.PubSub, channel string, logger *zap.Logger) *Handler {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Handler{pubsub: pubsub, channel: channel, keepalive: defaultKeepalive, logger: logger}
}

// Observer returns a store observer that publishes each change as JSON.
func (h *Handler) Observer() quest.Observer {
	return func(ch quest.Change) {
		payload, err := json.Marshal(ch)
		if err != nil {
			h.logger.Error("encode progress change", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := h.pubsub.Publish(ctx, h.channel, string(payload)); err != nil {
			h.logger.Warn("publish progress change failed",
				zap.String("op", string(ch.Op)), zap.Uint64("revision", ch.Revision), zap.Error(err))
		}
	}
}

// ServeStream handles GET /api/progress/stream.
func (h *Handler) ServeStream(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	msgCh, unsub, err := h.pubsub.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream unavailable"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprint(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}
