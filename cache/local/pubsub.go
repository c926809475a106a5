package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

// subscription is one Subscribe call; it may listen on several channels
// but delivers into a single buffered stream.
type subscription struct {
	ch     chan *LocalMessage
	closed bool
}

// LocalPubSub is an in-process fan-out pub/sub used when Redis is not configured.
// Delivery is best-effort: a subscriber with a full buffer misses the message.
type LocalPubSub struct {
	mu      sync.RWMutex
	byTopic map[string]map[*subscription]struct{}
	bufSize int
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		byTopic: make(map[string]map[*subscription]struct{}),
		bufSize: bufSize,
	}
}

// Publish sends a message to all current subscribers of channel without blocking.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for sub := range ps.byTopic[channel] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a stream of messages for the given channels and a cancel
// function that unsubscribes and closes the stream.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	sub := &subscription{ch: make(chan *LocalMessage, ps.bufSize)}

	ps.mu.Lock()
	for _, c := range channels {
		set, ok := ps.byTopic[c]
		if !ok {
			set = make(map[*subscription]struct{})
			ps.byTopic[c] = set
		}
		set[sub] = struct{}{}
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.mu.Lock()
			defer ps.mu.Unlock()
			for _, c := range channels {
				delete(ps.byTopic[c], sub)
				if len(ps.byTopic[c]) == 0 {
					delete(ps.byTopic, c)
				}
			}
			sub.closed = true
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}
