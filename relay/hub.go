// Package relay fans task events out to the push channel of each owner.
package relay

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DefaultBuffer is the number of frames a channel holds before dropping.
const DefaultBuffer = 64

// Broadcaster delivers a frame to the channel registered for owner. A
// missing channel is not an error: delivery is best effort.
type Broadcaster interface {
	Broadcast(ctx context.Context, owner string, f Frame) error
}

// Channel is the outgoing side of one subscription.
type Channel struct {
	owner  string
	frames chan Frame
}

// Owner returns the owner the channel was registered for.
func (c *Channel) Owner() string { return c.owner }

// Frames yields frames in publish order.
func (c *Channel) Frames() <-chan Frame { return c.frames }

// Hub keeps at most one channel per owner. A new subscription replaces the
// previous one for the same owner; the replaced channel simply stops
// receiving frames.
type Hub struct {
	buffer int

	mu    sync.Mutex
	chans map[string]*Channel
}

// NewHub creates a Hub whose channels buffer up to buffer frames.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, chans: make(map[string]*Channel)}
}

// Subscribe registers a new channel for owner.
func (h *Hub) Subscribe(owner string) *Channel {
	ch := &Channel{owner: owner, frames: make(chan Frame, h.buffer)}
	h.mu.Lock()
	_, replaced := h.chans[owner]
	h.chans[owner] = ch
	h.mu.Unlock()
	if replaced {
		log.WithField("owner", owner).Debug("subscription replaced")
	}
	return ch
}

// Unsubscribe removes ch if it is still the registered channel of its owner.
func (h *Hub) Unsubscribe(ch *Channel) {
	h.mu.Lock()
	if cur, ok := h.chans[ch.owner]; ok && cur == ch {
		delete(h.chans, ch.owner)
	}
	h.mu.Unlock()
}

// Send queues f on the owner's channel and reports whether it was queued.
func (h *Hub) Send(owner string, f Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.chans[owner]
	if !ok {
		return false
	}
	select {
	case ch.frames <- f:
		return true
	default:
		log.WithFields(log.Fields{"owner": owner, "event": f.Event}).Warn("subscriber buffer full, dropping frame")
		return false
	}
}

// Broadcast implements Broadcaster for in-process delivery.
func (h *Hub) Broadcast(_ context.Context, owner string, f Frame) error {
	h.Send(owner, f)
	return nil
}

// Subscribed reports whether owner has a registered channel.
func (h *Hub) Subscribed(owner string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.chans[owner]
	return ok
}

// Len returns the number of registered owners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chans)
}
