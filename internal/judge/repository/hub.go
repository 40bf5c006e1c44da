package repository

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// StatusHub fans live status snapshots out to in-process subscribers.
// A slow subscriber loses its oldest buffered snapshots, never the newest.
type StatusHub struct {
	mu     sync.Mutex
	subs   map[chan LiveStatus]struct{}
	last   LiveStatus
	seen   bool
	closed bool
}

// NewStatusHub creates an empty hub.
func NewStatusHub() *StatusHub {
	return &StatusHub{subs: make(map[chan LiveStatus]struct{})}
}

// SaveLive records the snapshot and offers it to every subscriber.
func (h *StatusHub) SaveLive(ctx context.Context, status LiveStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = status
	h.seen = true
	for ch := range h.subs {
		offer(ch, status)
	}
	return nil
}

// offer sends status, evicting the oldest buffered snapshot when ch is full.
// Only SaveLive sends, under the hub lock, so one eviction always makes room.
func offer(ch chan LiveStatus, status LiveStatus) {
	select {
	case ch <- status:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- status:
	default:
	}
}

// Subscribe returns a channel primed with the latest snapshot and a cancel func.
// The channel is closed by cancel or by Close.
func (h *StatusHub) Subscribe() (<-chan LiveStatus, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan LiveStatus, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.seen {
		ch <- h.last
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Close ends every subscription.
func (h *StatusHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
