package main

import (
	"sync"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Event is one message on the render stream
type Event struct {
	Type  string       `json:"type"` // "frame" or "label"
	Frame *Frame       `json:"frame,omitempty"`
	Label *LabelUpdate `json:"label,omitempty"`
}

const subscriberBuffer = 16

// Broadcaster fans controller output out to SSE subscribers. It implements
// Renderer and is safe for concurrent use.
type Broadcaster struct {
	subs    map[string]chan Event
	last    *Frame
	closed  bool
	metrics *Metrics
	mu      sync.RWMutex
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster(m *Metrics) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[string]chan Event),
		metrics: m,
	}
}

// Subscribe returns a channel that receives render events, starting with the
// most recent frame if there is one. The returned function should be called
// to unsubscribe when done.
func (b *Broadcaster) Subscribe() (string, <-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return id, ch, func() {}
	}
	if b.last != nil {
		f := *b.last
		ch <- Event{Type: "frame", Frame: &f}
	}
	b.subs[id] = ch
	n := len(b.subs)
	b.mu.Unlock()

	b.metrics.SetEventSubscribers(n)
	klog.V(1).Infof("[events] subscriber %s connected (%d total)", id, n)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
			b.metrics.SetEventSubscribers(len(b.subs))
		}
		// Channel not found - already closed by Close()
	}
	return id, ch, unsubscribe
}

// Render implements Renderer
func (b *Broadcaster) Render(f Frame) {
	b.mu.Lock()
	b.last = &f
	b.mu.Unlock()
	b.broadcast(Event{Type: "frame", Frame: &f})
}

// ShowLabel implements Renderer
func (b *Broadcaster) ShowLabel(u LabelUpdate) {
	b.mu.Lock()
	if b.last != nil && b.last.Active.Index == u.Index {
		f := *b.last
		f.Label = u.Label
		f.Resolved = u.Resolved
		b.last = &f
	}
	b.mu.Unlock()
	b.broadcast(Event{Type: "label", Label: &u})
}

// Last returns the most recently rendered frame
func (b *Broadcaster) Last() (Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return Frame{}, false
	}
	return *b.last, true
}

// broadcast sends an event to all subscribers (non-blocking)
func (b *Broadcaster) broadcast(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop if channel is full (slow consumer)
			klog.V(2).Infof("[events] dropped %s event for %s", ev.Type, id)
		}
	}
}

// Close closes every subscriber channel
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]chan Event)
	b.closed = true
	b.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	b.metrics.SetEventSubscribers(0)
}
