// Package events fans registry activity out to in-process subscribers such
// as websocket clients.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeOutputRegistered   = "registry.output_registered"
	TypeOutputUnregistered = "registry.output_unregistered"
	TypeServiceAdded       = "registry.service_added"
	TypeServiceRemoved     = "registry.service_removed"
)

const defaultBuffer = 16

// Event is what subscribers receive. Seq increases by one per broadcast, so
// a subscriber can tell how many events it missed.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Subscription is one subscriber's view of a Broadcaster.
type Subscription struct {
	// C delivers the events. It is closed by Close or by closing the
	// broadcaster.
	C <-chan Event

	ch      chan Event
	b       *Broadcaster
	dropped atomic.Int64
}

// Dropped returns how many events this subscriber missed on a full buffer.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close ends the subscription. It is idempotent.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.subs[s]; ok {
		delete(s.b.subs, s)
		close(s.ch)
	}
}

// Broadcaster delivers each event to every subscription without blocking:
// a subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	seq     atomic.Uint64
	dropped atomic.Int64
}

// NewBroadcaster creates an open broadcaster without subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe opens a subscription buffering up to buffer events. On a closed
// broadcaster the subscription starts closed.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
	} else {
		b.subs[s] = struct{}{}
	}
	return s
}

// Subscribers returns the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped, all subscribers together.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// Broadcast stamps ev with the next sequence number, and with the current
// time when it has none, then offers it to every subscription.
func (b *Broadcaster) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	// Subscriptions only close under the write lock, never mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	ev.Seq = b.seq.Add(1)
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Close ends every subscription. Later broadcasts are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	clear(b.subs)
}
