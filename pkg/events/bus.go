package events

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/metrics"
	"github.com/hearthd/hearth/pkg/types"
)

// DefaultRingSize is how many recent events the bus retains.
const DefaultRingSize = 500

// Handler receives matching events. Delivery is synchronous to the
// publisher: a slow handler slows its publisher, and a panicking handler is
// logged and skipped without affecting other subscribers.
type Handler func(types.Event)

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Bus is the in-process event bus. Subscription patterns are exact type
// strings or a "prefix.*" glob. Event ids are monotonic within the process.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subSeq uint64
	subs   []subscription

	ring     []types.Event
	ringCap  int
	ringNext int
	ringLen  int

	forwarder *Forwarder
}

// Option configures a Bus.
type Option func(*Bus)

// WithRingSize overrides the recent-events buffer size.
func WithRingSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.ringCap = n
		}
	}
}

// WithForwarder attaches an HTTP webhook forwarder.
func WithForwarder(f *Forwarder) Option {
	return func(b *Bus) { b.forwarder = f }
}

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{ringCap: DefaultRingSize}
	for _, opt := range opts {
		opt(b)
	}
	b.ring = make([]types.Event, b.ringCap)
	if b.forwarder != nil {
		b.forwarder.bus = b
	}
	return b
}

// Publish delivers an event to every matching subscriber, in subscription
// order, before returning. In-process delivery always precedes webhook
// forwarding, and forwarder failures never reach the publisher.
func (b *Bus) Publish(eventType, source string, payload map[string]any) types.Event {
	b.mu.Lock()
	b.nextID++
	ev := types.Event{
		ID:        b.nextID,
		Type:      eventType,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.ring[b.ringNext] = ev
	b.ringNext = (b.ringNext + 1) % b.ringCap
	if b.ringLen < b.ringCap {
		b.ringLen++
	}

	// Copy the matching handlers so they run outside the lock.
	matched := make([]subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if patternMatches(sub.pattern, eventType) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(eventType).Inc()
	for _, sub := range matched {
		b.invoke(sub, ev)
	}

	if b.forwarder != nil {
		b.forwarder.Offer(ev)
	}
	return ev
}

func (b *Bus) invoke(sub subscription, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("events").Error().
				Uint64("subscription_id", sub.id).
				Str("event_type", ev.Type).
				Any("panic", r).
				Msg("subscriber panicked, skipping")
		}
	}()
	sub.handler(ev)
}

// Subscribe registers a handler for a pattern and returns the subscription
// id. Handlers for the same event run in subscription order.
func (b *Bus) Subscribe(pattern string, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subSeq++
	b.subs = append(b.subs, subscription{id: b.subSeq, pattern: pattern, handler: handler})
	return b.subSeq
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Recent returns up to limit recent events, newest first, optionally
// filtered by exact type.
func (b *Bus) Recent(eventType string, limit int) []types.Event {
	if limit <= 0 {
		return []types.Event{}
	}

	b.mu.Lock()
	out := make([]types.Event, 0, b.ringLen)
	for i := 0; i < b.ringLen; i++ {
		idx := (b.ringNext - 1 - i + b.ringCap*2) % b.ringCap
		ev := b.ring[idx]
		if eventType != "" && ev.Type != eventType {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Close stops the forwarder worker if one is attached.
func (b *Bus) Close() {
	if b.forwarder != nil {
		b.forwarder.Stop()
	}
}

// patternMatches reports whether pattern covers eventType. Patterns are
// exact strings or "prefix.*".
func patternMatches(pattern, eventType string) bool {
	if pattern == eventType || pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}
