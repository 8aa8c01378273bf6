package events

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/metrics"
	"github.com/hearthd/hearth/pkg/types"
)

const (
	// DefaultQueueCap bounds the forwarder queue. When full, the oldest
	// queued event is evicted to make room for the newest.
	DefaultQueueCap = 256

	// deliverTimeout bounds a single webhook POST.
	deliverTimeout = 3 * time.Second
)

// Forwarder delivers selected event types to one HTTP webhook from a single
// background worker. Delivery is best effort: failures are logged, never
// retried, and never surfaced to publishers.
type Forwarder struct {
	url    string
	types  map[string]bool
	client *http.Client

	bus *Bus // set by NewBus, used to publish drop events

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []types.Event
	cap     int
	stopped bool

	done chan struct{}
}

// NewForwarder creates a forwarder for the given webhook URL and event
// types. Start must be called before events are delivered.
func NewForwarder(url string, forwardTypes []string) *Forwarder {
	f := &Forwarder{
		url:    url,
		types:  make(map[string]bool, len(forwardTypes)),
		client: &http.Client{Timeout: deliverTimeout},
		cap:    DefaultQueueCap,
		done:   make(chan struct{}),
	}
	for _, t := range forwardTypes {
		f.types[t] = true
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// WithQueueCap overrides the queue bound. Only meaningful before Start.
func (f *Forwarder) WithQueueCap(n int) *Forwarder {
	if n > 0 {
		f.cap = n
	}
	return f
}

// Start launches the delivery worker.
func (f *Forwarder) Start() {
	go f.run()
}

// Offer enqueues an event if its type is configured for forwarding. A full
// queue evicts the oldest entry; the eviction is counted and announced as a
// bus.forwarder_dropped event, which itself is never forwarded.
func (f *Forwarder) Offer(ev types.Event) {
	if !f.types[ev.Type] || ev.Type == types.EventForwarderDropped {
		return
	}

	var dropped *types.Event
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	if len(f.queue) >= f.cap {
		old := f.queue[0]
		f.queue = f.queue[1:]
		dropped = &old
	}
	f.queue = append(f.queue, ev)
	f.cond.Signal()
	f.mu.Unlock()

	if dropped != nil {
		metrics.ForwarderDropped.Inc()
		log.WithComponent("forwarder").Warn().
			Str("dropped_type", dropped.Type).
			Uint64("dropped_id", dropped.ID).
			Msg("queue full, evicted oldest event")
		if f.bus != nil {
			f.bus.Publish(types.EventForwarderDropped, "forwarder", map[string]any{
				"dropped_type": dropped.Type,
				"dropped_id":   dropped.ID,
			})
		}
	}
}

// Stop halts the worker. Queued events are abandoned.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.cond.Signal()
	f.mu.Unlock()
	<-f.done
}

func (f *Forwarder) run() {
	defer close(f.done)
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.stopped {
			f.cond.Wait()
		}
		if f.stopped {
			f.mu.Unlock()
			return
		}
		ev := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		f.deliver(ev)
	}
}

func (f *Forwarder) deliver(ev types.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	resp, err := f.client.Post(f.url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.WithComponent("forwarder").Warn().
			Err(err).
			Str("event_type", ev.Type).
			Msg("webhook delivery failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithComponent("forwarder").Warn().
			Int("status", resp.StatusCode).
			Str("event_type", ev.Type).
			Msg("webhook rejected event")
	}
}
