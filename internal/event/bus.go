// Package event provides the pub/sub event bus for agent lifecycle, turn and
// confirmation events, built on watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opencode-ai/agentpool/internal/logging"
)

// StreamTopic is the watermill topic carrying JSON-encoded events for external streams.
const StreamTopic = "agentpool.events"

// Event represents an event to be published.
type Event struct {
	Type    EventType `json:"type"`
	AgentID string    `json:"agentID,omitempty"`
	Time    time.Time `json:"time"`
	Data    any       `json:"data,omitempty"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus delivers events to in-process subscribers with their Go types intact and
// mirrors every event as JSON on a watermill GoChannel for streaming consumers.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

var globalBus = NewBus()

// NewBus creates a new event bus instance.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 128},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]subscriberEntry),
	}
}

// Default returns the process-wide bus.
func Default() *Bus {
	return globalBus
}

// Subscribe registers a subscriber on the global bus.
func Subscribe(eventType EventType, fn Subscriber) func() {
	return globalBus.Subscribe(eventType, fn)
}

// SubscribeAll registers a subscriber for every event on the global bus.
func SubscribeAll(fn Subscriber) func() {
	return globalBus.SubscribeAll(fn)
}

// Publish publishes on the global bus.
func Publish(e Event) {
	globalBus.Publish(e)
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() { b.remove(eventType, id) }
}

// SubscribeAll registers a subscriber for all events.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() { b.remove("", id) }
}

func (b *Bus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.global
	if eventType != "" {
		list = b.subscribers[eventType]
	}
	for i, entry := range list {
		if entry.id == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if eventType != "" {
		b.subscribers[eventType] = list
	} else {
		b.global = list
	}
}

func (b *Bus) collect(eventType EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, false
	}
	subs := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.global))
	for _, entry := range b.subscribers[eventType] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs, true
}

// Publish sends an event to all subscribers asynchronously, each in its own
// goroutine, and forwards it to the stream topic.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	subs, ok := b.collect(e.Type)
	if !ok {
		return
	}
	for _, sub := range subs {
		go sub(e)
	}
	b.forward(e)
}

// PublishSync calls every subscriber in the current goroutine before returning.
func (b *Bus) PublishSync(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	subs, ok := b.collect(e.Type)
	if !ok {
		return
	}
	for _, sub := range subs {
		sub(e)
	}
	b.forward(e)
}

func (b *Bus) forward(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logging.Warn().Err(err).Str("type", string(e.Type)).Msg("event not forwarded: encode failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(e.Type))
	if e.AgentID != "" {
		msg.Metadata.Set("agent", e.AgentID)
	}
	if err := b.pubsub.Publish(StreamTopic, msg); err != nil {
		logging.Debug().Err(err).Msg("event stream publish failed")
	}
}

// Stream subscribes to the JSON event stream. Each value is one encoded Event.
// The channel closes when ctx is done or the bus is closed.
func (b *Bus) Stream(ctx context.Context) (<-chan json.RawMessage, error) {
	msgs, err := b.pubsub.Subscribe(ctx, StreamTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan json.RawMessage, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			payload := json.RawMessage(append([]byte(nil), msg.Payload...))
			msg.Ack()
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
