package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/aegis-mobile/synccore/pkg/logger"
)

// Topic identifies an event stream.
type Topic string

const (
	TopicNetworkChanged Topic = "network.changed"
	TopicSyncStatus     Topic = "sync.status"
	TopicSyncCompleted  Topic = "sync.completed"
	TopicSyncError      Topic = "sync.error"
	TopicQueueEnqueued  Topic = "queue.enqueued"
	TopicQueueProcessed Topic = "queue.processed"
	TopicQueueRetrying  Topic = "queue.retrying"
	TopicQueueFailed    Topic = "queue.failed"
	TopicCacheSet       Topic = "cache.set"
	TopicCacheEvicted   Topic = "cache.evicted"
)

// Event is delivered synchronously to every subscriber of its topic.
type Event struct {
	Topic   Topic
	Payload any
}

// Handler consumes a single event.
type Handler func(Event)

// Bus is a synchronous in-process event distributor. A panicking listener
// is recovered and logged; it never affects other listeners or the emitter.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[int]Handler
	nextID      int
	log         *zap.Logger
}

// NewBus constructs an event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Topic]map[int]Handler),
		log:         logger.WithModule("events"),
	}
}

// Subscribe registers a handler for the topic and returns an unsubscribe function.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subscribers[topic][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[topic], id)
	}
}

// Publish delivers the event to all current subscribers of its topic, in-process.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Topic]))
	for _, h := range b.subscribers[event.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
}

func (b *Bus) deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panicked",
				zap.String("topic", string(event.Topic)),
				zap.Any("panic", r))
		}
	}()
	h(event)
}
