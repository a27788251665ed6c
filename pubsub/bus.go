// Package pubsub provides the in-process publish/subscribe bus over
// which the detection core emits events, threats, alerts and incidents
// to external observers. Delivery is synchronous best-effort fan-out;
// missed messages are not persisted.
package pubsub

import (
	"sync"

	"go.uber.org/zap"

	"sentinel/util/goroutine"
)

// Well-known topics. Every event is additionally published under its
// own event type as the topic name.
const (
	TopicEvent    = "event"
	TopicThreat   = "threat"
	TopicAlert    = "alert"
	TopicIncident = "incident"
)

// Handler receives published payloads. Handlers run synchronously on
// the publisher's goroutine and must not block.
type Handler func(topic string, payload interface{})

// Bus is a topic-keyed registry of subscriber callbacks.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
	logger *zap.SugaredLogger
}

// Subscription is the handle returned by Subscribe; Unsubscribe removes
// the handler and is safe to call more than once.
type Subscription struct {
	bus   *Bus
	topic string
	id    uint64
	once  sync.Once
}

// NewBus creates an empty bus.
func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		subs:   make(map[string]map[uint64]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = h
	return &Subscription{bus: b, topic: topic, id: id}
}

// Unsubscribe removes the subscription's handler from the bus.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if handlers, ok := s.bus.subs[s.topic]; ok {
			delete(handlers, s.id)
			if len(handlers) == 0 {
				delete(s.bus.subs, s.topic)
			}
		}
	})
}

// Publish fans the payload out to every handler subscribed to the
// topic. A panicking handler is logged and does not affect the others.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer goroutine.Recover("pubsub-handler:"+topic, b.logger)
			h(topic, payload)
		}()
	}
}

// SubscriberCount returns how many handlers are registered for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
