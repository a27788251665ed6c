package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	var got []interface{}
	bus.Subscribe(TopicAlert, func(topic string, payload interface{}) {
		assert.Equal(t, TopicAlert, topic)
		got = append(got, payload)
	})
	bus.Subscribe(TopicAlert, func(string, interface{}) {
		got = append(got, "second")
	})

	bus.Publish(TopicAlert, "payload")
	assert.Len(t, got, 2)
	assert.Equal(t, 2, bus.SubscriberCount(TopicAlert))
}

func TestPublishNoSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())
	bus.Publish("nobody-listens", 42)
	assert.Zero(t, bus.SubscriberCount("nobody-listens"))
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	calls := 0
	sub := bus.Subscribe(TopicThreat, func(string, interface{}) { calls++ })

	bus.Publish(TopicThreat, nil)
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	bus.Publish(TopicThreat, nil)

	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.SubscriberCount(TopicThreat))
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	delivered := false
	bus.Subscribe(TopicEvent, func(string, interface{}) { panic("boom") })
	bus.Subscribe(TopicEvent, func(string, interface{}) { delivered = true })

	bus.Publish(TopicEvent, nil)
	assert.True(t, delivered)
}

func TestEventTypeTopics(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	var authEvents, allEvents int
	bus.Subscribe("auth:failure", func(string, interface{}) { authEvents++ })
	bus.Subscribe(TopicEvent, func(string, interface{}) { allEvents++ })

	bus.Publish(TopicEvent, "e1")
	bus.Publish("auth:failure", "e1")
	bus.Publish(TopicEvent, "e2")
	bus.Publish("data:access", "e2")

	assert.Equal(t, 1, authEvents)
	assert.Equal(t, 2, allEvents)
}
