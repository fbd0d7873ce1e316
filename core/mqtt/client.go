package mqtt

import "context"

// Publisher sends payloads to MQTT topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Handler processes a message received on topic.
type Handler func(topic string, payload []byte)

// Subscriber registers a handler for a topic filter. Wildcards follow MQTT
// rules.
type Subscriber interface {
	Subscribe(filter string, h Handler) error
}
