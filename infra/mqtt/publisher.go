package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	coremqtt "github.com/kilianp07/shopsched/core/mqtt"
)

// Message is a payload recorded by MockBroker.
type Message struct {
	Topic   string
	Payload []byte
}

// MockBroker is an in-process Publisher and Subscriber used in tests and
// when no broker is configured. Published messages are recorded and
// delivered synchronously to matching subscribers.
type MockBroker struct {
	mu       sync.Mutex
	Messages []Message
	FailAll  bool
	handlers map[string]coremqtt.Handler
}

var (
	_ coremqtt.Publisher  = (*MockBroker)(nil)
	_ coremqtt.Subscriber = (*MockBroker)(nil)
)

// NewMockBroker creates an empty MockBroker.
func NewMockBroker() *MockBroker {
	return &MockBroker{handlers: make(map[string]coremqtt.Handler)}
}

// Publish records the message and hands it to matching subscribers.
func (m *MockBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.FailAll {
		m.mu.Unlock()
		return fmt.Errorf("publish failed")
	}
	m.Messages = append(m.Messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	var targets []coremqtt.Handler
	for f, h := range m.handlers {
		if TopicMatches(f, topic) {
			targets = append(targets, h)
		}
	}
	m.mu.Unlock()
	for _, h := range targets {
		h(topic, payload)
	}
	return nil
}

// Subscribe registers h for filter.
func (m *MockBroker) Subscribe(filter string, h coremqtt.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filter] = h
	return nil
}

// Published returns a copy of the recorded messages.
func (m *MockBroker) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Messages...)
}

// TopicMatches reports whether topic matches an MQTT filter with + and #
// wildcards.
func TopicMatches(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// Subscriptions returns the registered filters.
func (m *MockBroker) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.handlers))
	for f := range m.handlers {
		out = append(out, f)
	}
	return out
}
