package sink

import (
	"sync"

	"github.com/maxpert/cqnwatch/cfg"
	"github.com/maxpert/cqnwatch/relay"
)

func init() {
	relay.RegisterSink("mock", func(cfg.SinkConfiguration) (relay.Sink, error) {
		return &MockSink{}, nil
	})
}

// MockSink records published messages in memory
type MockSink struct {
	PublishErr error

	mu       sync.Mutex
	messages []MockMessage
}

type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.messages = append(m.messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

func (m *MockSink) Close() error { return nil }

// Messages returns a copy of everything published so far
func (m *MockSink) Messages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.messages...)
}

func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}
