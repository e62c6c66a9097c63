package pgo

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mockToken is an always-completed mqtt.Token.
type mockToken struct {
	err error
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Error() error                   { return t.err }

func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishedMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// mockClient implements mqtt.Client in memory.
type mockClient struct {
	mu             sync.RWMutex
	connected      bool
	publishError   error
	subscribeError error
	handlers       map[string]mqtt.MessageHandler
	subscribedQoS  map[string]byte
	published      []publishedMessage
}

func newMockClient() *mockClient {
	return &mockClient{
		handlers:      make(map[string]mqtt.MessageHandler),
		subscribedQoS: make(map[string]byte),
	}
}

func (c *mockClient) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *mockClient) setPublishError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishError = err
}

func (c *mockClient) setSubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeError = err
}

func (c *mockClient) messages() []publishedMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]publishedMessage, len(c.published))
	copy(out, c.published)
	return out
}

func (c *mockClient) topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		out = append(out, t)
	}
	return out
}

// deliver invokes the handler subscribed to topic, if any.
func (c *mockClient) deliver(topic string, payload []byte) bool {
	c.mu.RLock()
	handler, ok := c.handlers[topic]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	handler(c, &mockMessage{topic: topic, payload: payload})
	return true
}

func (c *mockClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *mockClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *mockClient) Connect() mqtt.Token {
	c.setConnected(true)
	return &mockToken{}
}

func (c *mockClient) Disconnect(quiesce uint) { c.setConnected(false) }

func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return &mockToken{err: mqtt.ErrNotConnected}
	}
	if c.publishError != nil {
		return &mockToken{err: c.publishError}
	}
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	}
	c.published = append(c.published, publishedMessage{Topic: topic, Payload: data, QoS: qos, Retain: retained})
	return &mockToken{}
}

func (c *mockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return &mockToken{err: mqtt.ErrNotConnected}
	}
	if c.subscribeError != nil {
		return &mockToken{err: c.subscribeError}
	}
	c.handlers[topic] = callback
	c.subscribedQoS[topic] = qos
	return &mockToken{}
}

func (c *mockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		if tok := c.Subscribe(topic, qos, callback); tok.Error() != nil {
			return tok
		}
	}
	return &mockToken{}
}

func (c *mockClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &mockToken{}
}

func (c *mockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
}

func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// mockMessage implements mqtt.Message
type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}
