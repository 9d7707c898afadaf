package bridge

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return qos }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

// loopbackClient stands in for a broker connection. Publishes are handed to
// onPublish, which plays the companion device.
type loopbackClient struct {
	mu        sync.Mutex
	handler   mqtt.MessageHandler
	filters   []string
	published []message
	onPublish func(c *loopbackClient, topic string, payload []byte)
	subErr    error
}

func (c *loopbackClient) IsConnected() bool      { return true }
func (c *loopbackClient) IsConnectionOpen() bool { return true }
func (c *loopbackClient) Connect() mqtt.Token    { return newToken(nil) }
func (c *loopbackClient) Disconnect(uint)        {}

func (c *loopbackClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	raw, _ := payload.([]byte)
	c.mu.Lock()
	c.published = append(c.published, message{topic: topic, payload: raw})
	respond := c.onPublish
	c.mu.Unlock()
	if respond != nil {
		respond(c, topic, raw)
	}
	return newToken(nil)
}

func (c *loopbackClient) Subscribe(topic string, q byte, cb mqtt.MessageHandler) mqtt.Token {
	return c.SubscribeMultiple(map[string]byte{topic: q}, cb)
}

func (c *loopbackClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	if c.subErr != nil {
		return newToken(c.subErr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = cb
	for f := range filters {
		c.filters = append(c.filters, f)
	}
	return newToken(nil)
}

func (c *loopbackClient) Unsubscribe(...string) mqtt.Token     { return newToken(nil) }
func (c *loopbackClient) AddRoute(string, mqtt.MessageHandler) {}
func (c *loopbackClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// deliver sends a device message to the subscriber.
func (c *loopbackClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(c, message{topic: topic, payload: payload})
	}
}

func (c *loopbackClient) publishedTo(suffix string) []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []message
	for _, m := range c.published {
		if strings.HasSuffix(m.topic, suffix) {
			out = append(out, m)
		}
	}
	return out
}
