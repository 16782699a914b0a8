// Package mqtttest provides an in-memory paho client for tests.
package mqtttest

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Token struct {
	err  error
	done chan struct{}
}

func NewToken(err error) *Token {
	done := make(chan struct{})
	close(done)
	return &Token{err: err, done: done}
}

func (t *Token) Wait() bool {
	<-t.done
	return true
}

func (t *Token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *Token) Done() <-chan struct{} { return t.done }
func (t *Token) Error() error          { return t.err }

type Message struct {
	TopicName string
	Body      []byte
	Retain    bool
}

func NewMessage(topic, payload string) *Message {
	return &Message{TopicName: topic, Body: []byte(payload)}
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 0 }
func (m *Message) Retained() bool    { return m.Retain }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// Published is one recorded Publish call.
type Published struct {
	Topic    string
	Retained bool
	Payload  string
}

// Client records publications and subscriptions. PublishErr, when set, is
// returned by every Publish token. While Ack is non-nil, publish tokens only
// complete once it is closed, like a broker that is slow to acknowledge.
type Client struct {
	mu            sync.Mutex
	PublishErr    error
	Ack           chan struct{}
	Published     []Published
	Subscriptions map[string]mqtt.MessageHandler
}

func NewClient() *Client {
	return &Client{Subscriptions: map[string]mqtt.MessageHandler{}}
}

func (c *Client) IsConnected() bool      { return true }
func (c *Client) IsConnectionOpen() bool { return true }
func (c *Client) Connect() mqtt.Token    { return NewToken(nil) }
func (c *Client) Disconnect(uint)        {}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	default:
		body = fmt.Sprint(p)
	}
	c.Published = append(c.Published, Published{Topic: topic, Retained: retained, Payload: body})
	if c.Ack != nil {
		return &Token{err: c.PublishErr, done: c.Ack}
	}
	return NewToken(c.PublishErr)
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Subscriptions[topic] = callback
	return NewToken(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return NewToken(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.Subscriptions, topic)
	}
	return NewToken(nil)
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.Subscribe(topic, 0, callback)
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// Deliver invokes the handler subscribed to topic, as the broker would.
func (c *Client) Deliver(topic, payload string) bool {
	c.mu.Lock()
	handler, ok := c.Subscriptions[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	handler(c, NewMessage(topic, payload))
	return true
}

// LastOn returns the last payload published on topic.
func (c *Client) LastOn(topic string) (Published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Published) - 1; i >= 0; i-- {
		if c.Published[i].Topic == topic {
			return c.Published[i], true
		}
	}
	return Published{}, false
}

func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.Published))
	for _, p := range c.Published {
		topics = append(topics, p.Topic)
	}
	return topics
}
