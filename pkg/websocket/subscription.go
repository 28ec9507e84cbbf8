package websocket

import "encoding/json"

// Event types emitted by the client itself. Server frames use any other type.
const (
	EventConnected    = "connected"
	EventReconnecting = "reconnecting"
	EventDisconnect   = "disconnect"
	EventError        = "error"

	// AllTopics subscribes to every event.
	AllTopics = "*"
)

// Event is a decoded frame or a lifecycle notification.
type Event struct {
	Type    string
	Payload json.RawMessage

	// Err is set on "error", and on "reconnecting" and "disconnect" when a
	// failure caused them.
	Err error
}

// Decode unmarshals the payload into out.
func (e Event) Decode(out interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// Handler receives events. It runs on the session goroutine and must not
// block for long.
type Handler func(Event)

// Subscription is returned by Subscribe.
type Subscription struct {
	id      uint64
	topic   string
	handler Handler
	client  *Client
}

// Topic returns the subscribed event type.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe stops delivery. It is idempotent.
func (s *Subscription) Unsubscribe() {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subs {
		if sub.id == s.id {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

// Subscribe registers handler for events of type topic, or every event when
// topic is AllTopics. Subscriptions survive reconnects and sessions.
func (c *Client) Subscribe(topic string, handler Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSub++
	sub := &Subscription{id: c.nextSub, topic: topic, handler: handler, client: c}
	c.subs = append(c.subs, sub)
	return sub
}

func (c *Client) dispatch(e Event) {
	c.mu.Lock()
	targets := make([]Handler, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.topic == AllTopics || sub.topic == e.Type {
			targets = append(targets, sub.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range targets {
		h(e)
	}
}
