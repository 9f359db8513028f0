package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// The websocket bridge lets external devices (handheld scanners, dashboard
// browsers) attach to hub channels over a single connection. One inbound
// envelope per verb, one outbound envelope per delivered event.

// ClientEnvelope is what a connected device sends.
type ClientEnvelope struct {
	Action  string          `json:"action"` // subscribe, unsubscribe, publish, track, untrack
	Channel string          `json:"channel"`
	Message *Message        `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ServerEnvelope is what the bridge sends back.
type ServerEnvelope struct {
	Event    string         `json:"event"` // message, presence, status, error
	Channel  string         `json:"channel"`
	Message  *Message       `json:"message,omitempty"`
	Presence *PresenceEvent `json:"presence,omitempty"`
	Status   Status         `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Bridge serves hub channels over websocket connections.
type Bridge struct {
	transport Transport
	upgrader  websocket.Upgrader
	sendBuf   int
}

// NewBridge creates a bridge onto the given transport.
func NewBridge(transport Transport, checkOrigin func(*http.Request) bool) *Bridge {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Bridge{
		transport: transport,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		sendBuf:   64,
	}
}

// ServeConn upgrades the request and runs the connection until the peer
// disconnects. All channel subscriptions opened by the connection are
// released on any exit path.
func (b *Bridge) ServeConn(w http.ResponseWriter, r *http.Request) error {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &bridgeConn{
		bridge: b,
		conn:   conn,
		send:   make(chan ServerEnvelope, b.sendBuf),
		subs:   make(map[string]Subscription),
		done:   make(chan struct{}),
	}
	go c.writePump()
	c.readPump()
	return nil
}

type bridgeConn struct {
	bridge *Bridge
	conn   *websocket.Conn
	send   chan ServerEnvelope
	done   chan struct{}

	mu   sync.Mutex
	subs map[string]Subscription
}

func (c *bridgeConn) readPump() {
	defer c.teardown()
	for {
		var env ClientEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws bridge: read: %v", err)
			}
			return
		}
		c.handle(env)
	}
}

func (c *bridgeConn) handle(env ClientEnvelope) {
	if env.Channel == "" {
		c.reply(ServerEnvelope{Event: "error", Error: "channel is required"})
		return
	}
	switch env.Action {
	case "subscribe":
		c.subscribe(env.Channel)
	case "unsubscribe":
		c.unsubscribe(env.Channel)
	case "publish":
		if env.Message == nil {
			c.reply(ServerEnvelope{Event: "error", Channel: env.Channel, Error: "message is required"})
			return
		}
		if sub := c.lookup(env.Channel); sub != nil {
			if err := sub.Publish(*env.Message); err != nil {
				c.reply(ServerEnvelope{Event: "error", Channel: env.Channel, Error: err.Error()})
			}
			return
		}
		if err := c.bridge.transport.Publish(env.Channel, *env.Message); err != nil {
			c.reply(ServerEnvelope{Event: "error", Channel: env.Channel, Error: err.Error()})
		}
	case "track":
		sub := c.lookup(env.Channel)
		if sub == nil {
			c.reply(ServerEnvelope{Event: "error", Channel: env.Channel, Error: "not subscribed"})
			return
		}
		if err := sub.Track(env.Data); err != nil {
			c.reply(ServerEnvelope{Event: "error", Channel: env.Channel, Error: err.Error()})
		}
	case "untrack":
		sub := c.lookup(env.Channel)
		if sub == nil {
			c.reply(ServerEnvelope{Event: "error", Channel: env.Channel, Error: "not subscribed"})
			return
		}
		if err := sub.Untrack(); err != nil {
			c.reply(ServerEnvelope{Event: "error", Channel: env.Channel, Error: err.Error()})
		}
	default:
		c.reply(ServerEnvelope{Event: "error", Channel: env.Channel, Error: "unknown action"})
	}
}

func (c *bridgeConn) subscribe(channel string) {
	c.mu.Lock()
	if _, exists := c.subs[channel]; exists {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sub, err := c.bridge.transport.Subscribe(channel, SubscribeOptions{
		OnMessage: func(msg Message) {
			c.reply(ServerEnvelope{Event: "message", Channel: channel, Message: &msg})
		},
		OnPresence: func(ev PresenceEvent) {
			c.reply(ServerEnvelope{Event: "presence", Channel: channel, Presence: &ev})
		},
		OnStatus: func(status Status, err error) {
			env := ServerEnvelope{Event: "status", Channel: channel, Status: status}
			if err != nil {
				env.Error = err.Error()
			}
			c.reply(env)
		},
	})
	if err != nil {
		c.reply(ServerEnvelope{Event: "error", Channel: channel, Error: err.Error()})
		return
	}

	c.mu.Lock()
	c.subs[channel] = sub
	c.mu.Unlock()
}

func (c *bridgeConn) unsubscribe(channel string) {
	c.mu.Lock()
	sub := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (c *bridgeConn) lookup(channel string) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[channel]
}

// reply queues an envelope for the write pump, dropping it if the peer is
// too slow to keep up. Mirrors the transport's at-most-once delivery.
func (c *bridgeConn) reply(env ServerEnvelope) {
	select {
	case c.send <- env:
	case <-c.done:
	default:
	}
}

func (c *bridgeConn) writePump() {
	for {
		select {
		case env := <-c.send:
			if err := c.conn.WriteJSON(env); err != nil {
				log.Printf("ws bridge: write: %v", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *bridgeConn) teardown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	close(c.done)
	c.conn.Close()
}
