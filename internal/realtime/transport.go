package realtime

import (
	"encoding/json"
	"errors"
)

// MessageType is the closed set of message kinds carried over the transport.
// Handlers dispatch on it with an exhaustive switch; unknown kinds are dropped
// at the boundary, never forwarded.
type MessageType string

const (
	MessageBarcodeScanned  MessageType = "barcode_scanned"
	MessageScanResultAck   MessageType = "scan_result_ack"
	MessageNewScanResult   MessageType = "new_scan_result"
	MessageCheckInInserted MessageType = "checkin_inserted"
	MessageSessionUpdated  MessageType = "session_updated"
)

// Valid reports whether t is one of the known message kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MessageBarcodeScanned, MessageScanResultAck, MessageNewScanResult,
		MessageCheckInInserted, MessageSessionUpdated:
		return true
	}
	return false
}

// Message is a transient broadcast published on a channel. Delivery is
// best-effort, at-most-once, with no cross-message ordering guarantee.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage marshals payload into a Message of the given kind.
func NewMessage(t MessageType, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: raw}, nil
}

// PresenceEventType distinguishes the snapshot view from the incremental ones.
type PresenceEventType string

const (
	// PresenceSync carries the full membership snapshot. It is the only
	// event a consumer may treat as registry truth.
	PresenceSync PresenceEventType = "sync"
	// PresenceJoin and PresenceLeave are advisory notifications layered on
	// top of the snapshots, for user feedback only.
	PresenceJoin  PresenceEventType = "join"
	PresenceLeave PresenceEventType = "leave"
)

// PresenceMember is one tracked participant on a channel.
type PresenceMember struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// PresenceEvent is delivered to presence handlers. Members is populated for
// sync events, Member for join/leave.
type PresenceEvent struct {
	Type    PresenceEventType `json:"type"`
	Members []PresenceMember  `json:"members,omitempty"`
	Member  *PresenceMember   `json:"member,omitempty"`
}

// Status reports the lifecycle of a subscription.
type Status string

const (
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

var (
	// ErrTransportClosed is returned for operations on a closed transport.
	ErrTransportClosed = errors.New("realtime: transport closed")
	// ErrSubscriptionClosed is returned for operations on a released subscription.
	ErrSubscriptionClosed = errors.New("realtime: subscription closed")
)

// SubscribeOptions carries the callbacks invoked for a subscription. Any of
// them may be nil. Callbacks for one subscription are invoked serially from a
// single goroutine, so handlers can mutate their own state without locking.
type SubscribeOptions struct {
	OnMessage  func(Message)
	OnPresence func(PresenceEvent)
	OnStatus   func(Status, error)
}

// Subscription is an owned handle on a channel. Every acquirer must call
// Close on teardown; handles are not shareable across lifecycle boundaries,
// reconnection always goes through a fresh Subscribe.
type Subscription interface {
	// Channel returns the channel name this subscription is attached to.
	Channel() string
	// Publish broadcasts a message to the channel's other subscribers.
	Publish(msg Message) error
	// Track announces this subscriber as a presence member with the given
	// payload. Re-tracking replaces the previous payload.
	Track(data any) error
	// Untrack withdraws the presence member without closing the subscription.
	Untrack() error
	// Close releases the subscription. Tracked presence is withdrawn.
	// Close is idempotent.
	Close()
}

// Transport is the shared publish/subscribe fabric. Components receive it as
// an explicit dependency at construction; there is no package-level client.
type Transport interface {
	// Subscribe attaches to a named channel and begins delivering events to
	// the given callbacks.
	Subscribe(channel string, opts SubscribeOptions) (Subscription, error)
	// Publish broadcasts to a named channel without holding a subscription.
	// Publishing to a channel with no subscribers is not an error.
	Publish(channel string, msg Message) error
	// PublishChange delivers a change notification to every change-feed
	// subscription for the given resource, regardless of the epoch token in
	// its channel name.
	PublishChange(resourceID string, msg Message) error
}
