package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const defaultSubscriberBuffer = 64

// Hub is the in-process Transport implementation. Channels spring into
// existence on first subscribe and are garbage-collected when the last
// subscriber leaves. Delivery is fan-out over per-subscriber buffered
// queues; a full queue drops the event rather than blocking the publisher,
// which is what gives the transport its at-most-once semantics.
type Hub struct {
	mu       sync.RWMutex
	closed   bool
	buffer   int
	channels map[string]*channel
	dropped  atomic.Int64
}

type channel struct {
	name    string
	subs    map[string]*subscription
	members map[string]PresenceMember
}

// NewHub creates a hub whose subscriptions buffer up to bufferSize pending
// events each. A non-positive bufferSize selects the default.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &Hub{
		buffer:   bufferSize,
		channels: make(map[string]*channel),
	}
}

// Dropped returns the number of events discarded because a subscriber's
// queue was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribe implements Transport.
func (h *Hub) Subscribe(name string, opts SubscribeOptions) (Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrTransportClosed
	}
	ch, ok := h.channels[name]
	if !ok {
		ch = &channel{
			name:    name,
			subs:    make(map[string]*subscription),
			members: make(map[string]PresenceMember),
		}
		h.channels[name] = ch
	}
	sub := &subscription{
		id:      uuid.NewString(),
		hub:     h,
		channel: name,
		opts:    opts,
		queue:   make(chan delivery, h.buffer),
		done:    make(chan struct{}),
	}
	ch.subs[sub.id] = sub
	snapshot := ch.snapshot()
	h.mu.Unlock()

	go sub.pump()
	sub.enqueue(delivery{status: &statusUpdate{status: StatusSubscribed}})
	sub.enqueue(delivery{presence: &PresenceEvent{Type: PresenceSync, Members: snapshot}})
	return sub, nil
}

// Publish implements Transport.
func (h *Hub) Publish(name string, msg Message) error {
	return h.publish(name, msg, "")
}

// PublishChange implements Transport. It fans the notification out to every
// epoch of the resource's change feed, so publishers never need to know a
// subscriber's epoch token.
func (h *Hub) PublishChange(resourceID string, msg Message) error {
	if !msg.Type.Valid() {
		return fmt.Errorf("realtime: unknown message type %q", msg.Type)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrTransportClosed
	}
	for name, ch := range h.channels {
		if !isChangeFeedChannel(name, resourceID) {
			continue
		}
		for _, sub := range ch.subs {
			sub.enqueue(delivery{msg: &msg})
		}
	}
	return nil
}

func (h *Hub) publish(name string, msg Message, excludeID string) error {
	if !msg.Type.Valid() {
		return fmt.Errorf("realtime: unknown message type %q", msg.Type)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrTransportClosed
	}
	ch, ok := h.channels[name]
	if !ok {
		// Fire and forget: nobody listening is not an error.
		return nil
	}
	for id, sub := range ch.subs {
		if id == excludeID {
			continue
		}
		sub.enqueue(delivery{msg: &msg})
	}
	return nil
}

// Close shuts the hub down, releasing every subscription with StatusClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var subs []*subscription
	for _, ch := range h.channels {
		for _, sub := range ch.subs {
			subs = append(subs, sub)
		}
	}
	h.channels = make(map[string]*channel)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown(StatusClosed, nil)
	}
}

// track registers (or replaces) the member payload for sub and notifies the
// channel: an advisory join followed by an authoritative sync snapshot.
func (h *Hub) track(sub *subscription, data json.RawMessage) error {
	h.mu.Lock()
	ch, ok := h.channels[sub.channel]
	if !ok || ch.subs[sub.id] == nil {
		h.mu.Unlock()
		return ErrSubscriptionClosed
	}
	member := PresenceMember{ID: sub.id, Data: data}
	ch.members[sub.id] = member
	sub.tracked = true
	targets, snapshot := ch.fanoutState()
	h.mu.Unlock()

	notifyPresence(targets, PresenceEvent{Type: PresenceJoin, Member: &member})
	notifyPresence(targets, PresenceEvent{Type: PresenceSync, Members: snapshot})
	return nil
}

// untrack withdraws sub's presence member: an advisory leave followed by a
// sync snapshot.
func (h *Hub) untrack(sub *subscription) error {
	h.mu.Lock()
	ch, ok := h.channels[sub.channel]
	if !ok || ch.subs[sub.id] == nil {
		h.mu.Unlock()
		return ErrSubscriptionClosed
	}
	member, wasTracked := ch.members[sub.id]
	delete(ch.members, sub.id)
	sub.tracked = false
	targets, snapshot := ch.fanoutState()
	h.mu.Unlock()

	if wasTracked {
		notifyPresence(targets, PresenceEvent{Type: PresenceLeave, Member: &member})
		notifyPresence(targets, PresenceEvent{Type: PresenceSync, Members: snapshot})
	}
	return nil
}

// release detaches sub from its channel, withdrawing presence and collapsing
// the channel when it empties.
func (h *Hub) release(sub *subscription) {
	h.mu.Lock()
	ch, ok := h.channels[sub.channel]
	if !ok || ch.subs[sub.id] == nil {
		h.mu.Unlock()
		return
	}
	delete(ch.subs, sub.id)
	member, wasTracked := ch.members[sub.id]
	delete(ch.members, sub.id)
	if len(ch.subs) == 0 {
		delete(h.channels, sub.channel)
	}
	targets, snapshot := ch.fanoutState()
	h.mu.Unlock()

	if wasTracked {
		notifyPresence(targets, PresenceEvent{Type: PresenceLeave, Member: &member})
		notifyPresence(targets, PresenceEvent{Type: PresenceSync, Members: snapshot})
	}
}

func (ch *channel) snapshot() []PresenceMember {
	members := make([]PresenceMember, 0, len(ch.members))
	for _, m := range ch.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

func (ch *channel) fanoutState() ([]*subscription, []PresenceMember) {
	targets := make([]*subscription, 0, len(ch.subs))
	for _, s := range ch.subs {
		targets = append(targets, s)
	}
	return targets, ch.snapshot()
}

func notifyPresence(targets []*subscription, ev PresenceEvent) {
	for _, sub := range targets {
		ev := ev
		sub.enqueue(delivery{presence: &ev})
	}
}

type statusUpdate struct {
	status Status
	err    error
}

type delivery struct {
	msg      *Message
	presence *PresenceEvent
	status   *statusUpdate
}

// subscription is the hub-backed Subscription. Callbacks run on the pump
// goroutine, one at a time, in enqueue order.
type subscription struct {
	id      string
	hub     *Hub
	channel string
	opts    SubscribeOptions
	queue   chan delivery
	done    chan struct{}
	once    sync.Once
	tracked bool // guarded by hub.mu
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Publish(msg Message) error {
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}
	return s.hub.publish(s.channel, msg, s.id)
}

func (s *subscription) Track(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("realtime: marshal presence payload: %w", err)
	}
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}
	return s.hub.track(s, raw)
}

func (s *subscription) Untrack() error {
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}
	return s.hub.untrack(s)
}

func (s *subscription) Close() {
	s.hub.release(s)
	s.shutdown(StatusClosed, nil)
}

func (s *subscription) shutdown(status Status, err error) {
	s.once.Do(func() {
		s.enqueue(delivery{status: &statusUpdate{status: status, err: err}})
		close(s.done)
	})
}

func (s *subscription) enqueue(d delivery) {
	select {
	case s.queue <- d:
	default:
		s.hub.dropped.Add(1)
	}
}

func (s *subscription) pump() {
	for {
		select {
		case d := <-s.queue:
			s.dispatch(d)
		case <-s.done:
			// Drain what was enqueued before the close, then stop.
			for {
				select {
				case d := <-s.queue:
					s.dispatch(d)
				default:
					return
				}
			}
		}
	}
}

func (s *subscription) dispatch(d delivery) {
	switch {
	case d.msg != nil:
		if s.opts.OnMessage != nil {
			s.opts.OnMessage(*d.msg)
		}
	case d.presence != nil:
		if s.opts.OnPresence != nil {
			s.opts.OnPresence(*d.presence)
		}
	case d.status != nil:
		if s.opts.OnStatus != nil {
			s.opts.OnStatus(d.status.status, d.status.err)
		}
	}
}
