package pairing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pulse-checkin-backend/internal/realtime"
)

// ErrInvalidParameters is returned when any of the required pairing inputs
// is missing. It is terminal: the user must re-acquire pairing, there is no
// automatic retry.
var ErrInvalidParameters = errors.New("pairing: missing required pairing parameters")

// ErrNotConnected is returned when publishing on a session that is not in
// the connected state.
var ErrNotConnected = errors.New("pairing: session is not connected")

// State is the connection state of a pairing session.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// DefaultConnectTimeout is how long a scanner waits for a counterpart before
// degrading to standalone operation.
const DefaultConnectTimeout = 10 * time.Second

// Params are the required entry parameters of a scanning client.
type Params struct {
	ResourceID  string
	ColumnName  string
	PairingCode string
}

// Validate reports ErrInvalidParameters when any field is missing.
func (p Params) Validate() error {
	if p.ResourceID == "" || p.ColumnName == "" || p.PairingCode == "" {
		return ErrInvalidParameters
	}
	return nil
}

// DevicePresence is the payload a device tracks on the pairing channel.
type DevicePresence struct {
	DeviceType  string `json:"deviceType"`
	UserAgent   string `json:"userAgent"`
	PairingCode string `json:"pairingCode"`
	Timestamp   int64  `json:"timestamp"`
}

const (
	DeviceTypeMobile    = "mobile"
	DeviceTypeDashboard = "dashboard"
)

// Config carries the collaborators and knobs of a Session.
type Config struct {
	Transport      realtime.Transport
	UserAgent      string
	ConnectTimeout time.Duration
	// OnState is invoked on every state transition, with the new state and
	// whether the session is standalone (connected without a counterpart).
	OnState func(State, bool)
	// OnMessage receives broadcasts from the paired channel.
	OnMessage func(realtime.Message)
	// OnSubscribeError is invoked when the transport fails to establish or
	// keep the channel. Non-fatal: surfaced as a status badge, the session
	// stays retryable via a fresh Establish.
	OnSubscribeError func(error)
}

// Session is the scanner-side pairing session. At most one is active per
// scanning client; re-establishing always releases the previous subscription
// first (single-owner slot).
type Session struct {
	params  Params
	cfg     Config
	timeout time.Duration

	mu         sync.Mutex
	state      State
	standalone bool
	sub        realtime.Subscription
	graceTimer *time.Timer
	epoch      int
}

// NewSession validates params and builds a session in the disconnected
// state. Establish must be called to connect.
func NewSession(params Params, cfg Config) (*Session, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Transport == nil {
		return nil, errors.New("pairing: transport is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Session{
		params:  params,
		cfg:     cfg,
		timeout: timeout,
		state:   StateDisconnected,
	}, nil
}

// Params returns the session's pairing parameters.
func (s *Session) Params() Params { return s.params }

// State returns the current connection state and whether the session is in
// standalone mode.
func (s *Session) State() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.standalone
}

// Channel returns the derived pairing channel name.
func (s *Session) Channel() string {
	return realtime.PairingChannel(s.params.ResourceID, s.params.PairingCode)
}

// Establish opens a fresh subscription cycle: release any previous handle,
// subscribe, announce presence, and start the standalone grace timer. It can
// be called again after a failure or a disconnect.
func (s *Session) Establish() error {
	s.mu.Lock()
	s.releaseLocked()
	s.state = StateConnecting
	s.standalone = false
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()
	s.notifyState(StateConnecting, false)

	sub, err := s.cfg.Transport.Subscribe(s.Channel(), realtime.SubscribeOptions{
		OnMessage:  s.handleMessage,
		OnPresence: func(ev realtime.PresenceEvent) { s.handlePresence(epoch, ev) },
		OnStatus:   func(st realtime.Status, err error) { s.handleStatus(epoch, st, err) },
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.notifyState(StateDisconnected, false)
		s.reportSubscribeError(err)
		return fmt.Errorf("pairing: subscribe failed: %w", err)
	}

	presence := DevicePresence{
		DeviceType:  DeviceTypeMobile,
		UserAgent:   s.cfg.UserAgent,
		PairingCode: s.params.PairingCode,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := sub.Track(presence); err != nil {
		log.Printf("pairing: presence track failed: %v", err)
		s.reportSubscribeError(err)
	}

	s.mu.Lock()
	s.sub = sub
	s.graceTimer = time.AfterFunc(s.timeout, func() { s.standaloneTimeout(epoch) })
	s.mu.Unlock()
	return nil
}

// Publish broadcasts on the paired channel. Only valid while connected.
func (s *Session) Publish(msg realtime.Message) error {
	s.mu.Lock()
	sub := s.sub
	state := s.state
	s.mu.Unlock()
	if state != StateConnected || sub == nil {
		return ErrNotConnected
	}
	return sub.Publish(msg)
}

// Close tears the session down, releasing the subscription and stopping the
// grace timer. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.releaseLocked()
	changed := s.state != StateDisconnected
	s.state = StateDisconnected
	s.standalone = false
	s.mu.Unlock()
	if changed {
		s.notifyState(StateDisconnected, false)
	}
}

func (s *Session) releaseLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

func (s *Session) handleMessage(msg realtime.Message) {
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}
}

// handlePresence drives the state machine from presence events. A sync or a
// join showing a counterpart connects the session; a counterpart leave
// disconnects it. A join arriving after the standalone timeout still
// upgrades the session to a paired connection.
func (s *Session) handlePresence(epoch int, ev realtime.PresenceEvent) {
	switch ev.Type {
	case realtime.PresenceSync:
		for _, m := range ev.Members {
			if isCounterpart(m) {
				s.transition(epoch, StateConnected, false)
				return
			}
		}
	case realtime.PresenceJoin:
		if ev.Member != nil && isCounterpart(*ev.Member) {
			s.transition(epoch, StateConnected, false)
		}
	case realtime.PresenceLeave:
		if ev.Member != nil && isCounterpart(*ev.Member) {
			s.transition(epoch, StateDisconnected, false)
		}
	}
}

func (s *Session) handleStatus(epoch int, st realtime.Status, err error) {
	switch st {
	case realtime.StatusClosed:
		s.transition(epoch, StateDisconnected, false)
	case realtime.StatusError:
		s.reportSubscribeError(err)
	case realtime.StatusSubscribed:
	}
}

// standaloneTimeout fires when the grace timer expires with no counterpart:
// the scanner degrades to standalone rather than blocking the user.
func (s *Session) standaloneTimeout(epoch int) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.standalone = true
	s.mu.Unlock()
	s.notifyState(StateConnected, true)
}

func (s *Session) transition(epoch int, next State, standalone bool) {
	s.mu.Lock()
	if s.epoch != epoch {
		// Event from a subscription that outlived its owner.
		s.mu.Unlock()
		return
	}
	switch next {
	case StateConnected:
		// Re-entering connected from disconnected requires a fresh
		// subscription cycle, never a silent resume.
		if s.state == StateDisconnected {
			s.mu.Unlock()
			return
		}
	case StateDisconnected:
		if s.state != StateConnected {
			s.mu.Unlock()
			return
		}
		s.releaseLocked()
	}
	if s.state == next && s.standalone == standalone {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.standalone = standalone
	s.mu.Unlock()
	s.notifyState(next, standalone)
}

func (s *Session) notifyState(state State, standalone bool) {
	if s.cfg.OnState != nil {
		s.cfg.OnState(state, standalone)
	}
}

func (s *Session) reportSubscribeError(err error) {
	if s.cfg.OnSubscribeError != nil {
		s.cfg.OnSubscribeError(err)
	}
}

func isCounterpart(m realtime.PresenceMember) bool {
	var p DevicePresence
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return false
	}
	return p.DeviceType != "" && p.DeviceType != DeviceTypeMobile
}
