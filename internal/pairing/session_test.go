package pairing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse-checkin-backend/internal/realtime"
)

const testTimeout = 40 * time.Millisecond

type stateRecorder struct {
	mu     sync.Mutex
	states []State
	flags  []bool
}

func (r *stateRecorder) record(st State, standalone bool) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.flags = append(r.flags, standalone)
	r.mu.Unlock()
}

func (r *stateRecorder) last() (State, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return "", false, false
	}
	return r.states[len(r.states)-1], r.flags[len(r.states)-1], true
}

func (r *stateRecorder) reached(want State, standalone bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, st := range r.states {
		if st == want && r.flags[i] == standalone {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func testParams() Params {
	return Params{ResourceID: "T1", ColumnName: "email", PairingCode: "ABC123"}
}

// trackCounterpart subscribes a dashboard-side member on the pairing channel.
func trackCounterpart(t *testing.T, hub *realtime.Hub, channel string) realtime.Subscription {
	t.Helper()
	sub, err := hub.Subscribe(channel, realtime.SubscribeOptions{})
	require.NoError(t, err)
	require.NoError(t, sub.Track(DevicePresence{
		DeviceType:  DeviceTypeDashboard,
		UserAgent:   "test-dashboard",
		PairingCode: "ABC123",
		Timestamp:   time.Now().UnixMilli(),
	}))
	return sub
}

func TestNewSessionParamValidation(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	tests := []struct {
		name   string
		params Params
	}{
		{"missing resource", Params{ColumnName: "email", PairingCode: "ABC123"}},
		{"missing column", Params{ResourceID: "T1", PairingCode: "ABC123"}},
		{"missing code", Params{ResourceID: "T1", ColumnName: "email"}},
		{"all missing", Params{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.params, Config{Transport: hub})
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
}

func TestNewSessionRequiresTransport(t *testing.T) {
	_, err := NewSession(testParams(), Config{})
	assert.Error(t, err)
}

func TestSessionStandaloneDegradation(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	var rec stateRecorder
	session, err := NewSession(testParams(), Config{
		Transport:      hub,
		ConnectTimeout: testTimeout,
		OnState:        rec.record,
	})
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Establish())
	st, _ := session.State()
	assert.Equal(t, StateConnecting, st)

	waitFor(t, func() bool { return rec.reached(StateConnected, true) },
		"should degrade to standalone after the grace period")
	st, standalone := session.State()
	assert.Equal(t, StateConnected, st)
	assert.True(t, standalone)
}

func TestSessionConnectsWhenCounterpartAlreadyPresent(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	var rec stateRecorder
	session, err := NewSession(testParams(), Config{
		Transport: hub,
		OnState:   rec.record,
	})
	require.NoError(t, err)
	defer session.Close()

	counterpart := trackCounterpart(t, hub, session.Channel())
	defer counterpart.Close()

	require.NoError(t, session.Establish())
	waitFor(t, func() bool { return rec.reached(StateConnected, false) },
		"initial sync should connect the session")
	_, standalone := session.State()
	assert.False(t, standalone)
}

func TestSessionConnectsOnCounterpartJoin(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	var rec stateRecorder
	session, err := NewSession(testParams(), Config{
		Transport:      hub,
		ConnectTimeout: time.Minute,
		OnState:        rec.record,
	})
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Establish())

	counterpart := trackCounterpart(t, hub, session.Channel())
	defer counterpart.Close()

	waitFor(t, func() bool { return rec.reached(StateConnected, false) },
		"counterpart join should connect the session")
}

func TestSessionLateJoinUpgradesStandalone(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	var rec stateRecorder
	session, err := NewSession(testParams(), Config{
		Transport:      hub,
		ConnectTimeout: testTimeout,
		OnState:        rec.record,
	})
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Establish())
	waitFor(t, func() bool { return rec.reached(StateConnected, true) }, "standalone first")

	counterpart := trackCounterpart(t, hub, session.Channel())
	defer counterpart.Close()

	waitFor(t, func() bool {
		st, standalone := session.State()
		return st == StateConnected && !standalone
	}, "late join should upgrade standalone to paired")
}

func TestSessionDisconnectsOnCounterpartLeave(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	var rec stateRecorder
	session, err := NewSession(testParams(), Config{
		Transport: hub,
		OnState:   rec.record,
	})
	require.NoError(t, err)
	defer session.Close()

	counterpart := trackCounterpart(t, hub, session.Channel())
	require.NoError(t, session.Establish())
	waitFor(t, func() bool { return rec.reached(StateConnected, false) }, "paired")

	counterpart.Close()
	waitFor(t, func() bool {
		st, _ := session.State()
		return st == StateDisconnected
	}, "counterpart leave should disconnect the session")

	// Disconnected is terminal for this cycle: publishing fails until a
	// fresh Establish.
	msg, err := realtime.NewMessage(realtime.MessageBarcodeScanned, map[string]string{"barcode": "b"})
	require.NoError(t, err)
	assert.ErrorIs(t, session.Publish(msg), ErrNotConnected)

	require.NoError(t, session.Establish())
	st, _ := session.State()
	assert.Equal(t, StateConnecting, st)
}

func TestSessionPublishRequiresConnected(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	session, err := NewSession(testParams(), Config{
		Transport:      hub,
		ConnectTimeout: time.Minute,
	})
	require.NoError(t, err)
	defer session.Close()

	msg, err := realtime.NewMessage(realtime.MessageBarcodeScanned, map[string]string{"barcode": "b"})
	require.NoError(t, err)

	// Never established.
	assert.ErrorIs(t, session.Publish(msg), ErrNotConnected)

	// Connecting is not enough either.
	require.NoError(t, session.Establish())
	assert.ErrorIs(t, session.Publish(msg), ErrNotConnected)
}

func TestSessionPublishReachesCounterpart(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	received := make(chan realtime.Message, 1)
	counterpart, err := hub.Subscribe(realtime.PairingChannel("T1", "ABC123"), realtime.SubscribeOptions{
		OnMessage: func(msg realtime.Message) {
			select {
			case received <- msg:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer counterpart.Close()
	require.NoError(t, counterpart.Track(DevicePresence{DeviceType: DeviceTypeDashboard}))

	session, err := NewSession(testParams(), Config{Transport: hub})
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Establish())

	waitFor(t, func() bool {
		st, _ := session.State()
		return st == StateConnected
	}, "paired")

	msg, err := realtime.NewMessage(realtime.MessageBarcodeScanned, map[string]string{"barcode": "jane"})
	require.NoError(t, err)
	require.NoError(t, session.Publish(msg))

	select {
	case got := <-received:
		assert.Equal(t, realtime.MessageBarcodeScanned, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("counterpart never received the broadcast")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	var rec stateRecorder
	session, err := NewSession(testParams(), Config{
		Transport:      hub,
		ConnectTimeout: time.Minute,
		OnState:        rec.record,
	})
	require.NoError(t, err)

	require.NoError(t, session.Establish())
	session.Close()
	session.Close()

	st, standalone := session.State()
	assert.Equal(t, StateDisconnected, st)
	assert.False(t, standalone)

	last, _, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, StateDisconnected, last)
}

func TestSessionReestablishReplacesSubscription(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	session, err := NewSession(testParams(), Config{
		Transport:      hub,
		ConnectTimeout: time.Minute,
	})
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Establish())
	require.NoError(t, session.Establish())

	counterpart := trackCounterpart(t, hub, session.Channel())
	defer counterpart.Close()

	waitFor(t, func() bool {
		st, _ := session.State()
		return st == StateConnected
	}, "second cycle should still pair")
}
