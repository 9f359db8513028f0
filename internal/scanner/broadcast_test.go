package scanner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse-checkin-backend/internal/pairing"
	"pulse-checkin-backend/internal/realtime"
)

func pairedSession(t *testing.T, hub *realtime.Hub) (*pairing.Session, realtime.Subscription, chan realtime.Message) {
	t.Helper()

	received := make(chan realtime.Message, 4)
	counterpart, err := hub.Subscribe(realtime.PairingChannel("T1", "ABC123"), realtime.SubscribeOptions{
		OnMessage: func(msg realtime.Message) { received <- msg },
	})
	require.NoError(t, err)
	require.NoError(t, counterpart.Track(pairing.DevicePresence{DeviceType: pairing.DeviceTypeDashboard}))

	session, err := pairing.NewSession(
		pairing.Params{ResourceID: "T1", ColumnName: "email", PairingCode: "ABC123"},
		pairing.Config{Transport: hub},
	)
	require.NoError(t, err)
	require.NoError(t, session.Establish())
	require.Eventually(t, func() bool {
		st, standalone := session.State()
		return st == pairing.StateConnected && !standalone
	}, 2*time.Second, 5*time.Millisecond, "session should pair")

	return session, counterpart, received
}

func TestBroadcastPairedPublishesScan(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	session, counterpart, received := pairedSession(t, hub)
	defer session.Close()
	defer counterpart.Close()

	ring := NewRing(10)
	b := NewBroadcaster(hub, session, ring, nil, 10*time.Millisecond, nil)

	event := ScanEvent{ID: "ev-1", Barcode: "jane@x.com", Timestamp: time.Now().UTC(), Success: true}
	b.Broadcast(context.Background(), event)

	select {
	case msg := <-received:
		require.Equal(t, realtime.MessageBarcodeScanned, msg.Type)
		var payload BarcodeScannedPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, "jane@x.com", payload.Barcode)
		assert.Equal(t, pairing.DeviceTypeMobile, payload.DeviceType)
	case <-time.After(2 * time.Second):
		t.Fatal("paired counterpart never received the scan")
	}

	require.Len(t, ring.Events(), 1)
}

func TestBroadcastStandaloneSkipsPairedChannel(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	// Nobody on the pairing channel: degrade to standalone quickly.
	session, err := pairing.NewSession(
		pairing.Params{ResourceID: "T1", ColumnName: "email", PairingCode: "ABC123"},
		pairing.Config{Transport: hub, ConnectTimeout: 20 * time.Millisecond},
	)
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Establish())
	require.Eventually(t, func() bool {
		st, standalone := session.State()
		return st == pairing.StateConnected && standalone
	}, 2*time.Second, 5*time.Millisecond, "standalone")

	pairedMsgs := make(chan realtime.Message, 4)
	observer, err := hub.Subscribe(session.Channel(), realtime.SubscribeOptions{
		OnMessage: func(msg realtime.Message) { pairedMsgs <- msg },
	})
	require.NoError(t, err)
	defer observer.Close()

	resultMsgs := make(chan realtime.Message, 4)
	results, err := hub.Subscribe(realtime.ResultsChannel("T1", "email"), realtime.SubscribeOptions{
		OnMessage: func(msg realtime.Message) { resultMsgs <- msg },
	})
	require.NoError(t, err)
	defer results.Close()

	b := NewBroadcaster(hub, session, NewRing(10), nil, 10*time.Millisecond, nil)
	b.Broadcast(context.Background(), ScanEvent{ID: "ev-1", Barcode: "b", Timestamp: time.Now().UTC()})

	// The decoupled results fan-out still fires in standalone mode.
	select {
	case msg := <-resultMsgs:
		require.Equal(t, realtime.MessageNewScanResult, msg.Type)
		var payload NewScanResultPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, "T1", payload.ResourceID)
		assert.Equal(t, "email", payload.Column)
	case <-time.After(2 * time.Second):
		t.Fatal("results channel never received the scan")
	}

	// The pairing channel stays quiet.
	select {
	case msg := <-pairedMsgs:
		t.Fatalf("unexpected paired broadcast %q in standalone mode", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastResultsChannelIsReleasedAfterGrace(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	session, counterpart, _ := pairedSession(t, hub)
	defer session.Close()
	defer counterpart.Close()

	resultMsgs := make(chan realtime.Message, 4)
	results, err := hub.Subscribe(realtime.ResultsChannel("T1", "email"), realtime.SubscribeOptions{
		OnMessage: func(msg realtime.Message) { resultMsgs <- msg },
	})
	require.NoError(t, err)
	defer results.Close()

	b := NewBroadcaster(hub, session, NewRing(10), nil, 10*time.Millisecond, nil)
	b.Broadcast(context.Background(), ScanEvent{ID: "ev-1", Barcode: "b", Timestamp: time.Now().UTC()})
	b.Broadcast(context.Background(), ScanEvent{ID: "ev-2", Barcode: "c", Timestamp: time.Now().UTC()})

	// Each broadcast opens its own ephemeral handle, so both arrive even
	// though the first handle is released in between.
	for i := 0; i < 2; i++ {
		select {
		case msg := <-resultMsgs:
			assert.Equal(t, realtime.MessageNewScanResult, msg.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing results broadcast %d", i+1)
		}
	}
}

func TestBroadcastToastOnScanLogFailure(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	session, counterpart, _ := pairedSession(t, hub)
	defer session.Close()
	defer counterpart.Close()

	// A log whose database is closed fails every append.
	scanLog, err := OpenScanLog(t.TempDir()+"/scan.db", 10)
	require.NoError(t, err)
	sqlDB, err := scanLog.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	var toasts []string
	b := NewBroadcaster(hub, session, NewRing(10), scanLog, 10*time.Millisecond, func(msg string) {
		toasts = append(toasts, msg)
	})
	b.Broadcast(context.Background(), ScanEvent{ID: "ev-1", Barcode: "b", Timestamp: time.Now().UTC()})

	require.NotEmpty(t, toasts)
	assert.Equal(t, "scan saved in memory only", toasts[0])
}
