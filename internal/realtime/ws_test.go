package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialBridge(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	bridge := NewBridge(hub, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = bridge.ServeConn(w, r)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env ClientEnvelope) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(env))
}

// readUntil reads server envelopes until match returns true, failing the test
// on timeout.
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerEnvelope) bool) ServerEnvelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var env ServerEnvelope
		require.NoError(t, conn.ReadJSON(&env), "expected envelope never arrived")
		if match(env) {
			return env
		}
	}
}

func TestBridgeSubscribeDeliversStatusAndMessages(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	conn := dialBridge(t, hub)
	sendEnvelope(t, conn, ClientEnvelope{Action: "subscribe", Channel: "barcode_scanner_T1_ABC123"})

	readUntil(t, conn, func(env ServerEnvelope) bool {
		return env.Event == "status" && env.Status == StatusSubscribed
	})

	msg, err := NewMessage(MessageBarcodeScanned, map[string]string{"barcode": "jane@x.com"})
	require.NoError(t, err)
	require.NoError(t, hub.Publish("barcode_scanner_T1_ABC123", msg))

	got := readUntil(t, conn, func(env ServerEnvelope) bool { return env.Event == "message" })
	require.NotNil(t, got.Message)
	assert.Equal(t, MessageBarcodeScanned, got.Message.Type)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(got.Message.Payload, &payload))
	assert.Equal(t, "jane@x.com", payload["barcode"])
}

func TestBridgePublishReachesHubSubscribers(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	var rec recorder
	sub, err := hub.Subscribe("ch", rec.options())
	require.NoError(t, err)
	defer sub.Close()

	conn := dialBridge(t, hub)
	msg, err := NewMessage(MessageScanResultAck, map[string]string{"barcode": "b"})
	require.NoError(t, err)
	sendEnvelope(t, conn, ClientEnvelope{Action: "publish", Channel: "ch", Message: &msg})

	eventually(t, func() bool { return rec.messageCount() == 1 }, "hub subscriber should receive")
}

func TestBridgeTrackShowsUpInPresence(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	var rec recorder
	viewer, err := hub.Subscribe("pulse_scanners_T1", rec.options())
	require.NoError(t, err)
	defer viewer.Close()

	conn := dialBridge(t, hub)
	sendEnvelope(t, conn, ClientEnvelope{Action: "subscribe", Channel: "pulse_scanners_T1"})
	sendEnvelope(t, conn, ClientEnvelope{
		Action:  "track",
		Channel: "pulse_scanners_T1",
		Data:    json.RawMessage(`{"device_id":"dev-ws"}`),
	})

	eventually(t, func() bool {
		members, ok := rec.lastSync()
		return ok && len(members) == 1
	}, "tracked member should appear")

	// Closing the socket withdraws presence.
	conn.Close()
	eventually(t, func() bool {
		members, ok := rec.lastSync()
		return ok && len(members) == 0
	}, "presence should be withdrawn on disconnect")
}

func TestBridgeErrorEnvelopes(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	conn := dialBridge(t, hub)

	sendEnvelope(t, conn, ClientEnvelope{Action: "subscribe"})
	env := readUntil(t, conn, func(env ServerEnvelope) bool { return env.Event == "error" })
	assert.Contains(t, env.Error, "channel is required")

	sendEnvelope(t, conn, ClientEnvelope{Action: "warp", Channel: "ch"})
	env = readUntil(t, conn, func(env ServerEnvelope) bool { return env.Event == "error" })
	assert.Contains(t, env.Error, "unknown action")

	sendEnvelope(t, conn, ClientEnvelope{Action: "track", Channel: "never-subscribed"})
	env = readUntil(t, conn, func(env ServerEnvelope) bool { return env.Event == "error" })
	assert.Contains(t, env.Error, "not subscribed")

	sendEnvelope(t, conn, ClientEnvelope{Action: "publish", Channel: "ch"})
	env = readUntil(t, conn, func(env ServerEnvelope) bool { return env.Event == "error" })
	assert.Contains(t, env.Error, "message is required")
}

func TestBridgeUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	conn := dialBridge(t, hub)
	sendEnvelope(t, conn, ClientEnvelope{Action: "subscribe", Channel: "ch"})
	readUntil(t, conn, func(env ServerEnvelope) bool {
		return env.Event == "status" && env.Status == StatusSubscribed
	})

	sendEnvelope(t, conn, ClientEnvelope{Action: "unsubscribe", Channel: "ch"})
	readUntil(t, conn, func(env ServerEnvelope) bool {
		return env.Event == "status" && env.Status == StatusClosed
	})
}
