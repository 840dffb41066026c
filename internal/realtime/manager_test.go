package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testManager sets up a Manager behind a test HTTP server. The dial helper
// connects a client, reads the welcome envelope, and returns the connection
// together with its minted identity.
func testManager(t *testing.T) (*Manager, func(channel string) (*ws.Conn, uuid.UUID)) {
	t.Helper()

	manager := NewManager(clockwork.NewRealClock(), Options{})
	t.Cleanup(func() { manager.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		if _, err := manager.Accept(conn, r.RemoteAddr, r.URL.Query().Get("channel")); err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}

		go func() {
			defer manager.Disconnect(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}))
	t.Cleanup(func() { server.Close() })

	dial := func(channel string) (*ws.Conn, uuid.UUID) {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?channel=" + channel
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		welcome := readEnvelope(t, conn)
		require.Equal(t, "connection_established", welcome["type"])
		id := uuid.MustParse(welcome["connection_id"].(string))
		return conn, id
	}

	return manager, dial
}

func readEnvelope(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(msg, &result))
	return result
}

func waitForConnectionCount(m *Manager, expected int) bool {
	for range 100 {
		if stats, err := m.Stats(); err == nil && stats.ConnectionCount == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestManager_AcceptSendsWelcome(t *testing.T) {
	manager, dial := testManager(t)

	_, id := dial("updates")
	require.True(t, waitForConnectionCount(manager, 1))

	stats, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ConnectionCount)
	assert.Equal(t, 1, stats.ChannelSubscribers["updates"])
	assert.Equal(t, []string{"updates"}, stats.ConnectionChannels[id])
}

func TestManager_BroadcastEnrichesEnvelope(t *testing.T) {
	manager, dial := testManager(t)

	conn, _ := dial("updates")
	require.True(t, waitForConnectionCount(manager, 1))

	report, err := manager.Broadcast("updates", Payload{"type": "workflow_update", "data": "x"}, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Empty(t, report.Failed)

	msg := readEnvelope(t, conn)
	assert.Equal(t, "workflow_update", msg["type"])
	assert.Equal(t, "updates", msg["channel"])

	ts, ok := msg["timestamp"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestManager_BroadcastExcludesSender(t *testing.T) {
	manager, dial := testManager(t)

	sender, senderID := dial("room")
	receiver, _ := dial("room")
	require.True(t, waitForConnectionCount(manager, 2))

	report, err := manager.Broadcast("room", Payload{"type": "chat"}, senderID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)

	msg := readEnvelope(t, receiver)
	assert.Equal(t, "chat", msg["type"])

	sender.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = sender.ReadMessage()
	assert.Error(t, err, "excluded sender should not receive the broadcast")
}

func TestManager_BroadcastEmptyChannel(t *testing.T) {
	manager, _ := testManager(t)

	report, err := manager.Broadcast("nobody-here", Payload{"type": "x"}, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)
	assert.Empty(t, report.Failed)
}

func TestManager_SubscribeIsIdempotent(t *testing.T) {
	manager, dial := testManager(t)

	_, id := dial("")
	require.True(t, waitForConnectionCount(manager, 1))

	manager.Subscribe(id, "events")
	manager.Subscribe(id, "events")
	manager.Subscribe(id, "events")

	stats, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChannelSubscribers["events"])
	assert.Equal(t, []string{"events"}, stats.ConnectionChannels[id])
}

func TestManager_SubscribeUnknownConnectionIsNoOp(t *testing.T) {
	manager, _ := testManager(t)

	manager.Subscribe(uuid.New(), "events")

	stats, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ChannelCount, "no channel entry for an unknown identity")
}

func TestManager_UnsubscribeRemovesEmptyChannel(t *testing.T) {
	manager, dial := testManager(t)

	_, id1 := dial("shared")
	_, id2 := dial("shared")
	require.True(t, waitForConnectionCount(manager, 2))

	manager.Unsubscribe(id1, "shared")
	stats, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChannelCount, "channel survives while a subscriber remains")

	manager.Unsubscribe(id2, "shared")
	stats, err = manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ChannelCount, "empty channel is removed eagerly")

	// Repeating is harmless
	manager.Unsubscribe(id2, "shared")
	assert.Equal(t, []uuid.UUID(nil), manager.SubscribersOf("shared"))
}

func TestManager_SendDeliversToSingleConnection(t *testing.T) {
	manager, dial := testManager(t)

	conn1, id1 := dial("room")
	conn2, _ := dial("room")
	require.True(t, waitForConnectionCount(manager, 2))

	require.True(t, manager.Send(id1, Payload{"type": "pong"}))

	msg := readEnvelope(t, conn1)
	assert.Equal(t, "pong", msg["type"])
	assert.NotEmpty(t, msg["timestamp"])

	conn2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn2.ReadMessage()
	assert.Error(t, err, "other subscribers should not receive a targeted send")
}

func TestManager_SendEchoesCallerTimestamp(t *testing.T) {
	manager, dial := testManager(t)

	conn, id := dial("")
	require.True(t, waitForConnectionCount(manager, 1))

	require.True(t, manager.Send(id, Payload{"type": "pong", "timestamp": "client-opaque-value"}))

	msg := readEnvelope(t, conn)
	assert.Equal(t, "client-opaque-value", msg["timestamp"])
}

func TestManager_SendUnknownConnection(t *testing.T) {
	manager, _ := testManager(t)

	assert.False(t, manager.Send(uuid.New(), Payload{"type": "pong"}))
}

func TestManager_EvictCleansUpSubscriptions(t *testing.T) {
	manager, dial := testManager(t)

	_, id := dial("a")
	require.True(t, waitForConnectionCount(manager, 1))
	manager.Subscribe(id, "b")
	manager.Subscribe(id, "c")

	manager.Evict(id)
	require.True(t, waitForConnectionCount(manager, 0))

	stats, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ChannelCount, "all channels emptied and removed")
	assert.Empty(t, stats.ConnectionChannels)

	// Evicting again is a no-op
	manager.Evict(id)
	assert.True(t, waitForConnectionCount(manager, 0))
}

func TestManager_DisconnectOnClientClose(t *testing.T) {
	manager, dial := testManager(t)

	conn, _ := dial("room")
	require.True(t, waitForConnectionCount(manager, 1))

	conn.Close()
	require.True(t, waitForConnectionCount(manager, 0))

	stats, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ChannelCount)
}

func TestManager_SetPrincipal(t *testing.T) {
	manager, dial := testManager(t)

	_, id := dial("")
	require.True(t, waitForConnectionCount(manager, 1))

	manager.SetPrincipal(id, "user-42")
	// Unknown identity is ignored without side effects
	manager.SetPrincipal(uuid.New(), "ghost")

	stats, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ConnectionCount)
}

func TestManager_StatsSnapshot(t *testing.T) {
	manager, dial := testManager(t)

	_, id1 := dial("alpha")
	_, id2 := dial("alpha")
	require.True(t, waitForConnectionCount(manager, 2))
	manager.Subscribe(id2, "beta")

	stats, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ConnectionCount)
	assert.Equal(t, 2, stats.ChannelCount)
	assert.Equal(t, 2, stats.ChannelSubscribers["alpha"])
	assert.Equal(t, 1, stats.ChannelSubscribers["beta"])
	assert.ElementsMatch(t, []string{"alpha"}, stats.ConnectionChannels[id1])
	assert.ElementsMatch(t, []string{"alpha", "beta"}, stats.ConnectionChannels[id2])

	// The snapshot is a copy; mutating it must not touch manager state
	stats.ChannelSubscribers["alpha"] = 99
	fresh, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.ChannelSubscribers["alpha"])
}

func TestManager_SubscribersOfReturnsCopy(t *testing.T) {
	manager, dial := testManager(t)

	_, id := dial("room")
	require.True(t, waitForConnectionCount(manager, 1))

	subs := manager.SubscribersOf("room")
	require.Equal(t, []uuid.UUID{id}, subs)

	assert.Nil(t, manager.SubscribersOf("missing"))
}

func TestManager_StopSendsCloseFrames(t *testing.T) {
	manager := NewManager(clockwork.NewRealClock(), Options{})

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _ = manager.Accept(conn, r.RemoteAddr, "room")
	}))
	t.Cleanup(func() { server.Close() })

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.True(t, waitForConnectionCount(manager, 1))

	manager.Stop()

	// Drain the welcome message, then expect a close frame
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "expected normal closure, got: %v", err)
			break
		}
	}

	// Operations after Stop fail fast
	_, err = manager.Stats()
	assert.ErrorIs(t, err, ErrManagerStopped)
	_, err = manager.Broadcast("room", Payload{"type": "x"}, uuid.Nil)
	assert.ErrorIs(t, err, ErrManagerStopped)
}

func TestManager_StopIdempotent(t *testing.T) {
	manager := NewManager(clockwork.NewRealClock(), Options{})

	manager.Stop()
	manager.Stop()
	manager.Stop()
}

func TestManager_SlowClientIsEvicted(t *testing.T) {
	manager := NewManager(clockwork.NewRealClock(), Options{SendBufferSize: 1})
	t.Cleanup(func() { manager.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _ = manager.Accept(conn, r.RemoteAddr, "firehose")
	}))
	t.Cleanup(func() { server.Close() })

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.True(t, waitForConnectionCount(manager, 1))

	// The client never reads. Large frames fill the socket and the send
	// buffer, so broadcasts start reporting the connection as failed.
	filler := strings.Repeat("x", 1<<16)
	evicted := false
	for range 200 {
		report, err := manager.Broadcast("firehose", Payload{"type": "tick", "data": filler}, uuid.Nil)
		require.NoError(t, err)
		if len(report.Failed) > 0 {
			evicted = true
			break
		}
	}
	require.True(t, evicted, "slow client should eventually fail delivery")
	require.True(t, waitForConnectionCount(manager, 0))
}
