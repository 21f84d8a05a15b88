// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/chatsync/internal/models"
)

// mockStreamServer simulates the chat websocket endpoint.
type mockStreamServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	connChan chan *websocket.Conn

	mu     sync.Mutex
	tokens []string
}

func newMockStreamServer() *mockStreamServer {
	mock := &mockStreamServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		connChan: make(chan *websocket.Conn, 8),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		mock.mu.Lock()
		mock.tokens = append(mock.tokens, token)
		mock.mu.Unlock()

		conn, err := mock.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mock.connChan <- conn
	}))

	return mock
}

func (m *mockStreamServer) url() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/ws"
}

func (m *mockStreamServer) close() {
	m.server.Close()
}

func (m *mockStreamServer) seenTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

// waitConn waits for the next client connection to arrive.
func (m *mockStreamServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-m.connChan:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func testConfig(url string) Config {
	return Config{
		URL:                  url,
		HandshakeTimeout:     time.Second,
		ReconnectInterval:    20 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

// startManager runs Serve in the background and returns a stop function.
func startManager(t *testing.T, m *Manager) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not stop after cancel")
		}
	})
	return cancel
}

func TestBuildStreamURL(t *testing.T) {
	tests := []struct {
		endpoint string
		wantPfx  string
	}{
		{"http://chat.example.com/ws", "ws://chat.example.com/ws?"},
		{"https://chat.example.com/ws", "wss://chat.example.com/ws?"},
		{"ws://chat.example.com/ws", "ws://chat.example.com/ws?"},
		{"wss://chat.example.com/ws", "wss://chat.example.com/ws?"},
	}

	for _, tt := range tests {
		got, err := buildStreamURL(tt.endpoint, "tok", "dev-1")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got, tt.wantPfx), "got %q", got)
		assert.Contains(t, got, "token=tok")
		assert.Contains(t, got, "device_id=dev-1")
	}

	_, err := buildStreamURL("ftp://nope", "tok", "dev-1")
	require.Error(t, err)
}

func TestConnectWithoutTokenStaysDisconnected(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	m := NewManager(testConfig(mock.url()), func() string { return "" })
	startManager(t, m)

	m.Connect()

	// Give the loop time to (wrongly) dial if it were going to.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, mock.seenTokens())
}

func TestConnectEstablishesConnection(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	m := NewManager(testConfig(mock.url()), func() string { return "tok-1" })
	startManager(t, m)

	m.Connect()
	mock.waitConn(t)

	assert.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tok-1"}, mock.seenTokens())
	assert.Equal(t, 0, m.Attempts())
}

func TestInboundFramesDispatchedInOrder(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	var mu sync.Mutex
	var got []models.Frame

	m := NewManager(testConfig(mock.url()), func() string { return "tok" })
	m.OnFrame(func(f models.Frame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})
	startManager(t, m)
	m.Connect()

	conn := mock.waitConn(t)
	frames := []models.Frame{
		{Type: models.FrameNewMessage, RoomID: "room-1", Message: &models.Message{ID: "m1", Content: "a"}},
		{Type: models.FrameTyping, RoomID: "room-1", SenderID: "user-2"},
		{Type: models.FrameRead, RoomID: "room-1"},
	}
	for _, f := range frames {
		require.NoError(t, conn.WriteJSON(f))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.FrameNewMessage, got[0].Type)
	assert.Equal(t, "m1", got[0].Message.ID)
	assert.Equal(t, models.FrameTyping, got[1].Type)
	assert.Equal(t, models.FrameRead, got[2].Type)
}

func TestMalformedFrameDoesNotKillPipeline(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	var mu sync.Mutex
	var got []models.Frame

	m := NewManager(testConfig(mock.url()), func() string { return "tok" })
	m.OnFrame(func(f models.Frame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})
	startManager(t, m)
	m.Connect()

	conn := mock.waitConn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(models.Frame{Type: models.FrameTyping, RoomID: "r", SenderID: "u"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Type == models.FrameTyping
	}, time.Second, 5*time.Millisecond)
	assert.True(t, m.IsConnected())
}

func TestSendRequiresConnection(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	m := NewManager(testConfig(mock.url()), func() string { return "tok" })
	assert.False(t, m.Send(models.TypingFrame("room-1")), "send while disconnected must fail silently")
}

func TestSendDeliversFrame(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	m := NewManager(testConfig(mock.url()), func() string { return "tok" })
	startManager(t, m)
	m.Connect()
	conn := mock.waitConn(t)

	require.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)
	require.True(t, m.Send(models.ReadFrame("room-1")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame models.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, models.FrameRead, frame.Type)
	assert.Equal(t, "room-1", frame.RoomID)
}

func TestAbnormalCloseTriggersReconnect(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	m := NewManager(testConfig(mock.url()), func() string { return "tok" })
	startManager(t, m)
	m.Connect()

	first := mock.waitConn(t)
	require.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)

	// Drop the connection without a close handshake.
	require.NoError(t, first.Close())

	second := mock.waitConn(t)
	require.NotNil(t, second)
	assert.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.Attempts(), "attempt counter must reset on success")
}

func TestReconnectTokenRefreshHonored(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	var mu sync.Mutex
	token := "first"

	m := NewManager(testConfig(mock.url()), func() string {
		mu.Lock()
		defer mu.Unlock()
		return token
	})
	startManager(t, m)
	m.Connect()

	first := mock.waitConn(t)
	require.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)

	mu.Lock()
	token = "second"
	mu.Unlock()
	require.NoError(t, first.Close())
	mock.waitConn(t)

	assert.Eventually(t, func() bool {
		seen := mock.seenTokens()
		return len(seen) >= 2 && seen[len(seen)-1] == "second"
	}, time.Second, 5*time.Millisecond)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	mock := newMockStreamServer()
	url := mock.url()
	mock.close() // nothing is listening

	cfg := testConfig(url)
	m := NewManager(cfg, func() string { return "tok" })
	startManager(t, m)
	m.Connect()

	assert.Eventually(t, func() bool {
		return m.State() == StateDisconnected && m.Attempts() == cfg.MaxReconnectAttempts
	}, 3*time.Second, 10*time.Millisecond,
		"transport must give up after the attempt budget is spent")

	// And stay down: no self-recovery without a manual reconnect.
	time.Sleep(5 * cfg.ReconnectInterval)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, cfg.MaxReconnectAttempts, m.Attempts())
}

func TestManualReconnectResetsBudget(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	// Point at a dead port first by connecting before any server responds:
	// simulate budget exhaustion against a refusing endpoint.
	dead := newMockStreamServer()
	deadURL := dead.url()
	dead.close()

	cfg := testConfig(deadURL)
	m := NewManager(cfg, func() string { return "tok" })
	startManager(t, m)
	m.Connect()

	require.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, cfg.MaxReconnectAttempts, m.Attempts())

	m.Reconnect()
	assert.Equal(t, 0, m.Attempts())
}

func TestIntentionalDisconnectSuppressesReconnect(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	m := NewManager(testConfig(mock.url()), func() string { return "tok" })
	startManager(t, m)
	m.Connect()
	mock.waitConn(t)
	require.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)

	m.Disconnect(true)

	assert.Eventually(t, func() bool {
		return m.State() == StateClosed
	}, time.Second, 5*time.Millisecond)

	// No new connection may arrive.
	select {
	case <-mock.connChan:
		t.Fatal("transport reconnected after intentional disconnect")
	case <-time.After(10 * testConfig("").ReconnectInterval):
	}
	assert.False(t, m.IsConnected())
}

func TestOnConnectHookFires(t *testing.T) {
	mock := newMockStreamServer()
	defer mock.close()

	var mu sync.Mutex
	calls := 0

	m := NewManager(testConfig(mock.url()), func() string { return "tok" })
	m.OnConnect(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	startManager(t, m)
	m.Connect()

	first := mock.waitConn(t)
	require.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)
	require.NoError(t, first.Close())
	mock.waitConn(t)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond, "hook must fire on connect and reconnect")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
}
