// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

/*
manager.go - Streaming Transport Manager

Owns the single websocket connection to the chat server. Reconnection is a
fixed-interval bounded-retry policy, not exponential backoff: the REST layer
is the source of truth for message durability, so the stream is a best-effort
low-latency push channel and there is nothing to gain from backing off.

Connection errors never propagate to callers. The only externally observable
effect of a failure is IsConnected turning false and events no longer
arriving until reconnection succeeds.
*/

// Package transport manages the streaming connection to the chat server.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/chatsync/internal/logging"
	"github.com/tomtom215/chatsync/internal/metrics"
	"github.com/tomtom215/chatsync/internal/models"
)

// State is the transport connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TokenProvider returns the current auth token. It is re-read on every dial
// attempt so a token refresh between attempts is honored. An empty token
// leaves the transport inert.
type TokenProvider func() string

// Config holds transport settings. Zero-value durations fall back to the
// product defaults.
type Config struct {
	// URL is the stream endpoint; http(s) schemes are converted to ws(s).
	URL string

	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration

	// PingInterval is the keepalive cadence; 0 disables pings.
	PingInterval time.Duration

	// ReconnectInterval is the fixed wait between reconnection attempts.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts caps consecutive failed attempts before the
	// transport gives up until a manual Reconnect.
	MaxReconnectAttempts int
}

// applyDefaults fills zero values with the product defaults.
func (c Config) applyDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 3 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	return c
}

// Manager owns the websocket connection and the reconnect state machine.
// The connection handle is never exposed; collaborators interact only
// through Send, OnFrame and the lifecycle methods.
type Manager struct {
	cfg      Config
	token    TokenProvider
	deviceID string

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	attempts int

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	onFrame   func(models.Frame)
	onConnect func()

	// wake signals the Serve loop out of an idle state after Connect,
	// Reconnect or an abnormal Disconnect.
	wake chan struct{}
}

// NewManager creates a transport manager. It does not dial; call Connect
// once a token is available, and run Serve under the supervisor.
func NewManager(cfg Config, token TokenProvider) *Manager {
	m := &Manager{
		cfg:      cfg.applyDefaults(),
		token:    token,
		deviceID: "chatsync-" + uuid.NewString(),
		state:    StateDisconnected,
		wake:     make(chan struct{}, 1),
	}
	metrics.ConnectionState.Set(float64(StateDisconnected))
	return m
}

// OnFrame registers the single inbound frame handler (the event router).
// Frames arriving before registration are dropped.
func (m *Manager) OnFrame(handler func(models.Frame)) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onFrame = handler
}

// OnConnect registers a hook invoked after every successful (re)connect.
// The store uses it to drop stale ephemeral state.
func (m *Manager) OnConnect(hook func()) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onConnect = hook
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the stream is up.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the consecutive failed reconnection attempts so far.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect requests a connection. With an empty token the transport stays
// Disconnected and performs no attempt (chat is inert for anonymous views).
func (m *Manager) Connect() {
	if m.token() == "" {
		logging.Debug().Msg("no auth token, transport stays disconnected")
		return
	}

	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateConnecting)
	m.attempts = 0
	m.mu.Unlock()

	m.wakeup()
}

// Reconnect resets the attempt counter and retries. This is the manual
// escape hatch after the bounded retry policy has given up.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.attempts = 0
	if m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.wakeup()
}

// Disconnect closes the connection. Intentional closure (close code 1000)
// suppresses reconnection; abnormal closure triggers the retry policy.
func (m *Manager) Disconnect(intentional bool) {
	closeCode := websocket.CloseGoingAway
	if intentional {
		closeCode = websocket.CloseNormalClosure
	}
	m.closeConnection(closeCode)

	m.mu.Lock()
	if intentional {
		m.setStateLocked(StateClosed)
	} else if m.state != StateClosed {
		m.setStateLocked(StateReconnecting)
	}
	m.mu.Unlock()

	m.wakeup()
}

// Send marshals and writes an outbound frame. Returns false when the
// connection is not up or the write fails; callers must not treat false as
// a hard error since messages are persisted via REST independently.
func (m *Manager) Send(frame models.Frame) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return false
	}

	data, err := json.Marshal(frame)
	if err != nil {
		logging.Err(err).Str("type", string(frame.Type)).Msg("failed to encode outbound frame")
		return false
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()

	if err != nil {
		logging.Warn().Err(err).Str("type", string(frame.Type)).Msg("stream write failed")
		m.handleStreamFailure()
		return false
	}

	metrics.FramesSent.WithLabelValues(string(frame.Type)).Inc()
	return true
}

// Serve drives the state machine until the context is cancelled. It
// implements suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			m.shutdown()
			return err
		}

		switch m.State() {
		case StateDisconnected, StateClosed:
			// Idle until Connect/Reconnect or shutdown.
			select {
			case <-ctx.Done():
				m.shutdown()
				return ctx.Err()
			case <-m.wake:
			}

		case StateConnecting:
			if err := m.dial(ctx); err != nil {
				logging.Warn().Err(err).Msg("stream connect failed")
				m.transitionAfterFailure()
			}

		case StateReconnecting:
			m.mu.Lock()
			if m.attempts >= m.cfg.MaxReconnectAttempts {
				logging.Warn().
					Int("attempts", m.attempts).
					Msg("reconnect budget exhausted, awaiting manual reconnect")
				m.setStateLocked(StateDisconnected)
				m.mu.Unlock()
				continue
			}
			m.mu.Unlock()

			select {
			case <-ctx.Done():
				m.shutdown()
				return ctx.Err()
			case <-time.After(m.cfg.ReconnectInterval):
			}

			m.mu.Lock()
			if m.state != StateReconnecting {
				// Disconnect(true) or Reconnect() raced the wait.
				m.mu.Unlock()
				continue
			}
			m.attempts++
			attempt := m.attempts
			m.mu.Unlock()

			metrics.ReconnectAttempts.Inc()
			logging.Info().
				Int("attempt", attempt).
				Int("max", m.cfg.MaxReconnectAttempts).
				Msg("reconnecting to stream")

			if err := m.dial(ctx); err != nil {
				logging.Warn().Err(err).Int("attempt", attempt).Msg("stream reconnect failed")
			}

		case StateConnected:
			m.readLoop(ctx)
		}
	}
}

// dial opens the websocket connection. On success the state moves to
// Connected and the attempt counter resets to 0.
func (m *Manager) dial(ctx context.Context) error {
	token := m.token()
	if token == "" {
		m.mu.Lock()
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return fmt.Errorf("no auth token available")
	}

	wsURL, err := buildStreamURL(m.cfg.URL, token, m.deviceID)
	if err != nil {
		return fmt.Errorf("build stream url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  m.cfg.HandshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stream dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("stream dial: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.attempts = 0
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	logging.Info().Msg("stream connected")

	m.handlerMu.RLock()
	hook := m.onConnect
	m.handlerMu.RUnlock()
	if hook != nil {
		hook()
	}

	return nil
}

// readLoop reads frames until the connection drops or the context is
// cancelled. Frames are decoded and handed to the registered handler in
// arrival order; decode failures are logged and dropped, never fatal.
func (m *Manager) readLoop(ctx context.Context) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	// Unblock the read when the context is cancelled mid-connection.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			m.closeConnection(websocket.CloseNormalClosure)
		case <-watchDone:
		}
	}()

	pingStop := make(chan struct{})
	defer close(pingStop)
	if m.cfg.PingInterval > 0 {
		go m.pingLoop(conn, pingStop)
	}

	for {
		if m.cfg.PingInterval > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(2 * m.cfg.PingInterval)); err != nil {
				logging.Debug().Err(err).Msg("failed to set read deadline")
			}
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(ctx, err)
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			metrics.FramesDropped.WithLabelValues("decode_error").Inc()
			logging.Warn().Err(err).Msg("failed to decode inbound frame")
			continue
		}

		metrics.FramesReceived.WithLabelValues(string(frame.Type)).Inc()

		m.handlerMu.RLock()
		handler := m.onFrame
		m.handlerMu.RUnlock()

		if handler == nil {
			metrics.FramesDropped.WithLabelValues("no_handler").Inc()
			continue
		}
		handler(frame)
	}
}

// handleReadError classifies a read failure and sets the next state.
func (m *Manager) handleReadError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		m.shutdown()
		return
	}

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == StateClosed {
		// Disconnect(true) closed the connection under us.
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		// Server-initiated clean close: do not fight it with retries.
		logging.Info().Msg("stream closed by server")
		m.closeConnection(websocket.CloseNormalClosure)
		m.mu.Lock()
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return
	}

	logging.Warn().Err(err).Msg("stream read error")
	m.handleStreamFailure()
}

// transitionAfterFailure arms the retry policy after a failed dial, unless
// an intentional close already happened.
func (m *Manager) transitionAfterFailure() {
	m.mu.Lock()
	if m.state != StateClosed {
		m.setStateLocked(StateReconnecting)
	}
	m.mu.Unlock()
}

// handleStreamFailure drops the connection and arms the retry policy.
func (m *Manager) handleStreamFailure() {
	m.closeConnection(websocket.CloseGoingAway)

	m.mu.Lock()
	if m.state != StateClosed {
		m.setStateLocked(StateReconnecting)
	}
	m.mu.Unlock()

	m.wakeup()
}

// pingLoop sends keepalive pings until the connection's read loop exits.
func (m *Manager) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(m.cfg.HandshakeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logging.Debug().Err(err).Msg("stream ping failed")
				return
			}
		}
	}
}

// closeConnection closes the websocket with the given close code.
func (m *Manager) closeConnection(closeCode int) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, ""),
		time.Now().Add(time.Second),
	); err != nil {
		logging.Debug().Err(err).Msg("failed to send close message")
	}
	if err := conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("failed to close connection")
	}
}

// shutdown tears down the connection for good on context cancellation.
func (m *Manager) shutdown() {
	m.closeConnection(websocket.CloseNormalClosure)
	m.mu.Lock()
	m.setStateLocked(StateClosed)
	m.mu.Unlock()
}

// setStateLocked updates state and the state gauge. Caller holds mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	metrics.ConnectionState.Set(float64(s))
	logging.Debug().Str("state", s.String()).Msg("transport state change")
}

// wakeup nudges the Serve loop out of an idle wait.
func (m *Manager) wakeup() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// buildStreamURL converts the endpoint to ws(s) and appends the auth token
// and device id as query parameters.
func buildStreamURL(endpoint, token, deviceID string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}

	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported stream scheme %q", parsed.Scheme)
	}

	q := parsed.Query()
	q.Set("token", token)
	q.Set("device_id", deviceID)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}
