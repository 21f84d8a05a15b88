// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

// Package config loads and validates Chatsync configuration.
//
// Precedence (lowest to highest): struct defaults, optional YAML file,
// CHATSYNC_-prefixed environment variables.
package config

import (
	"time"
)

// Config is the root configuration for the chat synchronization subsystem.
type Config struct {
	API     APIConfig     `koanf:"api"`
	Stream  StreamConfig  `koanf:"stream"`
	Chat    ChatConfig    `koanf:"chat"`
	Logging LoggingConfig `koanf:"logging"`
}

// APIConfig configures the REST collaborator client.
type APIConfig struct {
	// BaseURL is the REST API root, e.g. https://chat.example.com/api
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// Token is the bearer token presented on REST calls and stream dials.
	// An empty token leaves the subsystem inert (anonymous views).
	Token string `koanf:"token"`

	// Timeout bounds each REST call.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// BreakerEnabled wraps the client in a circuit breaker for the
	// background refresh paths.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// StreamConfig configures the websocket transport.
type StreamConfig struct {
	// URL is the websocket endpoint, e.g. wss://chat.example.com/ws
	URL string `koanf:"url" validate:"required"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`

	// PingInterval is the keepalive ping cadence on an open connection.
	PingInterval time.Duration `koanf:"ping_interval" validate:"gt=0"`

	// ReconnectInterval is the fixed wait between reconnection attempts.
	// The policy is deliberately fixed-interval, not exponential: the REST
	// layer remains the source of truth for durability, so the stream is a
	// best-effort push channel.
	ReconnectInterval time.Duration `koanf:"reconnect_interval" validate:"gt=0"`

	// MaxReconnectAttempts caps consecutive reconnection attempts before
	// the transport gives up until a manual reconnect.
	MaxReconnectAttempts int `koanf:"max_reconnect_attempts" validate:"gte=1"`
}

// ChatConfig configures state-store and typing behavior.
type ChatConfig struct {
	// SelfID identifies the local user so self-originated typing events
	// and own-message echoes can be recognized.
	SelfID string `koanf:"self_id"`

	// TypingExpiry is how long an inbound typing indicator stays visible
	// without refresh.
	TypingExpiry time.Duration `koanf:"typing_expiry" validate:"gt=0"`

	// TypingDebounce is the minimum gap between outbound typing frames
	// per room.
	TypingDebounce time.Duration `koanf:"typing_debounce" validate:"gt=0"`

	// EchoSuppressWindow is how long after an optimistic send an
	// own-flagged echo of the same room+content is dropped.
	EchoSuppressWindow time.Duration `koanf:"echo_suppress_window" validate:"gte=0"`

	// RefreshInterval drives the background room-list and unread refresher.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gt=0"`

	// HistoryPageSize is the limit passed to message history fetches.
	HistoryPageSize int `koanf:"history_page_size" validate:"gte=1"`
}

// LoggingConfig configures the zerolog facade.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// defaultConfig returns a Config with all defaults applied. Timings default
// to the product values: 3s reconnect interval, 5 attempts, 3s typing
// expiry, 2s typing debounce.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "",
			Token:          "",
			Timeout:        30 * time.Second,
			BreakerEnabled: true,
		},
		Stream: StreamConfig{
			URL:                  "",
			HandshakeTimeout:     10 * time.Second,
			PingInterval:         30 * time.Second,
			ReconnectInterval:    3 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Chat: ChatConfig{
			SelfID:             "",
			TypingExpiry:       3 * time.Second,
			TypingDebounce:     2 * time.Second,
			EchoSuppressWindow: 5 * time.Second,
			RefreshInterval:    60 * time.Second,
			HistoryPageSize:    50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the default configuration. Exported for tests and for
// embedding callers that configure programmatically.
func Default() *Config {
	return defaultConfig()
}
