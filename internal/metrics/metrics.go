// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

// Package metrics provides Prometheus instrumentation for the chat
// synchronization pipeline.
//
// Connection metrics:
//   - chatsync_connection_state: Current transport state (gauge)
//     Values: 0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=closed
//   - chatsync_reconnect_attempts_total: Reconnection attempts (counter)
//
// Frame metrics:
//   - chatsync_frames_received_total: Inbound frames (counter)
//     Labels: type
//   - chatsync_frames_sent_total: Outbound frames (counter)
//     Labels: type
//   - chatsync_frames_dropped_total: Frames dropped before dispatch (counter)
//     Labels: reason (decode_error, unknown_type, no_handler)
//
// Store metrics:
//   - chatsync_unread_messages: Current global unread count (gauge)
//   - chatsync_rooms: Rooms known locally (gauge)
//   - chatsync_refresh_errors_total: Swallowed background refresh errors (counter)
//     Labels: kind (rooms, unread)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState tracks the transport state machine.
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_connection_state",
			Help: "Current transport connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=closed)",
		},
	)

	// ReconnectAttempts counts reconnection attempts after abnormal closure.
	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_reconnect_attempts_total",
			Help: "Total number of reconnection attempts",
		},
	)

	// FramesReceived counts inbound frames by discriminator type.
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_frames_received_total",
			Help: "Total number of inbound stream frames",
		},
		[]string{"type"},
	)

	// FramesSent counts outbound frames by discriminator type.
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_frames_sent_total",
			Help: "Total number of outbound stream frames",
		},
		[]string{"type"},
	)

	// FramesDropped counts frames discarded before reaching the store.
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_frames_dropped_total",
			Help: "Total number of frames dropped before dispatch",
		},
		[]string{"reason"}, // "decode_error", "unknown_type", "no_handler"
	)

	// UnreadMessages mirrors the store's global unread counter.
	UnreadMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_unread_messages",
			Help: "Current global unread message count",
		},
	)

	// Rooms tracks the number of rooms known locally.
	Rooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_rooms",
			Help: "Number of rooms in the local room list",
		},
	)

	// RefreshErrors counts swallowed background refresh failures.
	RefreshErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_refresh_errors_total",
			Help: "Total number of background refresh errors (swallowed)",
		},
		[]string{"kind"}, // "rooms", "unread"
	)

	// APIRequestDuration observes REST collaborator call latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_api_request_duration_seconds",
			Help:    "Duration of REST collaborator calls",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"operation"}, // "list_rooms", "get_messages", "send_message", "mark_read", "create_room", "unread_count"
	)

	// CircuitBreakerState tracks the REST breaker (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)
