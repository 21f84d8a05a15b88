// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

// Package models defines the chat domain types shared across the
// synchronization pipeline: rooms, messages, and stream frames.
package models

import "time"

// DeliveryStatus tracks a message through the optimistic-send lifecycle.
type DeliveryStatus string

const (
	// DeliveryPending marks an optimistic local entry inserted after a
	// successful REST send, before any server-pushed confirmation.
	DeliveryPending DeliveryStatus = "pending"

	// DeliveryConfirmed marks a message received from the server.
	DeliveryConfirmed DeliveryStatus = "confirmed"

	// DeliveryFailed marks a send whose REST call failed. Failed sends are
	// surfaced to the caller and never inserted locally; the status exists
	// for UI retry affordances.
	DeliveryFailed DeliveryStatus = "failed"
)

// Message is one chat message in a room's insertion-ordered list.
type Message struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"room_id"`
	SenderID  string         `json:"sender_id,omitempty"`
	Content   string         `json:"content"`
	IsOwn     bool           `json:"is_own"`
	CreatedAt time.Time      `json:"created_at"`
	Status    DeliveryStatus `json:"status,omitempty"`
}

// Room is a conversation between exactly two counterparties.
//
// Rooms are created locally from a REST list fetch or a create-room command,
// updated on every inbound message for the room, and never deleted locally.
type Room struct {
	ID              string    `json:"id"`
	CounterpartID   string    `json:"counterpart_id,omitempty"`
	CounterpartName string    `json:"counterpart_name,omitempty"`
	LastMessage     string    `json:"last_message,omitempty"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty"`
	UnreadCount     int       `json:"unread_count"`
}
