// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

package models

import "github.com/goccy/go-json"

// FrameType discriminates stream frames. The inbound set is closed; unknown
// values are dropped by the router without crashing the pipeline.
type FrameType string

const (
	FrameNewMessage FrameType = "new_message"
	FrameTyping     FrameType = "typing"
	FrameRead       FrameType = "read"
	FrameOnline     FrameType = "online"
	FrameOffline    FrameType = "offline"
)

// Frame is one decoded unit of data on the streaming connection, in either
// direction. Fields beyond Type are populated per frame kind:
//
//	new_message: RoomID, Message
//	typing:      RoomID, SenderID
//	read:        RoomID (inbound payload beyond this is currently ignored)
//	online/offline: SenderID
//
// Outbound frames carry only Type and RoomID.
type Frame struct {
	Type     FrameType       `json:"type"`
	RoomID   string          `json:"room_id,omitempty"`
	SenderID string          `json:"sender_id,omitempty"`
	Message  *Message        `json:"message,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// TypingFrame builds the outbound typing notification for a room.
func TypingFrame(roomID string) Frame {
	return Frame{Type: FrameTyping, RoomID: roomID}
}

// ReadFrame builds the outbound read notification for a room.
func ReadFrame(roomID string) Frame {
	return Frame{Type: FrameRead, RoomID: roomID}
}
