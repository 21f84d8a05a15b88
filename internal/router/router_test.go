// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tomtom215/chatsync/internal/models"
)

// recordingSink records dispatched events in order.
type recordingSink struct {
	calls []string
}

func (s *recordingSink) HandleNewMessage(models.Frame) { s.calls = append(s.calls, "new_message") }
func (s *recordingSink) HandleTyping(models.Frame)     { s.calls = append(s.calls, "typing") }
func (s *recordingSink) HandleRead(models.Frame)       { s.calls = append(s.calls, "read") }
func (s *recordingSink) HandleOnline(models.Frame)     { s.calls = append(s.calls, "online") }
func (s *recordingSink) HandleOffline(models.Frame)    { s.calls = append(s.calls, "offline") }

func TestDispatchKnownTypes(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Dispatch(models.Frame{Type: models.FrameNewMessage, Message: &models.Message{ID: "m1"}})
	r.Dispatch(models.Frame{Type: models.FrameTyping, RoomID: "r", SenderID: "u"})
	r.Dispatch(models.Frame{Type: models.FrameRead, RoomID: "r"})
	r.Dispatch(models.Frame{Type: models.FrameOnline, SenderID: "u"})
	r.Dispatch(models.Frame{Type: models.FrameOffline, SenderID: "u"})

	assert.Equal(t, []string{"new_message", "typing", "read", "online", "offline"}, sink.calls)
}

func TestDispatchPreservesArrivalOrder(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Dispatch(models.Frame{Type: models.FrameTyping})
	r.Dispatch(models.Frame{Type: models.FrameNewMessage, Message: &models.Message{ID: "m1"}})
	r.Dispatch(models.Frame{Type: models.FrameTyping})

	assert.Equal(t, []string{"typing", "new_message", "typing"}, sink.calls)
}

func TestDispatchDropsUnknownType(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Dispatch(models.Frame{Type: "presence_v2"})
	r.Dispatch(models.Frame{Type: ""})

	assert.Empty(t, sink.calls, "unknown types must not reach the sink")
}

func TestDispatchDropsNewMessageWithoutPayload(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Dispatch(models.Frame{Type: models.FrameNewMessage, RoomID: "r"})

	assert.Empty(t, sink.calls)
}
