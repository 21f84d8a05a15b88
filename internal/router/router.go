// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

// Package router classifies inbound stream frames and dispatches them to
// the chat state store.
//
// Dispatch is synchronous and strictly in arrival order: the transport
// guarantees in-order delivery per connection, and the router adds no
// buffering or reordering on top. Unknown frame types are dropped and
// logged, never fatal.
package router

import (
	"github.com/tomtom215/chatsync/internal/logging"
	"github.com/tomtom215/chatsync/internal/metrics"
	"github.com/tomtom215/chatsync/internal/models"
)

// Sink receives classified events. Implemented by the chat state store.
type Sink interface {
	HandleNewMessage(frame models.Frame)
	HandleTyping(frame models.Frame)
	HandleRead(frame models.Frame)
	HandleOnline(frame models.Frame)
	HandleOffline(frame models.Frame)
}

// Router dispatches frames to a sink.
type Router struct {
	sink Sink
}

// New creates a router targeting the given sink.
func New(sink Sink) *Router {
	return &Router{sink: sink}
}

// Dispatch routes one frame by its type discriminator. Registered as the
// transport's frame handler.
func (r *Router) Dispatch(frame models.Frame) {
	switch frame.Type {
	case models.FrameNewMessage:
		if frame.Message == nil {
			metrics.FramesDropped.WithLabelValues("decode_error").Inc()
			logging.Warn().Str("room_id", frame.RoomID).Msg("new_message frame without message payload")
			return
		}
		r.sink.HandleNewMessage(frame)

	case models.FrameTyping:
		r.sink.HandleTyping(frame)

	case models.FrameRead:
		r.sink.HandleRead(frame)

	case models.FrameOnline:
		r.sink.HandleOnline(frame)

	case models.FrameOffline:
		r.sink.HandleOffline(frame)

	default:
		metrics.FramesDropped.WithLabelValues("unknown_type").Inc()
		logging.Debug().Str("type", string(frame.Type)).Msg("dropping unknown frame type")
	}
}
