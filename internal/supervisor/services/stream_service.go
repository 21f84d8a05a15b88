// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

// Package services wraps the client's long-running components as suture
// services.
package services

import (
	"context"
)

// StreamLoop matches *transport.Manager's Serve method. The interface
// keeps this package free of a transport import.
type StreamLoop interface {
	Serve(ctx context.Context) error
}

// StreamService wraps the websocket transport loop as a supervised
// service. The manager's Serve method already follows the suture.Service
// pattern; the wrapper only adds a stable name for event logging.
type StreamService struct {
	loop StreamLoop
	name string
}

// NewStreamService creates the transport service wrapper.
func NewStreamService(loop StreamLoop) *StreamService {
	return &StreamService{
		loop: loop,
		name: "chat-stream",
	}
}

// Serve implements suture.Service. It returns ctx.Err() on normal
// shutdown; any other return restarts the loop under supervision.
func (s *StreamService) Serve(ctx context.Context) error {
	return s.loop.Serve(ctx)
}

// String implements fmt.Stringer for suture's event log.
func (s *StreamService) String() string {
	return s.name
}
