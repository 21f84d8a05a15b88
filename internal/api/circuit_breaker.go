// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

package api

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/chatsync/internal/logging"
	"github.com/tomtom215/chatsync/internal/metrics"
	"github.com/tomtom215/chatsync/internal/models"
)

// BreakerClient wraps a Client with a circuit breaker so that a flapping
// chat API does not hammer the server from the background refresh loop.
//
// The breaker uses real time for its interval and timeout calculations;
// unit tests should exercise the wrapped client directly.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker[any]
	name  string
}

// Ensure BreakerClient implements Client
var _ Client = (*BreakerClient)(nil)

// NewBreakerClient wraps a client with a circuit breaker.
// Configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 30 second timeout before attempting recovery
//   - Opens after 60% failure rate with minimum 6 requests
func NewBreakerClient(inner Client) *BreakerClient {
	const cbName = "chat-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 6 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("chat API circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{inner: inner, cb: cb, name: cbName}
}

// stateToFloat maps breaker states onto the state gauge values.
func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// execute runs fn under the breaker.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// ListRooms implements Client.
func (b *BreakerClient) ListRooms(ctx context.Context) ([]models.Room, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.ListRooms(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Room), nil
}

// GetMessages implements Client.
func (b *BreakerClient) GetMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.GetMessages(ctx, roomID, limit, offset)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Message), nil
}

// SendMessage implements Client.
func (b *BreakerClient) SendMessage(ctx context.Context, roomID, content string) (*models.Message, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.SendMessage(ctx, roomID, content)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Message), nil
}

// MarkRead implements Client.
func (b *BreakerClient) MarkRead(ctx context.Context, roomID string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.MarkRead(ctx, roomID)
	})
	return err
}

// CreateRoom implements Client.
func (b *BreakerClient) CreateRoom(ctx context.Context, recipientID, initialMessage string) (*models.Room, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.CreateRoom(ctx, recipientID, initialMessage)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Room), nil
}

// UnreadCount implements Client.
func (b *BreakerClient) UnreadCount(ctx context.Context) (int, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.UnreadCount(ctx)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}
