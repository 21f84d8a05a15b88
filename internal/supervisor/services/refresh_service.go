// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

package services

import (
	"context"
	"time"
)

// RefreshFunc performs one REST reconciliation pass. Implementations
// swallow their own errors; the refresher never crashes on a failed pass.
type RefreshFunc func(ctx context.Context)

// RefreshService periodically re-fetches REST state so the store converges
// with the source of truth even when the push stream drops events.
type RefreshService struct {
	name     string
	interval time.Duration
	refresh  RefreshFunc
}

// NewRefreshService creates a periodic refresher. The name shows up in
// suture's event log.
func NewRefreshService(name string, interval time.Duration, refresh RefreshFunc) *RefreshService {
	return &RefreshService{
		name:     name,
		interval: interval,
		refresh:  refresh,
	}
}

// Serve implements suture.Service. One pass runs immediately on start so a
// freshly (re)started service does not wait a full interval for its first
// reconciliation.
func (s *RefreshService) Serve(ctx context.Context) error {
	s.refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// String implements fmt.Stringer for suture's event log.
func (s *RefreshService) String() string {
	return s.name
}
