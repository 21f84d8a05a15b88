// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

// Package typing tracks ephemeral typing indicators.
//
// Inbound indicators expire a fixed duration after the last event for the
// same (room, user); the expiry timer is cancelled and replaced on refresh,
// never stacked, so a refresh can never cause an early false-negative.
//
// Outbound typing notifications are debounced per room: at most one per
// window regardless of how many keystroke-triggered calls occur.
package typing

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// key identifies one typing indicator.
type key struct {
	roomID string
	userID string
}

// Tracker holds per-room typing sets and the outbound debounce state.
// All methods are safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	expiry time.Duration
	timers map[key]*time.Timer
	gen    map[key]uint64
	users  map[string]map[string]struct{}

	window   time.Duration
	limiters map[string]*rate.Limiter
}

// NewTracker creates a tracker with the given inbound expiry and outbound
// debounce window.
func NewTracker(expiry, window time.Duration) *Tracker {
	return &Tracker{
		expiry:   expiry,
		timers:   make(map[key]*time.Timer),
		gen:      make(map[key]uint64),
		users:    make(map[string]map[string]struct{}),
		window:   window,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Observe records an inbound typing event for user U in room R, adding U to
// R's typing set and rescheduling the expiry. A prior pending timer for the
// same (room, user) is cancelled and replaced.
func (t *Tracker) Observe(roomID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{roomID: roomID, userID: userID}

	if prev, ok := t.timers[k]; ok {
		prev.Stop()
	}
	// The generation guards against a timer that already fired and is
	// waiting on the mutex: its callback sees a stale generation and skips.
	t.gen[k]++
	generation := t.gen[k]

	set, ok := t.users[roomID]
	if !ok {
		set = make(map[string]struct{})
		t.users[roomID] = set
	}
	set[userID] = struct{}{}

	t.timers[k] = time.AfterFunc(t.expiry, func() {
		t.expire(k, generation)
	})
}

// expire removes the indicator if it has not been refreshed since the timer
// was armed.
func (t *Tracker) expire(k key, generation uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gen[k] != generation {
		return
	}

	delete(t.timers, k)
	delete(t.gen, k)
	if set, ok := t.users[k.roomID]; ok {
		delete(set, k.userID)
		if len(set) == 0 {
			delete(t.users, k.roomID)
		}
	}
}

// Users returns the ids currently typing in a room.
func (t *Tracker) Users(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.users[roomID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// AllowSend reports whether an outbound typing frame may be emitted for the
// room now. At most one send per window is allowed.
func (t *Tracker) AllowSend(roomID string) bool {
	t.mu.Lock()
	lim, ok := t.limiters[roomID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.window), 1)
		t.limiters[roomID] = lim
	}
	t.mu.Unlock()

	return lim.Allow()
}

// Reset drops all inbound typing state. Called on reconnect: typing sets are
// not persisted and are rebuilt from nothing. Outbound debounce state is
// kept; it rate-limits local keystrokes, not the connection.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for k, timer := range t.timers {
		timer.Stop()
		delete(t.timers, k)
	}
	for k := range t.gen {
		// Bump so any in-flight expiry callback becomes a no-op.
		t.gen[k]++
	}
	t.users = make(map[string]map[string]struct{})
}
