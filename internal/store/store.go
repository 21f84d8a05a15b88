// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

/*
store.go - Chat State Store

The store owns all room and message state: per-room insertion-ordered
message lists, the global and per-room unread counters, the active-room
pointer, and the ephemeral typing sets. The UI reads snapshots and issues
commands; inbound stream events mutate state through the Handle* methods,
called synchronously in arrival order by the event router.

Invariant: the global unread counter equals the sum of per-room counters
over all rooms except the active room; the active room's counter is always
forced to 0. Increments and decrements commute, so command/event
interleaving around REST await points cannot corrupt the counters as long
as activation uses snapshot-then-subtract rather than recompute.
*/

// Package store implements the chat state store, the core of the
// synchronization subsystem.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/chatsync/internal/api"
	"github.com/tomtom215/chatsync/internal/logging"
	"github.com/tomtom215/chatsync/internal/metrics"
	"github.com/tomtom215/chatsync/internal/models"
	"github.com/tomtom215/chatsync/internal/typing"
)

// Command validation errors surfaced to the UI layer.
var (
	ErrNoActiveRoom = errors.New("no active room")
	ErrEmptyMessage = errors.New("message content is empty")
)

// FrameSender is the slice of the transport manager the store depends on.
type FrameSender interface {
	Send(frame models.Frame) bool
	IsConnected() bool
}

// Options tunes store behavior. Zero values fall back to defaults.
type Options struct {
	// SelfID is the local user id, used to recognize self-originated
	// typing events and own-message echoes.
	SelfID string

	// EchoSuppressWindow is how long after an optimistic send an
	// own-flagged echo of the same room+content is dropped.
	EchoSuppressWindow time.Duration

	// HistoryPageSize is the limit for message history fetches.
	HistoryPageSize int
}

// recentSend records an optimistic send for echo suppression.
type recentSend struct {
	roomID  string
	content string
	at      time.Time
}

// Store is the chat state store.
type Store struct {
	api    api.Client
	sender FrameSender
	typing *typing.Tracker
	opts   Options

	// now is injectable for deterministic echo-window tests.
	now func() time.Time

	mu           sync.Mutex
	rooms        map[string]*models.Room
	messages     map[string][]models.Message
	globalUnread int
	activeRoom   string
	recentSends  []recentSend
}

// New creates a store wired to the REST client, the transport and the
// typing tracker.
func New(client api.Client, sender FrameSender, tracker *typing.Tracker, opts Options) *Store {
	if opts.EchoSuppressWindow < 0 {
		opts.EchoSuppressWindow = 0
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = 50
	}
	return &Store{
		api:      client,
		sender:   sender,
		typing:   tracker,
		opts:     opts,
		now:      time.Now,
		rooms:    make(map[string]*models.Room),
		messages: make(map[string][]models.Message),
	}
}

// ----------------------------------------------------------------------------
// Commands (UI → store)
// ----------------------------------------------------------------------------

// SendMessage persists a message to the active room via REST and, on
// success, appends an optimistic own-message entry locally. REST failures
// propagate to the caller without any local mutation, so the UI can offer a
// retry without duplicate-send risk.
func (s *Store) SendMessage(ctx context.Context, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	roomID := s.activeRoom
	s.mu.Unlock()
	if roomID == "" {
		return nil, ErrNoActiveRoom
	}

	msg, err := s.api.SendMessage(ctx, roomID, content)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	local := *msg
	local.RoomID = roomID
	local.IsOwn = true
	local.Status = models.DeliveryPending
	if local.ID == "" {
		local.ID = "local-" + uuid.NewString()
	}
	if local.CreatedAt.IsZero() {
		local.CreatedAt = s.now()
	}

	s.messages[roomID] = append(s.messages[roomID], local)

	room := s.ensureRoomLocked(roomID)
	room.LastMessage = local.Content
	room.LastMessageAt = local.CreatedAt

	s.rememberSendLocked(roomID, content)

	return msg, nil
}

// SetActiveRoom activates a room: sets the pointer, fetches history as a
// full replace, issues the read-receipt flow and resets the room's unread
// counter with snapshot-then-subtract.
//
// A history-fetch failure does not roll anything back: the room still
// becomes active and counters still reset. Unread accounting favors
// availability over strict accuracy on transient fetch failure.
func (s *Store) SetActiveRoom(ctx context.Context, roomID string) {
	s.mu.Lock()
	s.activeRoom = roomID
	s.ensureRoomLocked(roomID)
	s.mu.Unlock()

	// The fetch runs against the captured room id. If the active pointer
	// moved while the fetch was in flight, the destructive full replace
	// below must be dropped.
	history, err := s.api.GetMessages(ctx, roomID, s.opts.HistoryPageSize, 0)
	if err != nil {
		logging.Warn().Err(err).Str("room_id", roomID).Msg("history fetch failed, keeping local messages")
	} else {
		s.mu.Lock()
		if s.activeRoom == roomID {
			s.messages[roomID] = normalizeHistory(roomID, history, s.opts.SelfID)
		} else {
			logging.Debug().Str("room_id", roomID).Msg("dropping stale history fetch result")
		}
		s.mu.Unlock()
	}

	if err := s.api.MarkRead(ctx, roomID); err != nil {
		logging.Warn().Err(err).Str("room_id", roomID).Msg("mark read failed")
	}
	s.sender.Send(models.ReadFrame(roomID))

	// Snapshot-then-subtract: other rooms may have gained unread messages
	// during the fetch, so recomputing from scratch here would be wrong.
	s.mu.Lock()
	room := s.ensureRoomLocked(roomID)
	prev := room.UnreadCount
	room.UnreadCount = 0
	s.globalUnread -= prev
	if s.globalUnread < 0 {
		s.globalUnread = 0
	}
	metrics.UnreadMessages.Set(float64(s.globalUnread))
	s.mu.Unlock()
}

// StartChat creates (or finds) the room with a counterpart, inserts it into
// the local list if absent, and activates it. Room creation is idempotent
// on the server side.
func (s *Store) StartChat(ctx context.Context, recipientID, initialMessage string) (*models.Room, error) {
	room, err := s.api.CreateRoom(ctx, recipientID, initialMessage)
	if err != nil {
		return nil, fmt.Errorf("start chat: %w", err)
	}

	s.mu.Lock()
	if _, ok := s.rooms[room.ID]; !ok {
		cp := *room
		s.rooms[room.ID] = &cp
		metrics.Rooms.Set(float64(len(s.rooms)))
	}
	s.mu.Unlock()

	s.SetActiveRoom(ctx, room.ID)
	return room, nil
}

// SendTyping emits an outbound typing notification for the active room,
// debounced to at most one frame per window.
func (s *Store) SendTyping() {
	s.mu.Lock()
	roomID := s.activeRoom
	s.mu.Unlock()
	if roomID == "" || !s.sender.IsConnected() {
		return
	}

	if !s.typing.AllowSend(roomID) {
		return
	}
	s.sender.Send(models.TypingFrame(roomID))
}

// RefreshRooms reloads the room list from REST. Failures are swallowed and
// logged; the UI keeps stale data until the next successful refresh.
func (s *Store) RefreshRooms(ctx context.Context) {
	rooms, err := s.api.ListRooms(ctx)
	if err != nil {
		metrics.RefreshErrors.WithLabelValues("rooms").Inc()
		logging.Warn().Err(err).Msg("room list refresh failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range rooms {
		incoming := rooms[i]
		if existing, ok := s.rooms[incoming.ID]; ok {
			existing.CounterpartID = incoming.CounterpartID
			existing.CounterpartName = incoming.CounterpartName
			existing.LastMessage = incoming.LastMessage
			existing.LastMessageAt = incoming.LastMessageAt
			existing.UnreadCount = incoming.UnreadCount
		} else {
			cp := incoming
			s.rooms[cp.ID] = &cp
		}
	}

	// The server's counters are authoritative on a full refresh; re-derive
	// the global counter under the active-room-is-zero invariant.
	if active, ok := s.rooms[s.activeRoom]; ok {
		active.UnreadCount = 0
	}
	total := 0
	for id, room := range s.rooms {
		if id != s.activeRoom {
			total += room.UnreadCount
		}
	}
	s.globalUnread = total

	metrics.Rooms.Set(float64(len(s.rooms)))
	metrics.UnreadMessages.Set(float64(s.globalUnread))
}

// RefreshUnread reloads the global unread count from REST. Failures are
// swallowed and logged.
func (s *Store) RefreshUnread(ctx context.Context) {
	count, err := s.api.UnreadCount(ctx)
	if err != nil {
		metrics.RefreshErrors.WithLabelValues("unread").Inc()
		logging.Warn().Err(err).Msg("unread count refresh failed")
		return
	}

	s.mu.Lock()
	s.globalUnread = count
	metrics.UnreadMessages.Set(float64(count))
	s.mu.Unlock()
}

// OnStreamConnected is hooked to the transport's connect event. Typing
// indicators are not persisted and are rebuilt from nothing on reconnect.
func (s *Store) OnStreamConnected() {
	s.typing.Reset()
}

// ----------------------------------------------------------------------------
// Event handlers (stream → store), dispatched by the router
// ----------------------------------------------------------------------------

// HandleNewMessage reconciles an inbound message event:
//
//  1. Append the message to the room's list.
//  2. Update the room's preview fields.
//  3. Active room: force unread to 0. Otherwise increment it.
//  4. Non-active room: increment the global counter.
//
// The active-room pointer is read here, at event-processing time, not at
// send time; that is what prevents double counting when the user switches
// rooms mid-flight.
func (s *Store) HandleNewMessage(frame models.Frame) {
	msg := *frame.Message
	roomID := frame.RoomID
	if roomID == "" {
		roomID = msg.RoomID
	}
	if roomID == "" {
		logging.Warn().Str("message_id", msg.ID).Msg("new_message event without room id")
		return
	}
	msg.RoomID = roomID

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.SelfID != "" && msg.SenderID == s.opts.SelfID {
		msg.IsOwn = true
	}
	if s.suppressEchoLocked(roomID, &msg) {
		logging.Debug().Str("room_id", roomID).Str("message_id", msg.ID).Msg("suppressing own-message echo")
		return
	}
	if msg.Status == "" {
		msg.Status = models.DeliveryConfirmed
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	s.messages[roomID] = append(s.messages[roomID], msg)

	room := s.ensureRoomLocked(roomID)
	room.LastMessage = msg.Content
	room.LastMessageAt = msg.CreatedAt

	if roomID == s.activeRoom {
		room.UnreadCount = 0
	} else {
		room.UnreadCount++
		s.globalUnread++
		metrics.UnreadMessages.Set(float64(s.globalUnread))
	}
}

// HandleTyping adds the sender to the room's typing set, ignoring
// self-originated events. Expiry is the tracker's concern.
func (s *Store) HandleTyping(frame models.Frame) {
	if frame.RoomID == "" || frame.SenderID == "" {
		return
	}
	if s.opts.SelfID != "" && frame.SenderID == s.opts.SelfID {
		return
	}
	s.typing.Observe(frame.RoomID, frame.SenderID)
}

// HandleRead accepts read receipts from other devices. Currently ignored.
func (s *Store) HandleRead(models.Frame) {}

// HandleOnline accepts presence events. Currently ignored.
func (s *Store) HandleOnline(models.Frame) {}

// HandleOffline accepts presence events. Currently ignored.
func (s *Store) HandleOffline(models.Frame) {}

// ----------------------------------------------------------------------------
// Snapshots (store → UI)
// ----------------------------------------------------------------------------

// Rooms returns a copy of the room list, most recent activity first.
func (s *Store) Rooms() []models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, *room)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveRoomID returns the active room id, or "" when none is active.
func (s *Store) ActiveRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// Messages returns a copy of a room's message list in insertion order.
func (s *Store) Messages(roomID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages[roomID]...)
}

// ActiveMessages returns the active room's message list.
func (s *Store) ActiveMessages() []models.Message {
	s.mu.Lock()
	roomID := s.activeRoom
	s.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return s.Messages(roomID)
}

// GlobalUnread returns the global unread counter.
func (s *Store) GlobalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalUnread
}

// RoomUnread returns a room's unread counter.
func (s *Store) RoomUnread(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room.UnreadCount
	}
	return 0
}

// TypingUsers returns the ids currently typing in a room.
func (s *Store) TypingUsers(roomID string) []string {
	return s.typing.Users(roomID)
}

// IsConnected reports whether the push stream is up. Stream loss degrades
// the system to manual-refresh behavior; it is never a blocking error.
func (s *Store) IsConnected() bool {
	return s.sender.IsConnected()
}

// ----------------------------------------------------------------------------
// Internals
// ----------------------------------------------------------------------------

// ensureRoomLocked returns the room, creating a stub entry for ids seen
// only on the stream. Caller holds mu.
func (s *Store) ensureRoomLocked(roomID string) *models.Room {
	if room, ok := s.rooms[roomID]; ok {
		return room
	}
	room := &models.Room{ID: roomID}
	s.rooms[roomID] = room
	metrics.Rooms.Set(float64(len(s.rooms)))
	return room
}

// rememberSendLocked records an optimistic send for echo suppression and
// prunes expired entries. Caller holds mu.
func (s *Store) rememberSendLocked(roomID, content string) {
	if s.opts.EchoSuppressWindow == 0 {
		return
	}
	now := s.now()
	kept := s.recentSends[:0]
	for _, rs := range s.recentSends {
		if now.Sub(rs.at) <= s.opts.EchoSuppressWindow {
			kept = append(kept, rs)
		}
	}
	s.recentSends = append(kept, recentSend{roomID: roomID, content: content, at: now})
}

// suppressEchoLocked reports whether an inbound message is a duplicate of
// local state: either its id is already present in the room's list, or it
// is an own-flagged echo of an optimistic send for the same room+content
// within the suppression window. Caller holds mu.
func (s *Store) suppressEchoLocked(roomID string, msg *models.Message) bool {
	for i := range s.messages[roomID] {
		if s.messages[roomID][i].ID == msg.ID && msg.ID != "" {
			return true
		}
	}

	if !msg.IsOwn || s.opts.EchoSuppressWindow == 0 {
		return false
	}
	now := s.now()
	for _, rs := range s.recentSends {
		if rs.roomID == roomID && rs.content == msg.Content && now.Sub(rs.at) <= s.opts.EchoSuppressWindow {
			return true
		}
	}
	return false
}

// normalizeHistory stamps room id, own flags and delivery status onto a
// server-ordered history slice before it replaces local state.
func normalizeHistory(roomID string, history []models.Message, selfID string) []models.Message {
	out := make([]models.Message, len(history))
	for i := range history {
		m := history[i]
		m.RoomID = roomID
		if selfID != "" && m.SenderID == selfID {
			m.IsOwn = true
		}
		if m.Status == "" {
			m.Status = models.DeliveryConfirmed
		}
		out[i] = m
	}
	return out
}
