// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package socket is the websocket transport: a hub of rooms and sessions
// plus the per-connection read and write pumps.
package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrUnknownSession = errors.New("unknown session")

// Frame is the JSON envelope of every websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   *int64 `json:"ack,omitempty"`
}

// Hub tracks connected sessions and the rooms they joined. It is the
// registry behind every broadcast, including the all-sessions one.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	sessions map[string]*Client
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Client]struct{}),
		sessions: make(map[string]*Client),
		log:      log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[c.session.ID] = c
}

// unregister drops c from the registry and every room, then closes its
// send queue. Safe to call more than once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if h.sessions[c.session.ID] == c {
		delete(h.sessions, c.session.ID)
	}
	for room := range c.rooms {
		h.removeLocked(room, c)
	}
	c.rooms = nil
	h.mu.Unlock()

	c.closeSend()
}

func (h *Hub) removeLocked(room string, c *Client) {
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) Join(sessionID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.sessions[sessionID]
	if !ok {
		return fmt.Errorf("join %s: %w", room, ErrUnknownSession)
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	if c.rooms == nil {
		c.rooms = make(map[string]struct{})
	}
	c.rooms[room] = struct{}{}
	return nil
}

func (h *Hub) Leave(sessionID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.sessions[sessionID]
	if !ok {
		return fmt.Errorf("leave %s: %w", room, ErrUnknownSession)
	}
	h.removeLocked(room, c)
	delete(c.rooms, room)
	return nil
}

func (h *Hub) ToRoom(room, event string, data any) error {
	return h.ToRoomExcept(room, "", event, data)
}

func (h *Hub) ToRoomExcept(room, exceptSessionID, event string, data any) error {
	msg, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c.session.ID != exceptSessionID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, msg)
	return nil
}

func (h *Hub) ToAll(event string, data any) error {
	msg, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, msg)
	return nil
}

// deliver never blocks: a client whose queue is full is disconnected.
func (h *Hub) deliver(targets []*Client, msg []byte) {
	for _, c := range targets {
		if !c.enqueue(msg) {
			h.log.Warn("socket: Dropping slow client", "session_id", c.session.ID, "user_id", c.session.UserID)
			go c.shutdown()
		}
	}
}

// Sessions returns the number of registered sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RoomSize returns the number of sessions in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// CloseAll disconnects every session.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.shutdown()
	}
}
