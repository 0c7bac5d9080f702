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

package realtime

import (
	"context"
	"sync"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/rooms"
)

// presenceLock serialises presence changes of one user so the stored
// status always matches the last applied connect or disconnect. refs is
// guarded by presenceMu.
type presenceLock struct {
	mu   sync.Mutex
	refs int
}

// lockUser takes the user's presence lock. The entry is dropped once the
// last holder or waiter releases it.
func (e *Engine) lockUser(userID string) (unlock func()) {
	e.presenceMu.Lock()
	l, ok := e.userLocks[userID]
	if !ok {
		l = &presenceLock{}
		e.userLocks[userID] = l
	}
	l.refs++
	e.presenceMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.presenceMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.userLocks, userID)
		}
		e.presenceMu.Unlock()
	}
}

// Connect joins the session to its rooms and marks the user online. The
// first session of a user announces user:online.
func (e *Engine) Connect(ctx context.Context, sess *Session) (*models.User, error) {
	unlock := e.lockUser(sess.UserID)
	defer unlock()

	user, err := e.loadUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	sess.Username = user.Username

	for _, room := range rooms.ForUser(user) {
		if err := e.emit.Join(sess.ID, room); err != nil {
			e.log.Warn("realtime: Failed to join room", "session_id", sess.ID, "room", room, "error", err)
		}
	}

	e.presenceMu.Lock()
	e.sessions[user.ID]++
	first := e.sessions[user.ID] == 1
	e.presenceMu.Unlock()
	e.metrics.Sessions.Inc()

	now := e.now().UTC()
	if err := e.store.SetPresence(ctx, user.ID, true, now); err != nil {
		e.log.Warn("realtime: Failed to mark user online", "user_id", user.ID, "error", err)
	}
	user.IsOnline = true
	user.LastSeen = &now

	if first {
		e.announce(user, EventUserOnline)
	}
	return user, nil
}

// Disconnect marks the user offline once their last session is gone.
// Room membership of the session itself is dropped by the transport.
func (e *Engine) Disconnect(ctx context.Context, sess *Session) {
	unlock := e.lockUser(sess.UserID)
	defer unlock()

	e.presenceMu.Lock()
	n, known := e.sessions[sess.UserID]
	if known {
		n--
		if n <= 0 {
			delete(e.sessions, sess.UserID)
		} else {
			e.sessions[sess.UserID] = n
		}
	}
	e.presenceMu.Unlock()
	if !known {
		return
	}
	e.metrics.Sessions.Dec()
	if n > 0 {
		return
	}

	now := e.now().UTC()
	if err := e.store.SetPresence(ctx, sess.UserID, false, now); err != nil {
		e.log.Warn("realtime: Failed to mark user offline", "user_id", sess.UserID, "error", err)
	}

	user, err := e.loadUser(ctx, sess.UserID)
	if err != nil {
		user = &models.User{ID: sess.UserID, Username: sess.Username}
	}
	user.IsOnline = false
	user.LastSeen = &now
	e.announce(user, EventUserOffline)
}

// Online reports how many sessions userID currently has.
func (e *Engine) Online(userID string) int {
	e.presenceMu.Lock()
	defer e.presenceMu.Unlock()
	return e.sessions[userID]
}

// announce emits event to the user's group, the admin room and the user's
// own room, and user:status:changed to every connected session.
func (e *Engine) announce(user *models.User, event string) {
	payload := PresencePayload{
		UserID:   user.ID,
		Username: user.Username,
		GroupID:  user.GroupID,
		IsOnline: user.IsOnline,
		LastSeen: user.LastSeen,
	}
	if user.GroupID != "" {
		e.broadcast(rooms.Group(user.GroupID), event, payload)
	}
	e.broadcast(rooms.Admin, event, payload)
	e.broadcast(rooms.User(user.ID), event, payload)

	if err := e.emit.ToAll(EventUserStatusChanged, payload); err != nil {
		e.metrics.BroadcastFailures.Inc()
		e.log.Warn("realtime: Failed to broadcast status change", "user_id", user.ID, "error", err)
	}
}
