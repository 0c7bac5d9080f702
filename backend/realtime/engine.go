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

// Package realtime turns inbound socket events into persisted state and
// room broadcasts. It knows nothing about websockets: the transport hands
// it decoded events and an Emitter to publish through.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/metrics"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/rooms"
	"github.com/efchatnet/efgroups/backend/storage"
)

const (
	DefaultEditWindow = 15 * time.Minute
	// MaxBatchReceipts bounds messageIds in one delivered/seen event.
	MaxBatchReceipts = 500
	updateAttempts   = 3
)

// Session is one authenticated socket connection.
type Session struct {
	ID       string
	UserID   string
	Username string
}

// Emitter publishes events to rooms of connected sessions. Implementations
// must not block on slow receivers.
type Emitter interface {
	ToRoom(room, event string, data any) error
	ToRoomExcept(room, exceptSessionID, event string, data any) error
	// ToAll reaches every registered session.
	ToAll(event string, data any) error
	Join(sessionID, room string) error
	Leave(sessionID, room string) error
}

type Notifier interface {
	Send(ctx context.Context, userID string, n models.Notification) (models.Notification, bool)
}

type Limits struct {
	EditWindow        time.Duration
	MaxEdits          int
	MaxAttachmentSize int64
}

type Deps struct {
	Store    storage.Store
	Emitter  Emitter
	Notifier Notifier
	Resolver *rooms.Resolver
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Limits   Limits
	// Now defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	store    storage.Store
	emit     Emitter
	notifier Notifier
	resolver *rooms.Resolver
	log      *slog.Logger
	metrics  *metrics.Metrics
	limits   Limits
	now      func() time.Time

	// background fan-out still running after an ack was returned
	pending sync.WaitGroup

	presenceMu sync.Mutex
	sessions   map[string]int
	userLocks  map[string]*presenceLock
}

func New(d Deps) *Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Limits.EditWindow <= 0 {
		d.Limits.EditWindow = DefaultEditWindow
	}
	if d.Limits.MaxEdits <= 0 || d.Limits.MaxEdits > models.MaxEdits {
		d.Limits.MaxEdits = models.MaxEdits
	}
	if d.Resolver == nil {
		d.Resolver = rooms.NewResolver(d.Store, models.MaxForwardTargets)
	}
	return &Engine{
		store:     d.Store,
		emit:      d.Emitter,
		notifier:  d.Notifier,
		resolver:  d.Resolver,
		log:       d.Logger,
		metrics:   d.Metrics,
		limits:    d.Limits,
		now:       d.Now,
		sessions:  make(map[string]int),
		userLocks: make(map[string]*presenceLock),
	}
}

// Drain blocks until background notification fan-out has finished.
func (e *Engine) Drain() {
	e.pending.Wait()
}

// HandleEvent decodes data for event and runs it for sess. Only
// message:send produces an ack payload; other events return nil on success.
func (e *Engine) HandleEvent(ctx context.Context, sess *Session, event string, data json.RawMessage) (any, error) {
	switch event {
	case EventMessageSend:
		var req SendRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		res, err := e.SendMessage(ctx, sess, req)
		if err != nil {
			return nil, err
		}
		return res.Ack(), nil
	case EventMessageEdit:
		var req EditRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, e.EditMessage(ctx, sess, req)
	case EventMessageDelete:
		var req DeleteRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, e.DeleteMessage(ctx, sess, req)
	case EventMessageReact:
		var req ReactRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, e.React(ctx, sess, req)
	case EventMessageDelivered, EventMessageSeen:
		var req ReceiptRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		kind := models.ReceiptDelivered
		if event == EventMessageSeen {
			kind = models.ReceiptSeen
		}
		_, err := e.MarkReceipts(ctx, sess, kind, req)
		return nil, err
	case EventGroupJoin, EventGroupLeave:
		var req GroupRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if event == EventGroupJoin {
			return nil, e.Subscribe(ctx, sess, req.GroupID)
		}
		return nil, e.Unsubscribe(sess, req.GroupID)
	case EventTypingStart, EventTypingStop:
		var req GroupRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, e.Typing(sess, event, req.GroupID)
	default:
		return nil, errs.Validation("unknown event %q", event)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errs.Validation("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Validation("malformed payload: %v", err)
	}
	return nil
}

// broadcast emits and only logs failures; recipients may miss a push but
// never lose the persisted record.
func (e *Engine) broadcast(room, event string, data any) bool {
	if err := e.emit.ToRoom(room, event, data); err != nil {
		e.metrics.BroadcastFailures.Inc()
		e.log.Warn("realtime: Failed to broadcast", "room", room, "event", event, "error", err)
		return false
	}
	return true
}

func (e *Engine) broadcastExcept(room, sessionID, event string, data any) bool {
	if err := e.emit.ToRoomExcept(room, sessionID, event, data); err != nil {
		e.metrics.BroadcastFailures.Inc()
		e.log.Warn("realtime: Failed to broadcast", "room", room, "event", event, "error", err)
		return false
	}
	return true
}

func (e *Engine) loadUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := e.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.NotFound("user %s not found", userID)
	}
	if err != nil {
		return nil, errs.Transient("failed to load user", err)
	}
	return u, nil
}

func (e *Engine) loadGroup(ctx context.Context, groupID string) (*models.Group, error) {
	if groupID == "" {
		return nil, errs.Validation("groupId is required")
	}
	g, err := e.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.NotFound("group %s not found", groupID)
	}
	if err != nil {
		return nil, errs.Transient("failed to load group", err)
	}
	return g, nil
}

func (e *Engine) loadMessage(ctx context.Context, messageID string) (*models.Message, error) {
	if messageID == "" {
		return nil, errs.Validation("messageId is required")
	}
	m, err := e.store.GetMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.NotFound("message %s not found", messageID)
	}
	if err != nil {
		return nil, errs.Transient("failed to load message", err)
	}
	return m, nil
}

// requireMember loads groupID and checks that user belongs to it or is an
// admin.
func (e *Engine) requireMember(ctx context.Context, user *models.User, groupID string) (*models.Group, error) {
	g, err := e.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() && !g.IsMember(user.ID) {
		return nil, errs.Authorization("not a member of group %s", groupID)
	}
	return g, nil
}

// mutate applies fn to a fresh read of messageID and writes it back,
// retrying when a concurrent writer bumped the version first. fn may be
// called more than once and must be deterministic for a given input.
func (e *Engine) mutate(ctx context.Context, messageID string, fn func(*models.Message) error) (*models.Message, error) {
	for attempt := 1; ; attempt++ {
		msg, err := e.loadMessage(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if err := fn(msg); err != nil {
			return nil, err
		}
		err = e.store.UpdateMessage(ctx, msg)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, errs.Transient("failed to update message", err)
		}
		if attempt == updateAttempts {
			return nil, errs.Transient("failed to update message", fmt.Errorf("%s: %w after %d attempts", messageID, err, attempt))
		}
		e.log.Debug("realtime: Retrying message update", "message_id", messageID, "attempt", attempt)
	}
}
