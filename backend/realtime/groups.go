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
	"errors"
	"fmt"
	"time"

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/rooms"
	"github.com/efchatnet/efgroups/backend/storage"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	GroupJoined = "joined"
	GroupLeft   = "left"
)

// Subscribe adds the session to a group room it is allowed to read.
func (e *Engine) Subscribe(ctx context.Context, sess *Session, groupID string) error {
	user, err := e.loadUser(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if _, err := e.requireMember(ctx, user, groupID); err != nil {
		return err
	}
	if err := e.emit.Join(sess.ID, rooms.Group(groupID)); err != nil {
		return errs.Transient("failed to join room", err)
	}
	return nil
}

func (e *Engine) Unsubscribe(sess *Session, groupID string) error {
	if groupID == "" {
		return errs.Validation("groupId is required")
	}
	if err := e.emit.Leave(sess.ID, rooms.Group(groupID)); err != nil {
		return errs.Transient("failed to leave room", err)
	}
	return nil
}

// JoinGroup makes groupID the user's current group and starts their
// visible history now. A user already in the group keeps the original
// join time. Users hold one group at a time: switching drops the previous
// membership unless the user created that group. Admins keep theirs.
func (e *Engine) JoinGroup(ctx context.Context, userID, groupID string) (*models.Group, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := e.loadGroup(ctx, groupID); err != nil {
		return nil, err
	}
	if err := e.leavePrevious(ctx, user, groupID); err != nil {
		return nil, err
	}

	if err := e.store.AddGroupMember(ctx, groupID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("group %s not found", groupID)
		}
		return nil, errs.Transient("failed to join group", err)
	}
	if user.GroupID != groupID || user.GroupJoinedAt == nil {
		now := e.now().UTC()
		if err := e.store.SetUserGroup(ctx, userID, groupID, &now); err != nil {
			return nil, errs.Transient("failed to update user group", err)
		}
	}

	g, err := e.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	e.groupChanged(ctx, g, user, GroupJoined)
	return g, nil
}

// leavePrevious removes a non-admin from their current group before they
// move to next.
func (e *Engine) leavePrevious(ctx context.Context, user *models.User, next string) error {
	if user.IsAdmin() || user.GroupID == "" || user.GroupID == next {
		return nil
	}
	prev, err := e.store.GetGroup(ctx, user.GroupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errs.Transient("failed to load group", err)
	}
	if prev.CreatedBy == user.ID || !prev.IsMember(user.ID) {
		return nil
	}

	if err := e.store.RemoveGroupMember(ctx, prev.ID, user.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return errs.Transient("failed to leave previous group", err)
	}
	if g, err := e.store.GetGroup(ctx, prev.ID); err == nil {
		prev = g
	}
	e.groupChanged(ctx, prev, user, GroupLeft)
	return nil
}

// LeaveGroup removes the user from groupID and clears their current group
// if it was this one.
func (e *Engine) LeaveGroup(ctx context.Context, userID, groupID string) (*models.Group, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	g, err := e.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.CreatedBy == userID {
		return nil, errs.Validation("the group creator cannot leave")
	}
	if !g.IsMember(userID) {
		return nil, errs.Validation("not a member of group %s", groupID)
	}

	if err := e.store.RemoveGroupMember(ctx, groupID, userID); err != nil {
		return nil, errs.Transient("failed to leave group", err)
	}
	if user.GroupID == groupID {
		if err := e.store.SetUserGroup(ctx, userID, "", nil); err != nil {
			return nil, errs.Transient("failed to update user group", err)
		}
	}

	if g, err = e.loadGroup(ctx, groupID); err != nil {
		return nil, err
	}
	e.groupChanged(ctx, g, user, GroupLeft)
	return g, nil
}

// groupChanged broadcasts group:updated and notifies the managers.
func (e *Engine) groupChanged(ctx context.Context, g *models.Group, user *models.User, action string) {
	e.broadcast(rooms.Group(g.ID), EventGroupUpdated, GroupUpdatedPayload{
		GroupID:     g.ID,
		Action:      action,
		UserID:      user.ID,
		MemberCount: g.Stats.MemberCount,
	})

	managers := append([]string(nil), g.Managers...)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx := context.WithoutCancel(ctx)
		for _, managerID := range managers {
			if managerID == user.ID {
				continue
			}
			n, sent := e.notifier.Send(ctx, managerID, models.Notification{
				Type:     models.NotificationGroup,
				Title:    g.Name,
				Body:     fmt.Sprintf("%s %s the group", user.Username, action),
				GroupID:  g.ID,
				SenderID: user.ID,
			})
			if !sent {
				e.metrics.NotificationFailures.Inc()
			}
			e.broadcast(rooms.User(managerID), EventNotificationNew, n)
		}
	}()
}

// Members returns groupID with the summaries of its members. Members
// without a user record keep only their id.
func (e *Engine) Members(ctx context.Context, userID, groupID string) (*models.Group, []models.UserSummary, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	g, err := e.requireMember(ctx, user, groupID)
	if err != nil {
		return nil, nil, err
	}

	ids := g.Members()
	users, err := e.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, nil, errs.Transient("failed to load members", err)
	}
	out := make([]models.UserSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, u.Summary())
			continue
		}
		out = append(out, models.UserSummary{ID: id})
	}
	return g, out, nil
}

type HistoryRequest struct {
	GroupID string
	Limit   int
	Before  *time.Time
}

// History returns a page of group messages newest first, limited to what
// the user may see: nothing deleted and nothing created before they joined
// the group.
func (e *Engine) History(ctx context.Context, userID string, req HistoryRequest) ([]*models.MessageView, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	g, err := e.requireMember(ctx, user, req.GroupID)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	q := storage.HistoryQuery{GroupID: g.ID, Before: req.Before, Limit: limit}
	if user.GroupID == g.ID {
		q.Since = user.GroupJoinedAt
	}

	msgs, err := e.store.ListGroupMessages(ctx, q)
	if err != nil {
		return nil, errs.Transient("failed to load history", err)
	}
	return e.populate(ctx, g, msgs), nil
}

// populate attaches sender and group summaries. Senders that no longer
// exist keep only their id.
func (e *Engine) populate(ctx context.Context, g *models.Group, msgs []*models.Message) []*models.MessageView {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	senders, err := e.store.GetUsers(ctx, ids)
	if err != nil {
		e.log.Warn("realtime: Failed to load message senders", "group_id", g.ID, "error", err)
		senders = map[string]*models.User{}
	}

	out := make([]*models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := &models.MessageView{Message: m, Group: g.Summary(), IsForwarded: m.ForwardedFrom != ""}
		if u, ok := senders[m.SenderID]; ok {
			v.Sender = u.Summary()
		} else {
			v.Sender = models.UserSummary{ID: m.SenderID}
		}
		out = append(out, v)
	}
	return out
}
