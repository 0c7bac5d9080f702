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
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/rooms"
	"github.com/efchatnet/efgroups/backend/tags"
)

const previewLength = 120

var errSkip = errors.New("skip")

// SendMessage validates, persists and broadcasts a new message, persists a
// copy in every forwarding target, and starts member notification in the
// background. The result is returned once every copy is persisted.
func (e *Engine) SendMessage(ctx context.Context, sess *Session, req SendRequest) (SendResult, error) {
	msgType, err := models.Classify(req.Content, req.File)
	if err != nil {
		return SendResult{}, err
	}
	if req.File != nil && e.limits.MaxAttachmentSize > 0 && req.File.Size > e.limits.MaxAttachmentSize {
		return SendResult{}, errs.Validation("attachment exceeds %s", humanize.IBytes(uint64(e.limits.MaxAttachmentSize)))
	}

	sender, err := e.loadUser(ctx, sess.UserID)
	if err != nil {
		return SendResult{}, err
	}

	msgTags := tags.Extract(req.Content)
	targets, err := e.resolver.Resolve(ctx, sender, req.GroupID, req.TargetGroups, msgTags)
	if err != nil {
		if errs.KindOf(err) == errs.KindInternal {
			return SendResult{}, errs.Transient("failed to resolve groups", err)
		}
		return SendResult{}, err
	}
	primary := targets.Primary
	if !sender.IsAdmin() && !primary.IsMember(sender.ID) {
		return SendResult{}, errs.Authorization("not a member of group %s", primary.ID)
	}

	now := e.now().UTC()
	msg := &models.Message{
		ID:                uuid.New().String(),
		SenderID:          sender.ID,
		GroupID:           primary.ID,
		Content:           req.Content,
		File:              req.File,
		MessageType:       msgType,
		Tags:              msgTags,
		ReplyTo:           req.ReplyTo,
		ForwardedToGroups: targets.SecondaryIDs(),
		DeliveredTo:       []models.Receipt{},
		SeenBy:            []models.Receipt{},
		Reactions:         []models.Reaction{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return SendResult{}, errs.Transient("failed to save message", err)
	}
	e.metrics.MessagesSent.Inc()
	e.recordActivity(ctx, primary.ID, now)

	view := &models.MessageView{Message: msg, Sender: sender.Summary(), Group: primary.Summary()}
	delivered := e.broadcast(rooms.Group(primary.ID), EventMessageNew, view)

	origin := primary.Summary()
	forwarded := make([]*models.Message, 0, len(targets.Secondary))
	for _, g := range targets.Secondary {
		cp := forwardCopy(msg, g.ID)
		if err := e.store.CreateMessage(ctx, cp); err != nil {
			e.log.Warn("realtime: Failed to persist forwarded copy",
				"message_id", msg.ID, "group_id", g.ID, "error", err)
			continue
		}
		e.metrics.MessagesForwarded.Inc()
		e.recordActivity(ctx, g.ID, now)
		forwarded = append(forwarded, cp)

		e.broadcast(rooms.Group(g.ID), EventMessageNew, &models.MessageView{
			Message:       cp,
			Sender:        sender.Summary(),
			Group:         g.Summary(),
			IsForwarded:   true,
			OriginalGroup: &origin,
		})
	}

	groups := append([]*models.Group{primary}, targets.Secondary...)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		e.notifyMembers(context.WithoutCancel(ctx), sender, msg, forwarded, groups)
	}()

	return SendResult{
		MessageID:        msg.ID,
		Message:          view,
		DeliveredPrimary: delivered,
		ForwardedCount:   len(forwarded),
		Timestamp:        now,
	}, nil
}

func forwardCopy(msg *models.Message, groupID string) *models.Message {
	cp := msg.Clone()
	cp.ID = uuid.New().String()
	cp.GroupID = groupID
	cp.ForwardedFrom = msg.ID
	cp.ForwardedToGroups = nil
	cp.Version = 0
	return cp
}

func (e *Engine) recordActivity(ctx context.Context, groupID string, at time.Time) {
	if err := e.store.RecordGroupActivity(ctx, groupID, at); err != nil {
		e.log.Warn("realtime: Failed to record group activity", "group_id", groupID, "error", err)
	}
}

// notifyMembers sends a notification and a notification:new push to every
// member of each group except the sender. Failures are per recipient.
func (e *Engine) notifyMembers(ctx context.Context, sender *models.User, primary *models.Message, copies []*models.Message, groups []*models.Group) {
	messageIn := map[string]string{primary.GroupID: primary.ID}
	for _, cp := range copies {
		messageIn[cp.GroupID] = cp.ID
	}

	body := preview(primary)
	for _, g := range groups {
		messageID, ok := messageIn[g.ID]
		if !ok {
			// copy was never persisted
			continue
		}
		for _, memberID := range g.Members() {
			if memberID == sender.ID {
				continue
			}
			n, sent := e.notifier.Send(ctx, memberID, models.Notification{
				Type:      models.NotificationMessage,
				Title:     fmt.Sprintf("%s in %s", sender.Username, g.Name),
				Body:      body,
				GroupID:   g.ID,
				MessageID: messageID,
				SenderID:  sender.ID,
			})
			if !sent {
				e.metrics.NotificationFailures.Inc()
			}
			e.broadcast(rooms.User(memberID), EventNotificationNew, n)
		}
	}
}

func preview(msg *models.Message) string {
	text := strings.TrimSpace(msg.Content)
	if text == "" && msg.File != nil {
		return "sent an attachment"
	}
	r := []rune(text)
	if len(r) > previewLength {
		return string(r[:previewLength]) + "…"
	}
	return text
}

// EditMessage rewrites the content of the sender's own message and of all
// its forwarded copies. The edit window is checked once against the time
// the call started.
func (e *Engine) EditMessage(ctx context.Context, sess *Session, req EditRequest) error {
	now := e.now().UTC()
	newTags := tags.Extract(req.Content)

	msg, err := e.mutate(ctx, req.MessageID, func(m *models.Message) error {
		if m.SenderID != sess.UserID {
			return errs.Authorization("only the sender can edit a message")
		}
		if m.Deleted.IsDeleted {
			return errs.Validation("message has been deleted")
		}
		if now.Sub(m.CreatedAt) > e.limits.EditWindow {
			return errs.Validation("edit window of %s has passed", e.limits.EditWindow)
		}
		if m.Edited.EditCount >= e.limits.MaxEdits {
			return errs.Validation("message cannot be edited more than %d times", e.limits.MaxEdits)
		}
		if _, err := models.Classify(req.Content, m.File); err != nil {
			return err
		}
		applyEdit(m, req.Content, newTags, now)
		return nil
	})
	if err != nil {
		return err
	}
	e.broadcast(rooms.Group(msg.GroupID), EventMessageEdited, editedPayload(msg))

	e.cascade(ctx, msg.ID, "edit", func(cp *models.Message) error {
		if cp.Deleted.IsDeleted {
			return errSkip
		}
		applyEdit(cp, req.Content, newTags, now)
		return nil
	}, func(cp *models.Message) {
		e.broadcast(rooms.Group(cp.GroupID), EventMessageEdited, editedPayload(cp))
	})
	return nil
}

func applyEdit(m *models.Message, content string, msgTags []string, at time.Time) {
	t := at
	m.Content = content
	m.Tags = msgTags
	m.Edited = models.EditInfo{IsEdited: true, EditedAt: &t, EditCount: m.Edited.EditCount + 1}
	m.UpdatedAt = at
}

func editedPayload(m *models.Message) EditedPayload {
	return EditedPayload{
		MessageID: m.ID,
		GroupID:   m.GroupID,
		Content:   m.Content,
		Tags:      m.Tags,
		Edited:    m.Edited,
	}
}

// DeleteMessage soft-deletes a message and its forwarded copies. The
// sender, a manager of the message's group, or an admin may delete.
func (e *Engine) DeleteMessage(ctx context.Context, sess *Session, req DeleteRequest) error {
	now := e.now().UTC()
	actor, err := e.loadUser(ctx, sess.UserID)
	if err != nil {
		return err
	}

	var group *models.Group
	msg, err := e.mutate(ctx, req.MessageID, func(m *models.Message) error {
		if m.Deleted.IsDeleted {
			return errs.Validation("message has already been deleted")
		}
		if m.SenderID != actor.ID && !actor.IsAdmin() {
			if group == nil {
				g, err := e.loadGroup(ctx, m.GroupID)
				if err != nil {
					return err
				}
				group = g
			}
			if !group.IsManager(actor.ID) {
				return errs.Authorization("not allowed to delete this message")
			}
		}
		applyDelete(m, actor.ID, req.Reason, now)
		return nil
	})
	if err != nil {
		return err
	}
	e.broadcast(rooms.Group(msg.GroupID), EventMessageDeleted, deletedPayload(msg))

	e.cascade(ctx, msg.ID, "delete", func(cp *models.Message) error {
		if cp.Deleted.IsDeleted {
			return errSkip
		}
		applyDelete(cp, actor.ID, req.Reason, now)
		return nil
	}, func(cp *models.Message) {
		e.broadcast(rooms.Group(cp.GroupID), EventMessageDeleted, deletedPayload(cp))
	})
	return nil
}

func applyDelete(m *models.Message, by, reason string, at time.Time) {
	t := at
	m.Deleted = models.DeleteInfo{IsDeleted: true, DeletedBy: by, DeletedAt: &t, Reason: reason}
	m.UpdatedAt = at
}

func deletedPayload(m *models.Message) DeletedPayload {
	return DeletedPayload{
		MessageID: m.ID,
		GroupID:   m.GroupID,
		DeletedBy: m.Deleted.DeletedBy,
		Reason:    m.Deleted.Reason,
		DeletedAt: *m.Deleted.DeletedAt,
	}
}

// cascade applies fn to every forwarded copy of originalID and calls done
// for each copy written. Failures are logged per copy.
func (e *Engine) cascade(ctx context.Context, originalID, op string, fn func(*models.Message) error, done func(*models.Message)) {
	copies, err := e.store.ForwardedCopies(ctx, originalID)
	if err != nil {
		e.log.Warn("realtime: Failed to load forwarded copies", "message_id", originalID, "op", op, "error", err)
		return
	}
	for _, cp := range copies {
		updated, err := e.mutate(ctx, cp.ID, fn)
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			e.log.Warn("realtime: Failed to cascade to forwarded copy",
				"message_id", originalID, "copy_id", cp.ID, "op", op, "error", err)
			continue
		}
		done(updated)
	}
}

// React toggles the (user, emoji) reaction on a message and broadcasts the
// full reaction list.
func (e *Engine) React(ctx context.Context, sess *Session, req ReactRequest) error {
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		return errs.Validation("emoji is required")
	}
	user, err := e.loadUser(ctx, sess.UserID)
	if err != nil {
		return err
	}

	checked := false
	added := false
	now := e.now().UTC()
	msg, err := e.mutate(ctx, req.MessageID, func(m *models.Message) error {
		if !checked {
			if _, err := e.requireMember(ctx, user, m.GroupID); err != nil {
				return err
			}
			checked = true
		}
		if m.Deleted.IsDeleted {
			return errs.Validation("message has been deleted")
		}
		added = m.ToggleReaction(user.ID, emoji, now)
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	action := ReactionRemoved
	if added {
		action = ReactionAdded
	}
	e.broadcast(rooms.Group(msg.GroupID), EventMessageReaction, ReactionPayload{
		MessageID: msg.ID,
		GroupID:   msg.GroupID,
		UserID:    user.ID,
		Emoji:     emoji,
		Action:    action,
		Reactions: msg.Reactions,
	})
	return nil
}
