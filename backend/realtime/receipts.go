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

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/rooms"
)

// MarkReceipts records that the session's user received or saw the given
// messages of req.GroupID. Each message gains at most one receipt per user;
// the group room (minus the acking session) hears about it only when at
// least one message changed. It returns the ids that changed.
func (e *Engine) MarkReceipts(ctx context.Context, sess *Session, kind models.ReceiptKind, req ReceiptRequest) ([]string, error) {
	batch := len(req.MessageIDs) > 0
	ids := req.MessageIDs
	if !batch {
		if req.MessageID == "" {
			return nil, errs.Validation("messageId or messageIds is required")
		}
		ids = []string{req.MessageID}
	}
	ids = compactIDs(ids)
	if len(ids) == 0 {
		return nil, errs.Validation("messageIds is empty")
	}
	if len(ids) > MaxBatchReceipts {
		return nil, errs.Validation("at most %d messageIds per batch", MaxBatchReceipts)
	}

	user, err := e.loadUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := e.requireMember(ctx, user, req.GroupID); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	modified, err := e.store.AddReceipts(ctx, kind, req.GroupID, user.ID, ids, now)
	if err != nil {
		// some ids may already be applied; nothing is rolled back
		if len(modified) == 0 {
			return nil, errs.Transient("failed to record receipts", err)
		}
		e.log.Warn("realtime: Receipt batch partially applied",
			"group_id", req.GroupID, "user_id", user.ID, "applied", len(modified), "error", err)
	}
	if len(modified) == 0 {
		return modified, nil
	}
	e.metrics.ReceiptUpdates.WithLabelValues(string(kind)).Add(float64(len(modified)))

	payload := ReceiptPayload{GroupID: req.GroupID, UserID: user.ID, Timestamp: now}
	event := receiptEvent(kind, batch)
	if batch {
		payload.MessageIDs = modified
	} else {
		payload.MessageID = modified[0]
	}
	e.broadcastExcept(rooms.Group(req.GroupID), sess.ID, event, payload)
	return modified, nil
}

func receiptEvent(kind models.ReceiptKind, batch bool) string {
	switch {
	case kind == models.ReceiptSeen && batch:
		return EventMessagesSeen
	case kind == models.ReceiptSeen:
		return EventMessageSeen
	case batch:
		return EventMessagesDelivered
	default:
		return EventMessageDelivered
	}
}

func compactIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
