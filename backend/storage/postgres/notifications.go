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

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/efchatnet/efgroups/backend/models"
)

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Type      string    `db:"type"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	GroupID   string    `db:"group_id"`
	MessageID string    `db:"message_id"`
	SenderID  string    `db:"sender_id"`
	Seen      bool      `db:"seen"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) AppendNotification(ctx context.Context, userID string, n models.Notification) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, group_id, message_id, sender_id, seen, created_at)
		VALUES (:id, :user_id, :type, :title, :body, :group_id, :message_id, :sender_id, :seen, :created_at)`,
		notificationRow{
			ID:        n.ID,
			UserID:    userID,
			Type:      string(n.Type),
			Title:     n.Title,
			Body:      n.Body,
			GroupID:   n.GroupID,
			MessageID: n.MessageID,
			SenderID:  n.SenderID,
			Seen:      n.Seen,
			CreatedAt: n.CreatedAt,
		})
	if err != nil {
		return fmt.Errorf("inserting notification for %s: %w", userID, err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, user_id, type, title, body, group_id, message_id, sender_id, seen, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Notification{
			ID:        r.ID,
			Type:      models.NotificationType(r.Type),
			Title:     r.Title,
			Body:      r.Body,
			GroupID:   r.GroupID,
			MessageID: r.MessageID,
			SenderID:  r.SenderID,
			CreatedAt: r.CreatedAt,
			Seen:      r.Seen,
		})
	}
	return out, nil
}

func (s *Store) ResetNotifications(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	return err
}
