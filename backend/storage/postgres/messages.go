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
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

// jsonb carries raw JSON to and from jsonb columns. It is sent as text
// so the driver does not encode it as bytea.
type jsonb []byte

func (j jsonb) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

func (j *jsonb) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = jsonb(v)
	default:
		return fmt.Errorf("cannot scan %T into jsonb", src)
	}
	return nil
}

func marshalList[T any](v []T) (jsonb, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	return jsonb(b), err
}

func textArray(v []string) pq.StringArray {
	if v == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(v)
}

const messageColumns = `id, sender_id, group_id, content, file, message_type, tags,
	reply_to, forwarded_from, forwarded_to_groups, delivered_to, seen_by, reactions,
	is_edited, edited_at, edit_count, is_deleted, deleted_by, deleted_at, delete_reason,
	version, created_at, updated_at`

type messageRow struct {
	ID                string         `db:"id"`
	SenderID          string         `db:"sender_id"`
	GroupID           string         `db:"group_id"`
	Content           string         `db:"content"`
	File              jsonb          `db:"file"`
	MessageType       string         `db:"message_type"`
	Tags              pq.StringArray `db:"tags"`
	ReplyTo           string         `db:"reply_to"`
	ForwardedFrom     string         `db:"forwarded_from"`
	ForwardedToGroups pq.StringArray `db:"forwarded_to_groups"`
	DeliveredTo       jsonb          `db:"delivered_to"`
	SeenBy            jsonb          `db:"seen_by"`
	Reactions         jsonb          `db:"reactions"`
	IsEdited          bool           `db:"is_edited"`
	EditedAt          *time.Time     `db:"edited_at"`
	EditCount         int            `db:"edit_count"`
	IsDeleted         bool           `db:"is_deleted"`
	DeletedBy         string         `db:"deleted_by"`
	DeletedAt         *time.Time     `db:"deleted_at"`
	DeleteReason      string         `db:"delete_reason"`
	Version           int64          `db:"version"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func toMessageRow(m *models.Message) (*messageRow, error) {
	row := &messageRow{
		ID:                m.ID,
		SenderID:          m.SenderID,
		GroupID:           m.GroupID,
		Content:           m.Content,
		MessageType:       string(m.MessageType),
		Tags:              textArray(m.Tags),
		ReplyTo:           m.ReplyTo,
		ForwardedFrom:     m.ForwardedFrom,
		ForwardedToGroups: textArray(m.ForwardedToGroups),
		IsEdited:          m.Edited.IsEdited,
		EditedAt:          m.Edited.EditedAt,
		EditCount:         m.Edited.EditCount,
		IsDeleted:         m.Deleted.IsDeleted,
		DeletedBy:         m.Deleted.DeletedBy,
		DeletedAt:         m.Deleted.DeletedAt,
		DeleteReason:      m.Deleted.Reason,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	var err error
	if m.File != nil {
		if row.File, err = json.Marshal(m.File); err != nil {
			return nil, fmt.Errorf("encoding attachment: %w", err)
		}
	}
	if row.DeliveredTo, err = marshalList(m.DeliveredTo); err != nil {
		return nil, fmt.Errorf("encoding delivered receipts: %w", err)
	}
	if row.SeenBy, err = marshalList(m.SeenBy); err != nil {
		return nil, fmt.Errorf("encoding seen receipts: %w", err)
	}
	if row.Reactions, err = marshalList(m.Reactions); err != nil {
		return nil, fmt.Errorf("encoding reactions: %w", err)
	}
	return row, nil
}

func (r *messageRow) toModel() (*models.Message, error) {
	m := &models.Message{
		ID:                r.ID,
		SenderID:          r.SenderID,
		GroupID:           r.GroupID,
		Content:           r.Content,
		MessageType:       models.MessageType(r.MessageType),
		Tags:              []string(r.Tags),
		ReplyTo:           r.ReplyTo,
		ForwardedFrom:     r.ForwardedFrom,
		ForwardedToGroups: []string(r.ForwardedToGroups),
		Edited: models.EditInfo{
			IsEdited:  r.IsEdited,
			EditedAt:  r.EditedAt,
			EditCount: r.EditCount,
		},
		Deleted: models.DeleteInfo{
			IsDeleted: r.IsDeleted,
			DeletedBy: r.DeletedBy,
			DeletedAt: r.DeletedAt,
			Reason:    r.DeleteReason,
		},
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.File) > 0 {
		m.File = &models.Attachment{}
		if err := json.Unmarshal(r.File, m.File); err != nil {
			return nil, fmt.Errorf("decoding attachment of %s: %w", r.ID, err)
		}
	}
	for _, col := range []struct {
		raw  jsonb
		dest any
	}{
		{r.DeliveredTo, &m.DeliveredTo},
		{r.SeenBy, &m.SeenBy},
		{r.Reactions, &m.Reactions},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dest); err != nil {
			return nil, fmt.Errorf("decoding message %s: %w", r.ID, err)
		}
	}
	return m, nil
}

func toMessages(rows []messageRow) ([]*models.Message, error) {
	out := make([]*models.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.Version == 0 {
		msg.Version = 1
	}
	row, err := toMessageRow(msg)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (:id, :sender_id, :group_id, :content, :file, :message_type, :tags,
			:reply_to, :forwarded_from, :forwarded_to_groups, :delivered_to, :seen_by, :reactions,
			:is_edited, :edited_at, :edit_count, :is_deleted, :deleted_by, :deleted_at, :delete_reason,
			:version, :created_at, :updated_at)`,
		row)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toModel()
}

// UpdateMessage leaves delivered_to and seen_by alone; those lists are
// only written by AddReceipts.
func (s *Store) UpdateMessage(ctx context.Context, msg *models.Message) error {
	row, err := toMessageRow(msg)
	if err != nil {
		return err
	}

	var version int64
	err = s.db.QueryRowxContext(ctx, `
		UPDATE messages
		SET content = $1, tags = $2, reactions = $3,
			is_edited = $4, edited_at = $5, edit_count = $6,
			is_deleted = $7, deleted_by = $8, deleted_at = $9, delete_reason = $10,
			updated_at = $11, version = version + 1
		WHERE id = $12 AND version = $13
		RETURNING version`,
		row.Content, row.Tags, row.Reactions,
		row.IsEdited, row.EditedAt, row.EditCount,
		row.IsDeleted, row.DeletedBy, row.DeletedAt, row.DeleteReason,
		row.UpdatedAt, row.ID, row.Version).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, msg.ID); err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("updating message %s: %w", msg.ID, err)
	}
	msg.Version = version
	return nil
}

func (s *Store) ForwardedCopies(ctx context.Context, originalID string) ([]*models.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE forwarded_from = $1
		ORDER BY created_at, id`,
		originalID)
	if err != nil {
		return nil, err
	}
	return toMessages(rows)
}

func (s *Store) ListGroupMessages(ctx context.Context, q storage.HistoryQuery) ([]*models.Message, error) {
	conds := []string{"group_id = $1"}
	args := []any{q.GroupID}
	if !q.IncludeDeleted {
		conds = append(conds, "NOT is_deleted")
	}
	if q.Since != nil {
		args = append(args, *q.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if q.Before != nil {
		args = append(args, *q.Before)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toMessages(rows)
}

func (s *Store) PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE is_deleted AND deleted_at < $1`,
		deletedBefore)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func (s *Store) AddReceipts(ctx context.Context, kind models.ReceiptKind, groupID, userID string, messageIDs []string, at time.Time) ([]string, error) {
	var column string
	switch kind {
	case models.ReceiptDelivered:
		column = "delivered_to"
	case models.ReceiptSeen:
		column = "seen_by"
	default:
		return nil, fmt.Errorf("unknown receipt kind %q", kind)
	}
	if len(messageIDs) == 0 {
		return nil, nil
	}

	// Each row update is atomic, so a receipt is appended at most once
	// per user even under concurrent acks.
	query := fmt.Sprintf(`
		UPDATE messages
		SET %[1]s = %[1]s || jsonb_build_array(jsonb_build_object('userId', $1::text, 'timestamp', $2::text))
		WHERE id = ANY($3) AND group_id = $4
			AND NOT %[1]s @> jsonb_build_array(jsonb_build_object('userId', $1::text))
		RETURNING id`, column)

	var changed []string
	err := s.db.SelectContext(ctx, &changed, query,
		userID, at.UTC().Format(time.RFC3339Nano), pq.Array(messageIDs), groupID)
	if err != nil {
		return nil, fmt.Errorf("recording %s receipts: %w", kind, err)
	}

	hit := make(map[string]struct{}, len(changed))
	for _, id := range changed {
		hit[id] = struct{}{}
	}
	ordered := make([]string, 0, len(changed))
	for _, id := range messageIDs {
		if _, ok := hit[id]; ok {
			ordered = append(ordered, id)
			delete(hit, id)
		}
	}
	return ordered, nil
}
