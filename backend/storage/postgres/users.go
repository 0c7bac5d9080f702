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
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

const userColumns = `id, username, email, role, group_id, group_joined_at, is_online, last_seen`

type userRow struct {
	ID            string         `db:"id"`
	Username      string         `db:"username"`
	Email         string         `db:"email"`
	Role          string         `db:"role"`
	GroupID       sql.NullString `db:"group_id"`
	GroupJoinedAt *time.Time     `db:"group_joined_at"`
	IsOnline      bool           `db:"is_online"`
	LastSeen      *time.Time     `db:"last_seen"`
}

func (r *userRow) toModel() *models.User {
	return &models.User{
		ID:            r.ID,
		Username:      r.Username,
		Email:         r.Email,
		Role:          models.Role(r.Role),
		GroupID:       r.GroupID.String,
		GroupJoinedAt: r.GroupJoinedAt,
		IsOnline:      r.IsOnline,
		LastSeen:      r.LastSeen,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	role := user.Role
	if role == "" {
		role = models.RoleUser
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.Email, string(role),
		nullable(user.GroupID), user.GroupJoinedAt, user.IsOnline, user.LastSeen)
	if err != nil {
		return fmt.Errorf("inserting user %s: %w", user.ID, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toModel(), nil
}

func (s *Store) GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1)`,
		pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = rows[i].toModel()
	}
	return out, nil
}

func (s *Store) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1`,
		userID, online, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) SetUserGroup(ctx context.Context, userID, groupID string, joinedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET group_id = $2, group_joined_at = $3 WHERE id = $1`,
		userID, nullable(groupID), joinedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
