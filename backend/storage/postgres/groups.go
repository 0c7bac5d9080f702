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
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

const groupColumns = `id, name, region, created_by, managers, users,
	message_count, last_activity, created_at`

type groupRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Region       string         `db:"region"`
	CreatedBy    string         `db:"created_by"`
	Managers     pq.StringArray `db:"managers"`
	Users        pq.StringArray `db:"users"`
	MessageCount int64          `db:"message_count"`
	LastActivity *time.Time     `db:"last_activity"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r *groupRow) toModel() *models.Group {
	g := &models.Group{
		ID:        r.ID,
		Name:      r.Name,
		Region:    r.Region,
		CreatedBy: r.CreatedBy,
		Managers:  []string(r.Managers),
		Users:     []string(r.Users),
		Stats: models.GroupStats{
			MessageCount: r.MessageCount,
			LastActivity: r.LastActivity,
		},
		CreatedAt: r.CreatedAt,
	}
	g.Stats.MemberCount = len(g.Members())
	return g
}

func (s *Store) CreateGroup(ctx context.Context, group *models.Group) error {
	createdAt := group.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, region, created_by, managers, users, message_count, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		group.ID, group.Name, group.Region, group.CreatedBy,
		textArray(group.Managers), textArray(group.Users),
		group.Stats.MessageCount, group.Stats.LastActivity, createdAt)
	if err != nil {
		return fmt.Errorf("inserting group %s: %w", group.ID, err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var row groupRow
	err := s.db.GetContext(ctx, &row, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, groupID)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toModel(), nil
}

func (s *Store) FindGroups(ctx context.Context, ids, regions []string, foldRegion bool) ([]*models.Group, error) {
	if len(ids) == 0 && len(regions) == 0 {
		return nil, nil
	}
	regionExpr := "region"
	if foldRegion {
		regionExpr = "lower(region)"
		folded := make([]string, len(regions))
		for i, r := range regions {
			folded[i] = strings.ToLower(r)
		}
		regions = folded
	}

	var rows []groupRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+groupColumns+`
		FROM groups
		WHERE id = ANY($1) OR (region <> '' AND `+regionExpr+` = ANY($2))
		ORDER BY id`,
		textArray(ids), textArray(regions))
	if err != nil {
		return nil, err
	}
	out := make([]*models.Group, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups
		SET users = array_append(users, $2)
		WHERE id = $1
			AND NOT ($2 = ANY(users))
			AND NOT ($2 = ANY(managers))
			AND cardinality(users) < $3`,
		groupID, userID, models.MaxGroupUsers)
	if err != nil {
		return fmt.Errorf("adding %s to group %s: %w", userID, groupID, err)
	}
	n, err := affected(res)
	if err != nil || n > 0 {
		return err
	}

	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.IsMember(userID) {
		return nil
	}
	return fmt.Errorf("group %s is full", groupID)
}

// RemoveGroupMember never strips the creator from the managers list.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups
		SET users = array_remove(users, $2),
			managers = CASE WHEN created_by = $2 THEN managers ELSE array_remove(managers, $2) END
		WHERE id = $1`,
		groupID, userID)
	if err != nil {
		return fmt.Errorf("removing %s from group %s: %w", userID, groupID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) RecordGroupActivity(ctx context.Context, groupID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups
		SET message_count = message_count + 1, last_activity = $2
		WHERE id = $1`,
		groupID, at)
	if err != nil {
		return err
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
