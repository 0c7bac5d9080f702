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

import "context"

func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		// Users table
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL DEFAULT '',
			role VARCHAR(20) NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
			group_id VARCHAR(255),
			group_joined_at TIMESTAMPTZ,
			is_online BOOLEAN NOT NULL DEFAULT FALSE,
			last_seen TIMESTAMPTZ
		)`,

		// Groups table
		`CREATE TABLE IF NOT EXISTS groups (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			region VARCHAR(255) NOT NULL DEFAULT '',
			created_by VARCHAR(255) NOT NULL,
			managers TEXT[] NOT NULL DEFAULT '{}',
			users TEXT[] NOT NULL DEFAULT '{}',
			message_count BIGINT NOT NULL DEFAULT 0,
			last_activity TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT managers_limit CHECK (cardinality(managers) <= 100),
			CONSTRAINT users_limit CHECK (cardinality(users) <= 1000)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_groups_region
		ON groups(lower(region))`,

		// Messages table
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(255) PRIMARY KEY,
			sender_id VARCHAR(255) NOT NULL,
			group_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL DEFAULT '' CHECK (char_length(content) <= 4096),
			file JSONB,
			message_type VARCHAR(20) NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			reply_to VARCHAR(255) NOT NULL DEFAULT '',
			forwarded_from VARCHAR(255) NOT NULL DEFAULT '',
			forwarded_to_groups TEXT[] NOT NULL DEFAULT '{}',
			delivered_to JSONB NOT NULL DEFAULT '[]',
			seen_by JSONB NOT NULL DEFAULT '[]',
			reactions JSONB NOT NULL DEFAULT '[]',
			is_edited BOOLEAN NOT NULL DEFAULT FALSE,
			edited_at TIMESTAMPTZ,
			edit_count INTEGER NOT NULL DEFAULT 0,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_by VARCHAR(255) NOT NULL DEFAULT '',
			deleted_at TIMESTAMPTZ,
			delete_reason TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,

		// History paging
		`CREATE INDEX IF NOT EXISTS idx_messages_group_created
		ON messages(group_id, created_at DESC)`,

		// Cascade lookups
		`CREATE INDEX IF NOT EXISTS idx_messages_forwarded_from
		ON messages(forwarded_from) WHERE forwarded_from <> ''`,

		// Retention sweep
		`CREATE INDEX IF NOT EXISTS idx_messages_deleted_at
		ON messages(deleted_at) WHERE is_deleted`,

		// Notifications table
		`CREATE TABLE IF NOT EXISTS notifications (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			type VARCHAR(20) NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			group_id VARCHAR(255) NOT NULL DEFAULT '',
			message_id VARCHAR(255) NOT NULL DEFAULT '',
			sender_id VARCHAR(255) NOT NULL DEFAULT '',
			seen BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_notifications_user
		ON notifications(user_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}
