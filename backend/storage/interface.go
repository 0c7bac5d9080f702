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

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/efchatnet/efgroups/backend/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by UpdateMessage when the stored version no
	// longer matches the one the caller read.
	ErrConflict = errors.New("version conflict")
)

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	// UpdateMessage writes content, tags, reactions, edit and delete state
	// if the stored version equals msg.Version, then bumps msg.Version.
	UpdateMessage(ctx context.Context, msg *models.Message) error
	// ForwardedCopies returns every message whose forwardedFrom is originalID.
	ForwardedCopies(ctx context.Context, originalID string) ([]*models.Message, error)
	ListGroupMessages(ctx context.Context, q HistoryQuery) ([]*models.Message, error)
	PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error)

	ReceiptStore
}

// ReceiptStore tracks delivered/seen state. AddReceipts appends
// {userID, at} to the chosen list of every message of groupID in messageIDs
// that does not already contain userID, one atomic conditional update per
// message, and returns the ids that changed.
type ReceiptStore interface {
	AddReceipts(ctx context.Context, kind models.ReceiptKind, groupID, userID string, messageIDs []string, at time.Time) ([]string, error)
}

type HistoryQuery struct {
	GroupID string
	// Since, when set, excludes messages created before it.
	Since *time.Time
	// Before, when set, excludes messages created at or after it.
	Before *time.Time
	Limit  int
	// IncludeDeleted keeps soft-deleted messages in the result.
	IncludeDeleted bool
}

type GroupStore interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	// FindGroups returns groups whose id is in ids or whose region is in
	// regions. Region matching folds case when foldRegion is set.
	FindGroups(ctx context.Context, ids, regions []string, foldRegion bool) ([]*models.Group, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	RecordGroupActivity(ctx context.Context, groupID string, at time.Time) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error)
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
	// SetUserGroup moves the user to groupID; an empty groupID clears it.
	SetUserGroup(ctx context.Context, userID, groupID string, joinedAt *time.Time) error
}

type NotificationStore interface {
	AppendNotification(ctx context.Context, userID string, n models.Notification) error
	// ListNotifications returns at most limit notifications, newest first.
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	ResetNotifications(ctx context.Context, userID string) error
}

type Store interface {
	MessageStore
	GroupStore
	UserStore
	NotificationStore

	Ping(ctx context.Context) error
}
