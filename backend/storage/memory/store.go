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

// Package memory is a process-local implementation of storage.Store used
// for development and tests. Messages live in an arena keyed by id with a
// side index from forwardedFrom to the ids of its copies.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

type Store struct {
	mu            sync.RWMutex
	messages      map[string]*models.Message
	copies        map[string][]string
	groups        map[string]*models.Group
	users         map[string]*models.User
	notifications map[string][]models.Notification
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		messages:      make(map[string]*models.Message),
		copies:        make(map[string][]string),
		groups:        make(map[string]*models.Group),
		users:         make(map[string]*models.User),
		notifications: make(map[string][]models.Notification),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	if msg.Version == 0 {
		msg.Version = 1
	}
	s.messages[msg.ID] = msg.Clone()
	if msg.ForwardedFrom != "" {
		s.copies[msg.ForwardedFrom] = append(s.copies[msg.ForwardedFrom], msg.ID)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return msg.Clone(), nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.messages[msg.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != msg.Version {
		return storage.ErrConflict
	}

	next := msg.Clone()
	// receipts are owned by AddReceipts
	next.DeliveredTo = stored.DeliveredTo
	next.SeenBy = stored.SeenBy
	next.Version = stored.Version + 1
	s.messages[msg.ID] = next
	msg.Version = next.Version
	return nil
}

func (s *Store) ForwardedCopies(ctx context.Context, originalID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.copies[originalID]
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}

func (s *Store) ListGroupMessages(ctx context.Context, q storage.HistoryQuery) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Message
	for _, msg := range s.messages {
		if msg.GroupID != q.GroupID {
			continue
		}
		if !q.IncludeDeleted && msg.Deleted.IsDeleted {
			continue
		}
		if q.Since != nil && msg.CreatedAt.Before(*q.Since) {
			continue
		}
		if q.Before != nil && !msg.CreatedAt.Before(*q.Before) {
			continue
		}
		out = append(out, msg.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, msg := range s.messages {
		if !msg.Deleted.IsDeleted || msg.Deleted.DeletedAt == nil || !msg.Deleted.DeletedAt.Before(deletedBefore) {
			continue
		}
		delete(s.messages, id)
		if msg.ForwardedFrom != "" {
			s.copies[msg.ForwardedFrom] = removeString(s.copies[msg.ForwardedFrom], id)
			if len(s.copies[msg.ForwardedFrom]) == 0 {
				delete(s.copies, msg.ForwardedFrom)
			}
		}
		purged++
	}
	return purged, nil
}

func (s *Store) AddReceipts(ctx context.Context, kind models.ReceiptKind, groupID, userID string, messageIDs []string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var modified []string
	for _, id := range messageIDs {
		msg, ok := s.messages[id]
		if !ok || msg.GroupID != groupID || msg.HasReceipt(kind, userID) {
			continue
		}
		r := models.Receipt{UserID: userID, Timestamp: at}
		if kind == models.ReceiptSeen {
			msg.SeenBy = append(msg.SeenBy, r)
		} else {
			msg.DeliveredTo = append(msg.DeliveredTo, r)
		}
		modified = append(modified, id)
	}
	return modified, nil
}

func (s *Store) CreateGroup(ctx context.Context, group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[group.ID]; exists {
		return fmt.Errorf("group %s already exists", group.ID)
	}
	g := cloneGroup(group)
	g.Stats.MemberCount = len(g.Members())
	s.groups[group.ID] = g
	return nil
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneGroup(g), nil
}

func (s *Store) FindGroups(ctx context.Context, ids, regions []string, foldRegion bool) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	regionSet := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		if foldRegion {
			r = strings.ToLower(r)
		}
		regionSet[r] = struct{}{}
	}

	var out []*models.Group
	for _, g := range s.groups {
		region := g.Region
		if foldRegion {
			region = strings.ToLower(region)
		}
		_, byID := idSet[g.ID]
		_, byRegion := regionSet[region]
		if byID || (byRegion && g.Region != "") {
			out = append(out, cloneGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return storage.ErrNotFound
	}
	if g.IsMember(userID) {
		return nil
	}
	if len(g.Users) >= models.MaxGroupUsers {
		return fmt.Errorf("group %s is full", groupID)
	}
	g.Users = append(g.Users, userID)
	g.Stats.MemberCount = len(g.Members())
	return nil
}

func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return storage.ErrNotFound
	}
	g.Users = removeString(g.Users, userID)
	if userID != g.CreatedBy {
		g.Managers = removeString(g.Managers, userID)
	}
	g.Stats.MemberCount = len(g.Members())
	return nil
}

func (s *Store) RecordGroupActivity(ctx context.Context, groupID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return storage.ErrNotFound
	}
	g.Stats.MessageCount++
	t := at
	g.Stats.LastActivity = &t
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *Store) GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			c := *u
			out[id] = &c
		}
	}
	return out, nil
}

func (s *Store) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	t := at
	u.IsOnline = online
	u.LastSeen = &t
	return nil
}

func (s *Store) SetUserGroup(ctx context.Context, userID, groupID string, joinedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.GroupID = groupID
	if joinedAt != nil {
		t := *joinedAt
		u.GroupJoinedAt = &t
	} else {
		u.GroupJoinedAt = nil
	}
	return nil
}

func (s *Store) AppendNotification(ctx context.Context, userID string, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications[userID] = append(s.notifications[userID], n)
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.notifications[userID]
	out := make([]models.Notification, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, list[i])
	}
	return out, nil
}

func (s *Store) ResetNotifications(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.notifications, userID)
	return nil
}

func cloneGroup(g *models.Group) *models.Group {
	c := *g
	c.Managers = append([]string(nil), g.Managers...)
	c.Users = append([]string(nil), g.Users...)
	if g.Stats.LastActivity != nil {
		t := *g.Stats.LastActivity
		c.Stats.LastActivity = &t
	}
	return &c
}

func removeString(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
