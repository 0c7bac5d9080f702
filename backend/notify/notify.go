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

// Package notify delivers out-of-band notices to users. Every operation is
// best effort: failures are logged and reported as a false return, never
// as an error.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

const (
	DefaultTTL       = 24 * time.Hour
	DefaultCacheSize = 100
)

type Cache interface {
	Push(ctx context.Context, userID string, n models.Notification, max int, ttl time.Duration) (bool, error)
	Get(ctx context.Context, userID string) ([]models.Notification, bool, error)
	Replace(ctx context.Context, userID string, items []models.Notification, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

type Service struct {
	store     storage.NotificationStore
	cache     Cache
	log       *slog.Logger
	ttl       time.Duration
	cacheSize int
	now       func() time.Time
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithCacheSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.NotificationStore, cache Cache, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		cache:     cache,
		log:       log,
		ttl:       DefaultTTL,
		cacheSize: DefaultCacheSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send persists n for userID and mirrors it into the cache. The returned
// notification carries the assigned id and timestamp.
func (s *Service) Send(ctx context.Context, userID string, n models.Notification) (models.Notification, bool) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	if err := s.store.AppendNotification(ctx, userID, n); err != nil {
		s.log.Warn("notify: Failed to persist notification", "user_id", userID, "error", err)
		return n, false
	}

	if _, err := s.cache.Push(ctx, userID, n, s.cacheSize, s.ttl); err != nil {
		// store already has it; drop the cache entry so the next read reloads
		s.log.Warn("notify: Failed to cache notification", "user_id", userID, "error", err)
		s.invalidate(ctx, userID)
	}
	return n, true
}

// List returns the user's recent notifications, newest first. The cache is
// consulted first; a miss reloads it from the store.
func (s *Service) List(ctx context.Context, userID string) ([]models.Notification, bool) {
	items, hit, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.log.Warn("notify: Failed to read notification cache", "user_id", userID, "error", err)
	}
	if err == nil && hit {
		return items, true
	}

	items, err = s.store.ListNotifications(ctx, userID, s.cacheSize)
	if err != nil {
		s.log.Warn("notify: Failed to load notifications", "user_id", userID, "error", err)
		return nil, false
	}

	if err := s.cache.Replace(ctx, userID, items, s.ttl); err != nil {
		s.log.Warn("notify: Failed to repopulate notification cache", "user_id", userID, "error", err)
		return items, true
	}

	// A Send that lands between the read and the Replace finds no list to
	// push onto, so the snapshot may already be stale. Read again and drop
	// the entry if the store moved on.
	fresh, err := s.store.ListNotifications(ctx, userID, s.cacheSize)
	if err != nil {
		s.log.Warn("notify: Failed to verify notification cache", "user_id", userID, "error", err)
		s.invalidate(ctx, userID)
		return items, true
	}
	if !sameIDs(items, fresh) {
		s.invalidate(ctx, userID)
	}
	return fresh, true
}

func sameIDs(a, b []models.Notification) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func (s *Service) MarkSeen(ctx context.Context, userID string) bool {
	return s.reset(ctx, userID)
}

func (s *Service) Clear(ctx context.Context, userID string) bool {
	return s.reset(ctx, userID)
}

func (s *Service) reset(ctx context.Context, userID string) bool {
	s.invalidate(ctx, userID)
	if err := s.store.ResetNotifications(ctx, userID); err != nil {
		s.log.Warn("notify: Failed to reset notifications", "user_id", userID, "error", err)
		return false
	}
	return true
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("notify: Failed to drop notification cache", "user_id", userID, "error", err)
	}
}
