// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/efchatnet/efgroups/backend/models"
)

type cacheEntry struct {
	items     []models.Notification // newest first
	expiresAt time.Time
}

// NotificationCache mirrors the redis notification cache semantics in
// process: per-user lists with a TTL, pushes only land on existing lists.
type NotificationCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	now     func() time.Time
}

func NewNotificationCache() *NotificationCache {
	return &NotificationCache{entries: make(map[string]*cacheEntry), now: time.Now}
}

func (c *NotificationCache) live(userID string) *cacheEntry {
	e, ok := c.entries[userID]
	if !ok {
		return nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, userID)
		return nil
	}
	return e
}

func (c *NotificationCache) Push(ctx context.Context, userID string, n models.Notification, max int, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(userID)
	if e == nil {
		return false, nil
	}
	e.items = append([]models.Notification{n}, e.items...)
	if max > 0 && len(e.items) > max {
		e.items = e.items[:max]
	}
	e.expiresAt = c.now().Add(ttl)
	return true, nil
}

func (c *NotificationCache) Get(ctx context.Context, userID string) ([]models.Notification, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(userID)
	if e == nil {
		return nil, false, nil
	}
	return append([]models.Notification(nil), e.items...), true, nil
}

func (c *NotificationCache) Replace(ctx context.Context, userID string, items []models.Notification, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// redis cannot hold an empty list; mirror that
	if len(items) == 0 {
		delete(c.entries, userID)
		return nil
	}
	c.entries[userID] = &cacheEntry{
		items:     append([]models.Notification(nil), items...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *NotificationCache) Delete(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, userID)
	return nil
}
