// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efgroups/backend/models"
)

const (
	// notif:{userId} - list of JSON notifications, newest first
	notificationPrefix = "notif:"
)

// NotificationCache keeps each user's most recent notifications in a
// capped, expiring redis list. It is an accelerator only; the persisted
// list in the main store is authoritative.
type NotificationCache struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewNotificationCache(rdb *redis.Client, log *slog.Logger) *NotificationCache {
	return &NotificationCache{rdb: rdb, log: log}
}

// Push prepends n to an existing cached list and trims it to max entries.
// A missing list is left missing so the next read repopulates it from the
// store; it reports whether the list existed.
func (c *NotificationCache) Push(ctx context.Context, userID string, n models.Notification, max int, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := notificationPrefix + userID
	pipe := c.rdb.TxPipeline()
	pushed := pipe.LPushX(ctx, key, data)
	if max > 0 {
		pipe.LTrim(ctx, key, 0, int64(max-1))
	}
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to push notification: %w", err)
	}
	return pushed.Val() > 0, nil
}

// Get returns the cached list and whether the key existed.
func (c *NotificationCache) Get(ctx context.Context, userID string) ([]models.Notification, bool, error) {
	key := notificationPrefix + userID

	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check notification cache: %w", err)
	}
	if exists == 0 {
		return nil, false, nil
	}

	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read notification cache: %w", err)
	}

	out := make([]models.Notification, 0, len(raw))
	for _, item := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			c.log.Warn("redis: Skipping malformed cached notification", "user_id", userID, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out, true, nil
}

// Replace overwrites the cached list with items (newest first).
func (c *NotificationCache) Replace(ctx context.Context, userID string, items []models.Notification, ttl time.Duration) error {
	key := notificationPrefix + userID

	values := make([]interface{}, 0, len(items))
	for _, n := range items {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		values = append(values, data)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to repopulate notification cache: %w", err)
	}
	return nil
}

func (c *NotificationCache) Delete(ctx context.Context, userID string) error {
	if err := c.rdb.Del(ctx, notificationPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to clear notification cache: %w", err)
	}
	return nil
}
