// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

type NotificationType string

const (
	NotificationMessage NotificationType = "message"
	NotificationGroup   NotificationType = "group"
)

// Notification is an out-of-band notice for a user that may be offline.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	GroupID   string           `json:"groupId,omitempty"`
	MessageID string           `json:"messageId,omitempty"`
	SenderID  string           `json:"senderId,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	Seen      bool             `json:"seen"`
}
