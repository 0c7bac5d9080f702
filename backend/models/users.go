// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	// GroupID is the current group of a non-admin user.
	GroupID string `json:"groupId,omitempty"`
	// GroupJoinedAt bounds the user's visible history from below.
	GroupJoinedAt *time.Time `json:"groupJoinedAt,omitempty"`
	IsOnline      bool       `json:"isOnline"`
	LastSeen      *time.Time `json:"lastSeen,omitempty"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserSummary is the sender shape attached to outbound message payloads.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Email: u.Email}
}

// CanSee reports whether a message created at createdAt is inside the
// user's visible history.
func (u *User) CanSee(createdAt time.Time) bool {
	if u.GroupJoinedAt == nil {
		return true
	}
	return !createdAt.Before(*u.GroupJoinedAt)
}
