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

package models

import (
	"time"
)

const (
	MaxGroupManagers = 100
	MaxGroupUsers    = 1000
)

type GroupStats struct {
	MessageCount int64      `json:"messageCount"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	MemberCount  int        `json:"memberCount"`
}

type Group struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Region    string     `json:"region"`
	CreatedBy string     `json:"createdBy"`
	Managers  []string   `json:"managers"`
	Users     []string   `json:"users"`
	Stats     GroupStats `json:"stats"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Members returns managers and users without duplicates.
func (g *Group) Members() []string {
	seen := make(map[string]struct{}, len(g.Managers)+len(g.Users))
	out := make([]string, 0, len(g.Managers)+len(g.Users))
	for _, list := range [][]string{g.Managers, g.Users} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (g *Group) IsManager(userID string) bool {
	for _, id := range g.Managers {
		if id == userID {
			return true
		}
	}
	return false
}

func (g *Group) IsMember(userID string) bool {
	if g.IsManager(userID) {
		return true
	}
	for _, id := range g.Users {
		if id == userID {
			return true
		}
	}
	return false
}

// GroupSummary is the group shape attached to outbound message payloads.
type GroupSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

func (g *Group) Summary() GroupSummary {
	return GroupSummary{ID: g.ID, Name: g.Name, Region: g.Region}
}
