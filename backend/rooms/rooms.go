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

// Package rooms maps users and groups to socket room names and decides
// which groups a message fans out to.
package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

const Admin = "admin:room"

func Group(groupID string) string {
	return "group:" + groupID
}

func User(userID string) string {
	return "user:" + userID
}

// ForUser lists the rooms a connecting user joins.
func ForUser(u *models.User) []string {
	out := []string{User(u.ID)}
	if u.GroupID != "" {
		out = append(out, Group(u.GroupID))
	}
	if u.IsAdmin() {
		out = append(out, Admin)
	}
	return out
}

// Targets is the outcome of fan-out resolution for one send.
type Targets struct {
	Primary   *models.Group
	Secondary []*models.Group
}

// SecondaryIDs returns the ids of the forwarded-to groups in order.
func (t Targets) SecondaryIDs() []string {
	ids := make([]string, 0, len(t.Secondary))
	for _, g := range t.Secondary {
		ids = append(ids, g.ID)
	}
	return ids
}

type Resolver struct {
	groups     storage.GroupStore
	maxTargets int
}

func NewResolver(groups storage.GroupStore, maxTargets int) *Resolver {
	if maxTargets <= 0 || maxTargets > models.MaxForwardTargets {
		maxTargets = models.MaxForwardTargets
	}
	return &Resolver{groups: groups, maxTargets: maxTargets}
}

// Resolve picks the primary group (explicit groupID, else the sender's
// current group) and the forwarding targets. Explicit targetGroups entries
// match a group id or, failing that, a region exactly; without them, tags
// match regions case-insensitively.
func (r *Resolver) Resolve(ctx context.Context, sender *models.User, groupID string, targetGroups, tags []string) (Targets, error) {
	if groupID == "" {
		groupID = sender.GroupID
	}
	if groupID == "" {
		return Targets{}, errs.Validation("groupId is required")
	}

	primary, err := r.groups.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return Targets{}, errs.NotFound("group %s not found", groupID)
	}
	if err != nil {
		return Targets{}, fmt.Errorf("loading group %s: %w", groupID, err)
	}

	var candidates []*models.Group
	switch {
	case len(targetGroups) > 0:
		candidates, err = r.groups.FindGroups(ctx, targetGroups, targetGroups, false)
	case len(tags) > 0:
		candidates, err = r.groups.FindGroups(ctx, nil, tags, true)
	}
	if err != nil {
		return Targets{}, fmt.Errorf("finding forward targets: %w", err)
	}

	return Targets{Primary: primary, Secondary: r.limit(primary.ID, candidates)}, nil
}

func (r *Resolver) limit(primaryID string, candidates []*models.Group) []*models.Group {
	seen := map[string]struct{}{primaryID: {}}
	out := make([]*models.Group, 0, len(candidates))
	for _, g := range candidates {
		if _, dup := seen[g.ID]; dup {
			continue
		}
		seen[g.ID] = struct{}{}
		out = append(out, g)
		if len(out) == r.maxTargets {
			break
		}
	}
	return out
}
