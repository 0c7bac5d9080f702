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

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/middleware"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/realtime"
)

// GroupService is the part of the realtime engine the group routes use.
type GroupService interface {
	JoinGroup(ctx context.Context, userID, groupID string) (*models.Group, error)
	LeaveGroup(ctx context.Context, userID, groupID string) (*models.Group, error)
	Members(ctx context.Context, userID, groupID string) (*models.Group, []models.UserSummary, error)
	History(ctx context.Context, userID string, req realtime.HistoryRequest) ([]*models.MessageView, error)
}

type GroupHandler struct {
	groups GroupService
	log    *slog.Logger
}

func NewGroupHandler(groups GroupService, log *slog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, log: log}
}

func (h *GroupHandler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	groupID := mux.Vars(r)["groupId"]

	g, err := h.groups.JoinGroup(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "joined",
		"group":  g,
	})
}

func (h *GroupHandler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	groupID := mux.Vars(r)["groupId"]

	g, err := h.groups.LeaveGroup(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "left",
		"group":  g,
	})
}

func (h *GroupHandler) GetGroupMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	groupID := mux.Vars(r)["groupId"]

	g, members, err := h.groups.Members(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"group_id": g.ID,
		"managers": g.Managers,
		"members":  members,
	})
}

// GetMessages serves ?limit=N&before=RFC3339 pages, newest first.
func (h *GroupHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	req := realtime.HistoryRequest{GroupID: mux.Vars(r)["groupId"]}
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, h.log, r, errs.Validation("invalid limit %q", raw))
			return
		}
		req.Limit = limit
	}
	if raw := query.Get("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, h.log, r, errs.Validation("invalid before timestamp %q", raw))
			return
		}
		req.Before = &before
	}

	views, err := h.groups.History(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"group_id": req.GroupID,
		"messages": views,
	})
}
