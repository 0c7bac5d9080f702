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

	"github.com/efchatnet/efgroups/backend/middleware"
	"github.com/efchatnet/efgroups/backend/models"
)

type NotificationService interface {
	List(ctx context.Context, userID string) ([]models.Notification, bool)
	MarkSeen(ctx context.Context, userID string) bool
	Clear(ctx context.Context, userID string) bool
}

type NotificationHandler struct {
	notes NotificationService
	log   *slog.Logger
}

func NewNotificationHandler(notes NotificationService, log *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notes: notes, log: log}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	items, ok := h.notes.List(r.Context(), userID)
	if !ok {
		http.Error(w, "Failed to load notifications", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.Notification{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": items,
	})
}

func (h *NotificationHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.notes.MarkSeen(r.Context(), userID) {
		http.Error(w, "Failed to update notifications", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seen"})
}

func (h *NotificationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.notes.Clear(r.Context(), userID) {
		http.Error(w, "Failed to clear notifications", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
