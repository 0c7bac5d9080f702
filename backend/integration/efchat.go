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

// Package integration assembles the chat backend into a bundle that can
// run standalone (cmd/server) or be mounted on an existing efchat router.
package integration

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/efchatnet/efgroups/backend/handlers"
	"github.com/efchatnet/efgroups/backend/metrics"
	"github.com/efchatnet/efgroups/backend/middleware"
	"github.com/efchatnet/efgroups/backend/notify"
	"github.com/efchatnet/efgroups/backend/realtime"
	"github.com/efchatnet/efgroups/backend/rooms"
	"github.com/efchatnet/efgroups/backend/socket"
	"github.com/efchatnet/efgroups/backend/storage"
)

// Chat wires storage, the realtime engine, the socket hub and the REST
// handlers together.
type Chat struct {
	store               storage.Store
	hub                 *socket.Hub
	engine              *realtime.Engine
	notes               *notify.Service
	socket              *socket.Server
	groupHandler        *handlers.GroupHandler
	notificationHandler *handlers.NotificationHandler
	verifier            *middleware.Verifier
	registry            *prometheus.Registry
	metrics             *metrics.Metrics
	log                 *slog.Logger
}

// Config holds the pieces the host application provides.
type Config struct {
	Store storage.Store
	// Cache is the notification cache (redis or in-process).
	Cache    notify.Cache
	Verifier *middleware.Verifier
	// Registry receives the chat collectors and backs /metrics. A fresh
	// registry is created when nil.
	Registry *prometheus.Registry
	Logger   *slog.Logger

	Limits                realtime.Limits
	MaxForwardGroups      int
	NotificationTTL       time.Duration
	NotificationCacheSize int
	Socket                socket.Options
}

func NewChat(config *Config) (*Chat, error) {
	switch {
	case config.Store == nil:
		return nil, &ValidationError{Message: "store is not configured"}
	case config.Cache == nil:
		return nil, &ValidationError{Message: "notification cache is not configured"}
	case config.Verifier == nil:
		return nil, &ValidationError{Message: "token verifier is not configured"}
	}

	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := metrics.New(registry)

	var noteOpts []notify.Option
	if config.NotificationTTL > 0 {
		noteOpts = append(noteOpts, notify.WithTTL(config.NotificationTTL))
	}
	if config.NotificationCacheSize > 0 {
		noteOpts = append(noteOpts, notify.WithCacheSize(config.NotificationCacheSize))
	}
	notes := notify.NewService(config.Store, config.Cache, log, noteOpts...)

	hub := socket.NewHub(log)
	engine := realtime.New(realtime.Deps{
		Store:    config.Store,
		Emitter:  hub,
		Notifier: notes,
		Resolver: rooms.NewResolver(config.Store, config.MaxForwardGroups),
		Logger:   log,
		Metrics:  m,
		Limits:   config.Limits,
	})

	return &Chat{
		store:               config.Store,
		hub:                 hub,
		engine:              engine,
		notes:               notes,
		socket:              socket.NewServer(hub, engine, config.Verifier, log, m, config.Socket),
		groupHandler:        handlers.NewGroupHandler(engine, log),
		notificationHandler: handlers.NewNotificationHandler(notes, log),
		verifier:            config.Verifier,
		registry:            registry,
		metrics:             m,
		log:                 log,
	}, nil
}

// RegisterRoutes adds the chat routes to an existing router.
// If authMiddleware is nil, it will use the built-in JWT validation
func (c *Chat) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	router.HandleFunc("/health", c.Health).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})).Methods("GET")
	// the socket authenticates its own handshake
	router.Handle("/ws", c.socket).Methods("GET")

	api := router.PathPrefix("/api/chat").Subrouter()
	if authMiddleware != nil {
		api.Use(authMiddleware)
	} else {
		api.Use(middleware.NewAuthMiddleware(c.verifier))
	}

	// Group endpoints
	api.HandleFunc("/groups/{groupId}/messages", c.groupHandler.GetMessages).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/join", c.groupHandler.JoinGroup).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/leave", c.groupHandler.LeaveGroup).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/members", c.groupHandler.GetGroupMembers).Methods("GET", "OPTIONS")

	// Notification endpoints
	api.HandleFunc("/notifications", c.notificationHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/notifications/seen", c.notificationHandler.MarkSeen).Methods("POST", "OPTIONS")
	api.HandleFunc("/notifications", c.notificationHandler.Clear).Methods("DELETE", "OPTIONS")
}

// Health reports whether the store is reachable.
func (c *Chat) Health(w http.ResponseWriter, r *http.Request) {
	if err := c.store.Ping(r.Context()); err != nil {
		c.log.Warn("integration: Health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Database unavailable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (c *Chat) Engine() *realtime.Engine {
	return c.engine
}

func (c *Chat) Hub() *socket.Hub {
	return c.hub
}

func (c *Chat) Notifications() *notify.Service {
	return c.notes
}

func (c *Chat) Metrics() *metrics.Metrics {
	return c.metrics
}

// Shutdown closes every socket and waits for background notification
// fan-out to finish.
func (c *Chat) Shutdown() {
	c.hub.CloseAll()
	c.engine.Drain()
}

// ValidateSetup checks if the chat module is properly configured
func (c *Chat) ValidateSetup(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return &ValidationError{Message: "store unreachable: " + err.Error()}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
