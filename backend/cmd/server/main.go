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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efgroups/backend/config"
	"github.com/efchatnet/efgroups/backend/integration"
	"github.com/efchatnet/efgroups/backend/logging"
	"github.com/efchatnet/efgroups/backend/middleware"
	"github.com/efchatnet/efgroups/backend/notify"
	"github.com/efchatnet/efgroups/backend/realtime"
	"github.com/efchatnet/efgroups/backend/retention"
	"github.com/efchatnet/efgroups/backend/socket"
	"github.com/efchatnet/efgroups/backend/storage"
	"github.com/efchatnet/efgroups/backend/storage/memory"
	"github.com/efchatnet/efgroups/backend/storage/postgres"
	redisStore "github.com/efchatnet/efgroups/backend/storage/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Storage
	store, purger, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	chat, err := integration.NewChat(&integration.Config{
		Store:    store,
		Cache:    cache,
		Verifier: middleware.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		Registry: registry,
		Logger:   log,
		Limits: realtime.Limits{
			EditWindow:        cfg.Chat.EditWindow,
			MaxEdits:          cfg.Chat.MaxEdits,
			MaxAttachmentSize: int64(cfg.Chat.MaxAttachmentSize),
		},
		MaxForwardGroups:      cfg.Chat.MaxForwardGroups,
		NotificationTTL:       cfg.Notifications.TTL,
		NotificationCacheSize: cfg.Notifications.CacheSize,
		Socket: socket.Options{
			AllowedOrigins:  cfg.Socket.AllowedOrigins,
			EventsPerSecond: cfg.Socket.EventsPerSecond,
			EventBurst:      cfg.Socket.EventBurst,
		},
	})
	if err != nil {
		return err
	}
	if err := chat.ValidateSetup(ctx); err != nil {
		return err
	}

	if cfg.Retention.Enabled {
		sweeper, err := retention.NewSweeper(purger, log, chat.Metrics(), cfg.Retention.Cron, cfg.Retention.MaxAge)
		if err != nil {
			return err
		}
		sweeper.Start(ctx)
	}

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.Socket.AllowedOrigins))
	chat.RegisterRoutes(r, nil)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Chat server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	chat.Shutdown()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, retention.Purger, func(), error) {
	if cfg.Storage.Backend == config.BackendMemory {
		s := memory.NewStore()
		return s, s, func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	s := postgres.NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, s, func() { s.Close() }, nil
}

// openCache uses redis when REDIS_URL is set and an in-process cache
// otherwise.
func openCache(ctx context.Context, cfg config.Config, log *slog.Logger) (notify.Cache, func(), error) {
	if cfg.Storage.RedisURL == "" {
		return memory.NewNotificationCache(), func() {}, nil
	}

	opts := &redis.Options{Addr: cfg.Storage.RedisURL}
	if strings.Contains(cfg.Storage.RedisURL, "://") {
		parsed, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		opts = parsed
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return redisStore.NewNotificationCache(rdb, log), func() { rdb.Close() }, nil
}
