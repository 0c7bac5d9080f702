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

// Package config reads server settings from the environment, after
// merging an optional .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var defaultOrigins = []string{
	"https://efchat.net",
	"https://app.efchat.net",
	"http://localhost:3000",
}

// ByteSize accepts human readable sizes such as "25MiB" or "10 MB".
type ByteSize int64

func (b *ByteSize) EnvDecode(val string) error {
	n, err := humanize.ParseBytes(val)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", val, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

type Config struct {
	Env  string `env:"ENV,default=dev"`
	Port int    `env:"PORT,default=8080"`

	Log           LogConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Chat          ChatConfig
	Notifications NotificationConfig
	Retention     RetentionConfig
	Socket        SocketConfig
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

type StorageConfig struct {
	Backend     string `env:"STORAGE_BACKEND,default=postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET,required"`
	JWTIssuer string `env:"JWT_ISSUER"`
}

type ChatConfig struct {
	EditWindow        time.Duration `env:"EDIT_WINDOW,default=15m"`
	MaxEdits          int           `env:"MAX_EDITS,default=5"`
	MaxForwardGroups  int           `env:"MAX_FORWARD_GROUPS,default=5"`
	MaxAttachmentSize ByteSize      `env:"MAX_ATTACHMENT_SIZE,default=25MiB"`
}

type NotificationConfig struct {
	TTL       time.Duration `env:"NOTIFICATION_TTL,default=24h"`
	CacheSize int           `env:"NOTIFICATION_CACHE_SIZE,default=100"`
}

type RetentionConfig struct {
	Enabled bool          `env:"RETENTION_ENABLED,default=false"`
	Cron    string        `env:"RETENTION_CRON,default=0 3 * * *"`
	MaxAge  time.Duration `env:"RETENTION_MAX_AGE,default=720h"`
}

type SocketConfig struct {
	EventsPerSecond float64  `env:"SOCKET_EVENTS_PER_SECOND,default=20"`
	EventBurst      int      `env:"SOCKET_EVENT_BURST,default=40"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS"`
}

// Load merges .env (if present) into the process environment and parses it.
func Load(ctx context.Context) (Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()
	return LoadFrom(ctx, envconfig.OsLookuper())
}

func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	config := Config{}
	if err := envconfig.ProcessWith(ctx, &config, l); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	if len(config.Socket.AllowedOrigins) == 0 {
		config.Socket.AllowedOrigins = append([]string(nil), defaultOrigins...)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	var problems []error
	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.Chat.EditWindow <= 0 {
		problems = append(problems, errors.New("EDIT_WINDOW must be positive"))
	}
	if c.Chat.MaxEdits < 1 || c.Chat.MaxEdits > 5 {
		problems = append(problems, errors.New("MAX_EDITS must be between 1 and 5"))
	}
	if c.Chat.MaxForwardGroups < 0 || c.Chat.MaxForwardGroups > 5 {
		problems = append(problems, errors.New("MAX_FORWARD_GROUPS must be between 0 and 5"))
	}
	if c.Retention.Enabled && !gronx.New().IsValid(c.Retention.Cron) {
		problems = append(problems, fmt.Errorf("invalid RETENTION_CRON %q", c.Retention.Cron))
	}
	return errors.Join(problems...)
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
