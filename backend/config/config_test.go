// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"JWT_SECRET":      "s3cret",
		"STORAGE_BACKEND": "memory",
	}))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 15*time.Minute, cfg.Chat.EditWindow)
	assert.Equal(t, 5, cfg.Chat.MaxEdits)
	assert.Equal(t, ByteSize(25*1024*1024), cfg.Chat.MaxAttachmentSize)
	assert.Equal(t, "25 MiB", cfg.Chat.MaxAttachmentSize.String())
	assert.Equal(t, 24*time.Hour, cfg.Notifications.TTL)
	assert.Equal(t, 100, cfg.Notifications.CacheSize)
	assert.Equal(t, "0 3 * * *", cfg.Retention.Cron)
	assert.Equal(t, defaultOrigins, cfg.Socket.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"JWT_SECRET":          "s3cret",
		"DATABASE_URL":        "postgres://localhost/chat",
		"PORT":                "9000",
		"MAX_ATTACHMENT_SIZE": "10 MB",
		"ALLOWED_ORIGINS":     "https://a.example,https://b.example",
		"RETENTION_ENABLED":   "true",
		"RETENTION_CRON":      "*/5 * * * *",
	}))
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, ByteSize(10_000_000), cfg.Chat.MaxAttachmentSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Socket.AllowedOrigins)
	assert.True(t, cfg.Retention.Enabled)
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]map[string]string{
		"missing secret":      {"STORAGE_BACKEND": "memory"},
		"postgres without db": {"JWT_SECRET": "x"},
		"unknown backend":     {"JWT_SECRET": "x", "STORAGE_BACKEND": "mongo"},
		"bad size":            {"JWT_SECRET": "x", "STORAGE_BACKEND": "memory", "MAX_ATTACHMENT_SIZE": "lots"},
		"too many edits":      {"JWT_SECRET": "x", "STORAGE_BACKEND": "memory", "MAX_EDITS": "9"},
		"bad cron":            {"JWT_SECRET": "x", "STORAGE_BACKEND": "memory", "RETENTION_ENABLED": "true", "RETENTION_CRON": "whenever"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(context.Background(), envconfig.MapLookuper(env))
			assert.Error(t, err)
		})
	}
}
