// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package rooms

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage/memory"
)

func TestForUser(t *testing.T) {
	assert.Equal(t, []string{"user:u1"}, ForUser(&models.User{ID: "u1"}))
	assert.Equal(t, []string{"user:u1", "group:g1"}, ForUser(&models.User{ID: "u1", GroupID: "g1"}))
	assert.Equal(t, []string{"user:a", "admin:room"}, ForUser(&models.User{ID: "a", Role: models.RoleAdmin}))
}

func seedGroups(t *testing.T, store *memory.Store, groups ...*models.Group) {
	t.Helper()
	for _, g := range groups {
		require.NoError(t, store.CreateGroup(context.Background(), g))
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedGroups(t, store,
		&models.Group{ID: "g1", Name: "Home", Region: "region1", Managers: []string{"s"}},
		&models.Group{ID: "g2", Name: "North", Region: "Region2"},
		&models.Group{ID: "g3", Name: "South", Region: "region3"},
	)
	r := NewResolver(store, 5)
	sender := &models.User{ID: "s", GroupID: "g1"}

	t.Run("defaults to sender group", func(t *testing.T) {
		got, err := r.Resolve(ctx, sender, "", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "g1", got.Primary.ID)
		assert.Empty(t, got.Secondary)
	})

	t.Run("tags match regions without case", func(t *testing.T) {
		got, err := r.Resolve(ctx, sender, "g1", nil, []string{"region2", "region1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"g2"}, got.SecondaryIDs())
	})

	t.Run("explicit targets win over tags", func(t *testing.T) {
		got, err := r.Resolve(ctx, sender, "g1", []string{"g3", "Region2"}, []string{"region1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"g2", "g3"}, got.SecondaryIDs())
	})

	t.Run("explicit region match is exact", func(t *testing.T) {
		got, err := r.Resolve(ctx, sender, "g1", []string{"region2"}, nil)
		require.NoError(t, err)
		assert.Empty(t, got.Secondary)
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := r.Resolve(ctx, sender, "nope", nil, nil)
		assert.True(t, errs.Is(err, errs.KindNotFound))
	})

	t.Run("no group at all", func(t *testing.T) {
		_, err := r.Resolve(ctx, &models.User{ID: "x"}, "", nil, nil)
		assert.True(t, errs.Is(err, errs.KindValidation))
	})
}

func TestResolveCapsTargets(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedGroups(t, store, &models.Group{ID: "home"})
	for i := 0; i < 8; i++ {
		seedGroups(t, store, &models.Group{ID: fmt.Sprintf("t%d", i), Region: "east"})
	}

	got, err := NewResolver(store, 0).Resolve(ctx, &models.User{ID: "s"}, "home", nil, []string{"east"})
	require.NoError(t, err)
	assert.Len(t, got.Secondary, models.MaxForwardTargets)
}
