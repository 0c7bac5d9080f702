// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.


package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

func TestMessageRowConversion(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := &models.Message{
		ID:          "m1",
		SenderID:    "u1",
		GroupID:     "g1",
		Content:     "hello #north",
		File:        &models.Attachment{URL: "https://cdn/x.png", Size: 10, MimeType: "image/png"},
		MessageType: models.MessageTypeImage,
		Tags:        []string{"north"},
		SeenBy:      []models.Receipt{{UserID: "u2", Timestamp: at}},
		Edited:      models.EditInfo{IsEdited: true, EditedAt: &at, EditCount: 2},
		Version:     3,
		CreatedAt:   at,
		UpdatedAt:   at,
	}

	row, err := toMessageRow(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(row.DeliveredTo))
	assert.JSONEq(t, `[]`, string(row.Reactions))
	assert.Equal(t, 0, len(row.ForwardedToGroups))

	back, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, msg.File, back.File)
	assert.Equal(t, msg.SeenBy, back.SeenBy)
	assert.Equal(t, msg.Edited, back.Edited)
	assert.Empty(t, back.DeliveredTo)
}

func TestJSONBValueIsText(t *testing.T) {
	v, err := jsonb(`{"a":1}`).Value()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)

	v, err = jsonb(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

// openTestStore connects to EFGROUPS_TEST_DATABASE_URL and skips the
// test when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("EFGROUPS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EFGROUPS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(db)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresReceiptsAndVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	groupID := "g-" + uuid.NewString()
	msg := &models.Message{
		ID:          uuid.NewString(),
		SenderID:    "sender",
		GroupID:     groupID,
		Content:     "hi",
		MessageType: models.MessageTypeText,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateMessage(ctx, msg))

	changed, err := s.AddReceipts(ctx, models.ReceiptDelivered, groupID, "reader", []string{msg.ID, "missing"}, now)
	require.NoError(t, err)
	assert.Equal(t, []string{msg.ID}, changed)

	changed, err = s.AddReceipts(ctx, models.ReceiptDelivered, groupID, "reader", []string{msg.ID}, now)
	require.NoError(t, err)
	assert.Empty(t, changed)

	changed, err = s.AddReceipts(ctx, models.ReceiptSeen, "other-group", "reader", []string{msg.ID}, now)
	require.NoError(t, err)
	assert.Empty(t, changed)

	stored, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.DeliveredTo, 1)
	assert.Equal(t, "reader", stored.DeliveredTo[0].UserID)
	assert.True(t, stored.DeliveredTo[0].Timestamp.Equal(now))

	stale := stored.Clone()
	stored.Content = "edited"
	require.NoError(t, s.UpdateMessage(ctx, stored))
	assert.Equal(t, int64(2), stored.Version)

	stale.Content = "lost update"
	assert.ErrorIs(t, s.UpdateMessage(ctx, stale), storage.ErrConflict)

	missing := &models.Message{ID: uuid.NewString(), Version: 1}
	assert.ErrorIs(t, s.UpdateMessage(ctx, missing), storage.ErrNotFound)
}

func TestPostgresGroupMembership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := &models.Group{
		ID:        "g-" + uuid.NewString(),
		Name:      "North",
		Region:    "North-" + uuid.NewString()[:8],
		CreatedBy: "owner",
		Managers:  []string{"owner"},
	}
	require.NoError(t, s.CreateGroup(ctx, g))

	require.NoError(t, s.AddGroupMember(ctx, g.ID, "u1"))
	require.NoError(t, s.AddGroupMember(ctx, g.ID, "u1"))
	require.NoError(t, s.AddGroupMember(ctx, g.ID, "owner"))

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, got.Users)
	assert.Equal(t, 2, got.Stats.MemberCount)

	found, err := s.FindGroups(ctx, nil, []string{g.Region}, true)
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, s.RemoveGroupMember(ctx, g.ID, "owner"))
	got, err = s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner"}, got.Managers)

	assert.ErrorIs(t, s.RemoveGroupMember(ctx, "nope-"+uuid.NewString(), "u1"), storage.ErrNotFound)
}
