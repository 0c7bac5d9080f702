// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/models"
)

func TestSendMessageForwardsToTaggedRegion(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.SendMessage(f.ctx, session("s"), SendRequest{Content: "@region2 hi", GroupID: "g1"})
	require.NoError(t, err)
	f.engine.Drain()

	assert.Equal(t, 1, res.ForwardedCount)
	assert.True(t, res.DeliveredPrimary)
	assert.Equal(t, 1, res.Ack().ForwardedTo)

	primary, err := f.store.GetMessage(f.ctx, res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "g1", primary.GroupID)
	assert.Equal(t, []string{"region2"}, primary.Tags)
	assert.Equal(t, []string{"g2"}, primary.ForwardedToGroups)
	assert.Equal(t, models.MessageTypeText, primary.MessageType)

	copies, err := f.store.ForwardedCopies(f.ctx, res.MessageID)
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.Equal(t, "g2", copies[0].GroupID)
	assert.Equal(t, res.MessageID, copies[0].ForwardedFrom)
	assert.Equal(t, "@region2 hi", copies[0].Content)
	assert.NotEqual(t, res.MessageID, copies[0].ID)

	news := f.rec.named(EventMessageNew)
	require.Len(t, news, 2)
	assert.Equal(t, "group:g1", news[0].Room)
	assert.Equal(t, "group:g2", news[1].Room)
	fwd := news[1].Data.(*models.MessageView)
	assert.True(t, fwd.IsForwarded)
	require.NotNil(t, fwd.OriginalGroup)
	assert.Equal(t, "g1", fwd.OriginalGroup.ID)
	assert.Equal(t, "North", fwd.Group.Name)

	g1, err := f.store.GetGroup(f.ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), g1.Stats.MessageCount)
}

func TestSendMessageNotifiesMembersExceptSender(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.SendMessage(f.ctx, session("s"), SendRequest{Content: "@REGION2 hello", GroupID: "g1"})
	require.NoError(t, err)
	f.engine.Drain()

	for _, tc := range []struct {
		user    string
		groupID string
	}{
		{"m", "g1"},
		{"mgr", "g1"},
		{"o", "g2"},
		{"p", "g2"},
	} {
		items, ok := f.notes.List(f.ctx, tc.user)
		require.True(t, ok)
		require.Len(t, items, 1, tc.user)
		assert.Equal(t, tc.groupID, items[0].GroupID)
		assert.Equal(t, models.NotificationMessage, items[0].Type)
		assert.Equal(t, "s", items[0].SenderID)
		if tc.groupID == "g1" {
			assert.Equal(t, res.MessageID, items[0].MessageID)
		} else {
			assert.NotEqual(t, res.MessageID, items[0].MessageID)
		}
	}

	own, ok := f.notes.List(f.ctx, "s")
	require.True(t, ok)
	assert.Empty(t, own)
	assert.ElementsMatch(t,
		[]string{"user:m", "user:mgr", "user:o", "user:p"},
		f.rec.rooms(EventNotificationNew))
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	f.engine.limits.MaxAttachmentSize = 1024

	tests := []struct {
		name string
		user string
		req  SendRequest
		kind errs.Kind
		typ  models.MessageType
	}{
		{
			name: "empty content without file",
			user: "s",
			req:  SendRequest{Content: "   ", GroupID: "g1"},
			kind: errs.KindValidation,
		},
		{
			name: "file only",
			user: "s",
			req:  SendRequest{GroupID: "g1", File: &models.Attachment{URL: "https://cdn/x.pdf", MimeType: "application/pdf", Size: 10}},
			typ:  models.MessageTypeFile,
		},
		{
			name: "image",
			user: "s",
			req:  SendRequest{Content: "look", GroupID: "g1", File: &models.Attachment{URL: "https://cdn/x.png", MimeType: "image/png", Size: 10}},
			typ:  models.MessageTypeImage,
		},
		{
			name: "attachment too large",
			user: "s",
			req:  SendRequest{GroupID: "g1", File: &models.Attachment{URL: "https://cdn/big", Size: 4096}},
			kind: errs.KindValidation,
		},
		{
			name: "default group",
			user: "s",
			req:  SendRequest{Content: "no group id"},
			typ:  models.MessageTypeText,
		},
		{
			name: "multibyte at rune limit",
			user: "s",
			req:  SendRequest{Content: strings.Repeat("日", models.MaxContentLength), GroupID: "g1"},
			typ:  models.MessageTypeText,
		},
		{
			name: "multibyte past rune limit",
			user: "s",
			req:  SendRequest{Content: strings.Repeat("日", models.MaxContentLength+1), GroupID: "g1"},
			kind: errs.KindValidation,
		},
		{
			name: "not a member",
			user: "o",
			req:  SendRequest{Content: "hi", GroupID: "g1"},
			kind: errs.KindAuthorization,
		},
		{
			name: "admin may post anywhere",
			user: "admin",
			req:  SendRequest{Content: "hi", GroupID: "g3"},
			typ:  models.MessageTypeText,
		},
		{
			name: "unknown group",
			user: "s",
			req:  SendRequest{Content: "hi", GroupID: "missing"},
			kind: errs.KindNotFound,
		},
		{
			name: "no group at all",
			user: "n",
			req:  SendRequest{Content: "hi"},
			kind: errs.KindValidation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.engine.SendMessage(f.ctx, session(tc.user), tc.req)
			if tc.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tc.kind, errs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.typ, res.Message.MessageType)
		})
	}
	f.engine.Drain()
}

func TestEditWindowBoundary(t *testing.T) {
	t.Run("inside window", func(t *testing.T) {
		f := newFixture(t)
		res := f.send(t, "s", "first")
		f.clock.Advance(14*time.Minute + 59*time.Second)

		require.NoError(t, f.engine.EditMessage(f.ctx, session("s"), EditRequest{MessageID: res.MessageID, Content: "second"}))
		stored, err := f.store.GetMessage(f.ctx, res.MessageID)
		require.NoError(t, err)
		assert.Equal(t, "second", stored.Content)
		assert.True(t, stored.Edited.IsEdited)
		f.engine.Drain()
	})

	t.Run("past window", func(t *testing.T) {
		f := newFixture(t)
		res := f.send(t, "s", "first")
		f.clock.Advance(15*time.Minute + time.Second)

		err := f.engine.EditMessage(f.ctx, session("s"), EditRequest{MessageID: res.MessageID, Content: "second"})
		assert.True(t, errs.Is(err, errs.KindValidation))
		f.engine.Drain()
	})
}

func TestEditCascadesToForwardedCopies(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.SendMessage(f.ctx, session("s"), SendRequest{Content: "hi all", GroupID: "g1", TargetGroups: []string{"g2", "g3"}})
	require.NoError(t, err)
	require.Equal(t, 2, res.ForwardedCount)

	require.NoError(t, f.engine.EditMessage(f.ctx, session("s"), EditRequest{MessageID: res.MessageID, Content: "hi @team"}))

	copies, err := f.store.ForwardedCopies(f.ctx, res.MessageID)
	require.NoError(t, err)
	require.Len(t, copies, 2)
	for _, cp := range copies {
		assert.Equal(t, "hi @team", cp.Content)
		assert.Equal(t, []string{"team"}, cp.Tags)
		assert.True(t, cp.Edited.IsEdited)
		assert.Equal(t, 1, cp.Edited.EditCount)
	}
	assert.ElementsMatch(t, []string{"group:g1", "group:g2", "group:g3"}, f.rec.rooms(EventMessageEdited))
	f.engine.Drain()
}

func TestEditRules(t *testing.T) {
	f := newFixture(t)
	res := f.send(t, "s", "hello")

	err := f.engine.EditMessage(f.ctx, session("m"), EditRequest{MessageID: res.MessageID, Content: "hijack"})
	assert.True(t, errs.Is(err, errs.KindAuthorization))

	err = f.engine.EditMessage(f.ctx, session("s"), EditRequest{MessageID: res.MessageID, Content: " "})
	assert.True(t, errs.Is(err, errs.KindValidation))

	err = f.engine.EditMessage(f.ctx, session("s"), EditRequest{MessageID: "missing", Content: "x"})
	assert.True(t, errs.Is(err, errs.KindNotFound))

	for i := 0; i < models.MaxEdits; i++ {
		require.NoError(t, f.engine.EditMessage(f.ctx, session("s"), EditRequest{MessageID: res.MessageID, Content: "v"}))
	}
	err = f.engine.EditMessage(f.ctx, session("s"), EditRequest{MessageID: res.MessageID, Content: "one too many"})
	assert.True(t, errs.Is(err, errs.KindValidation))

	other := f.send(t, "s", "doomed")
	require.NoError(t, f.engine.DeleteMessage(f.ctx, session("s"), DeleteRequest{MessageID: other.MessageID}))
	err = f.engine.EditMessage(f.ctx, session("s"), EditRequest{MessageID: other.MessageID, Content: "revive"})
	assert.True(t, errs.Is(err, errs.KindValidation))
	f.engine.Drain()
}

func TestDeletePermissionsAndCascade(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.SendMessage(f.ctx, session("s"), SendRequest{Content: "@region2 bye", GroupID: "g1"})
	require.NoError(t, err)

	err = f.engine.DeleteMessage(f.ctx, session("m"), DeleteRequest{MessageID: res.MessageID})
	assert.True(t, errs.Is(err, errs.KindAuthorization))

	require.NoError(t, f.engine.DeleteMessage(f.ctx, session("mgr"), DeleteRequest{MessageID: res.MessageID, Reason: "spam"}))

	stored, err := f.store.GetMessage(f.ctx, res.MessageID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted.IsDeleted)
	assert.Equal(t, "mgr", stored.Deleted.DeletedBy)
	assert.Equal(t, "@region2 bye", stored.Content, "content kept until purge")

	copies, err := f.store.ForwardedCopies(f.ctx, res.MessageID)
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.True(t, copies[0].Deleted.IsDeleted)
	assert.Equal(t, "spam", copies[0].Deleted.Reason)

	deleted := f.rec.named(EventMessageDeleted)
	require.Len(t, deleted, 2)
	payload := deleted[0].Data.(DeletedPayload)
	assert.Equal(t, res.MessageID, payload.MessageID)
	assert.Equal(t, "mgr", payload.DeletedBy)
	assert.Equal(t, "spam", payload.Reason)

	err = f.engine.DeleteMessage(f.ctx, session("admin"), DeleteRequest{MessageID: res.MessageID})
	assert.True(t, errs.Is(err, errs.KindValidation))

	other := f.send(t, "s", "admin will remove this")
	require.NoError(t, f.engine.DeleteMessage(f.ctx, session("admin"), DeleteRequest{MessageID: other.MessageID}))
	f.engine.Drain()
}

func TestReactionToggleRoundTrip(t *testing.T) {
	f := newFixture(t)
	res := f.send(t, "s", "react to me")

	require.NoError(t, f.engine.React(f.ctx, session("m"), ReactRequest{MessageID: res.MessageID, Emoji: "🔥"}))
	stored, err := f.store.GetMessage(f.ctx, res.MessageID)
	require.NoError(t, err)
	require.Len(t, stored.Reactions, 1)
	assert.Equal(t, "m", stored.Reactions[0].UserID)

	require.NoError(t, f.engine.React(f.ctx, session("m"), ReactRequest{MessageID: res.MessageID, Emoji: "🔥"}))
	stored, err = f.store.GetMessage(f.ctx, res.MessageID)
	require.NoError(t, err)
	assert.Empty(t, stored.Reactions)

	events := f.rec.named(EventMessageReaction)
	require.Len(t, events, 2)
	assert.Equal(t, ReactionAdded, events[0].Data.(ReactionPayload).Action)
	assert.Equal(t, ReactionRemoved, events[1].Data.(ReactionPayload).Action)
	assert.Empty(t, events[1].Data.(ReactionPayload).Reactions)

	err = f.engine.React(f.ctx, session("o"), ReactRequest{MessageID: res.MessageID, Emoji: "🔥"})
	assert.True(t, errs.Is(err, errs.KindAuthorization))

	err = f.engine.React(f.ctx, session("m"), ReactRequest{MessageID: res.MessageID})
	assert.True(t, errs.Is(err, errs.KindValidation))
	f.engine.Drain()
}
