// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/errs"
)

func TestPresenceConnectDisconnect(t *testing.T) {
	f := newFixture(t)
	first := &Session{ID: "a", UserID: "m"}
	second := &Session{ID: "b", UserID: "m"}

	user, err := f.engine.Connect(f.ctx, first)
	require.NoError(t, err)
	assert.True(t, user.IsOnline)
	assert.Equal(t, "member", first.Username)
	assert.ElementsMatch(t, []string{"user:m", "group:g1"}, f.rec.joins["a"])

	_, err = f.engine.Connect(f.ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.Online("m"))

	assert.ElementsMatch(t, []string{"group:g1", "admin:room", "user:m"}, f.rec.rooms(EventUserOnline))
	assert.Equal(t, []string{allSessions}, f.rec.rooms(EventUserStatusChanged))

	stored, err := f.store.GetUser(f.ctx, "m")
	require.NoError(t, err)
	assert.True(t, stored.IsOnline)
	require.NotNil(t, stored.LastSeen)

	f.engine.Disconnect(f.ctx, first)
	assert.Empty(t, f.rec.named(EventUserOffline), "other session still open")
	stored, err = f.store.GetUser(f.ctx, "m")
	require.NoError(t, err)
	assert.True(t, stored.IsOnline)

	f.engine.Disconnect(f.ctx, second)
	assert.ElementsMatch(t, []string{"group:g1", "admin:room", "user:m"}, f.rec.rooms(EventUserOffline))
	status := f.rec.named(EventUserStatusChanged)
	require.Len(t, status, 2)
	assert.False(t, status[1].Data.(PresencePayload).IsOnline)

	stored, err = f.store.GetUser(f.ctx, "m")
	require.NoError(t, err)
	assert.False(t, stored.IsOnline)
	assert.Equal(t, 0, f.engine.Online("m"))

	// unknown sessions are ignored
	f.engine.Disconnect(f.ctx, second)
	assert.Len(t, f.rec.named(EventUserOffline), 3)
}

func TestPresenceAdminJoinsAdminRoom(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Connect(f.ctx, &Session{ID: "x", UserID: "admin"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:admin", "admin:room"}, f.rec.joins["x"])
}

func TestPresenceUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Connect(f.ctx, &Session{ID: "x", UserID: "ghost"})
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.Equal(t, 0, f.engine.Online("ghost"))
}

func TestPresenceSettlesOnLastEvent(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := &Session{ID: string(rune('a' + i)), UserID: "p"}
			_, err := f.engine.Connect(f.ctx, sess)
			assert.NoError(t, err)
			f.engine.Disconnect(f.ctx, sess)
		}(i)
	}
	wg.Wait()

	stored, err := f.store.GetUser(f.ctx, "p")
	require.NoError(t, err)
	assert.False(t, stored.IsOnline)
	assert.Equal(t, 0, f.engine.Online("p"))
}

func TestPresenceLocksReleased(t *testing.T) {
	f := newFixture(t)
	locks := func() int {
		f.engine.presenceMu.Lock()
		defer f.engine.presenceMu.Unlock()
		return len(f.engine.userLocks)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := &Session{ID: string(rune('a' + i)), UserID: "m"}
			_, err := f.engine.Connect(f.ctx, sess)
			assert.NoError(t, err)
			f.engine.Disconnect(f.ctx, sess)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, locks())

	_, err := f.engine.Connect(f.ctx, &Session{ID: "x", UserID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, 0, locks(), "failed connects leave nothing behind")
}
