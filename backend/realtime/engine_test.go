// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/metrics"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/notify"
	"github.com/efchatnet/efgroups/backend/storage"
	"github.com/efchatnet/efgroups/backend/storage/memory"
)

const allSessions = "*"

type emitted struct {
	Room   string
	Except string
	Event  string
	Data   any
}

// recorder is an Emitter that keeps everything it was asked to send.
type recorder struct {
	mu     sync.Mutex
	events []emitted
	joins  map[string][]string
}

func newRecorder() *recorder {
	return &recorder{joins: make(map[string][]string)}
}

func (r *recorder) ToRoom(room, event string, data any) error {
	return r.ToRoomExcept(room, "", event, data)
}

func (r *recorder) ToRoomExcept(room, except, event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{Room: room, Except: except, Event: event, Data: data})
	return nil
}

func (r *recorder) ToAll(event string, data any) error {
	return r.ToRoom(allSessions, event, data)
}

func (r *recorder) Join(sessionID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins[sessionID] = append(r.joins[sessionID], room)
	return nil
}

func (r *recorder) Leave(sessionID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins[sessionID] = removeRoom(r.joins[sessionID], room)
	return nil
}

func removeRoom(list []string, room string) []string {
	out := list[:0:0]
	for _, r := range list {
		if r != room {
			out = append(out, r)
		}
	}
	return out
}

func (r *recorder) named(event string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) rooms(event string) []string {
	var out []string
	for _, e := range r.named(event) {
		out = append(out, e.Room)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	rec    *recorder
	clock  *fakeClock
	notes  *notify.Service
	engine *Engine
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture seeds three groups:
//
//	g1 "Home"  region1  managers [mgr]  users [s m]
//	g2 "North" region2  managers [o]    users [p]
//	g3 "South" region3  managers [q]
//
// plus an admin user with no group.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.NewStore())
}

func newFixtureWithStore(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := unwrapMemory(store)

	groups := []*models.Group{
		{ID: "g1", Name: "Home", Region: "region1", CreatedBy: "mgr", Managers: []string{"mgr"}, Users: []string{"s", "m"}},
		{ID: "g2", Name: "North", Region: "region2", CreatedBy: "o", Managers: []string{"o"}, Users: []string{"p"}},
		{ID: "g3", Name: "South", Region: "region3", CreatedBy: "q", Managers: []string{"q"}},
	}
	for _, g := range groups {
		require.NoError(t, mem.CreateGroup(ctx, g))
	}
	users := []*models.User{
		{ID: "s", Username: "sender", Email: "s@example.com", GroupID: "g1"},
		{ID: "m", Username: "member", GroupID: "g1"},
		{ID: "mgr", Username: "manager", GroupID: "g1"},
		{ID: "o", Username: "owner2", GroupID: "g2"},
		{ID: "p", Username: "peer2", GroupID: "g2"},
		{ID: "q", Username: "owner3", GroupID: "g3"},
		{ID: "n", Username: "newcomer"},
		{ID: "admin", Username: "root", Role: models.RoleAdmin},
	}
	for _, u := range users {
		require.NoError(t, mem.CreateUser(ctx, u))
	}

	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	rec := newRecorder()
	log := quietLogger()
	notes := notify.NewService(mem, memory.NewNotificationCache(), log, notify.WithClock(clock.Now))
	engine := New(Deps{
		Store:    store,
		Emitter:  rec,
		Notifier: notes,
		Logger:   log,
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Now:      clock.Now,
	})
	return &fixture{ctx: ctx, store: mem, rec: rec, clock: clock, notes: notes, engine: engine}
}

func unwrapMemory(s storage.Store) *memory.Store {
	switch v := s.(type) {
	case *memory.Store:
		return v
	case *conflictStore:
		return v.Store
	}
	panic("unsupported store")
}

func session(userID string) *Session {
	return &Session{ID: "sess-" + userID, UserID: userID}
}

func (f *fixture) send(t *testing.T, userID, content string) SendResult {
	t.Helper()
	res, err := f.engine.SendMessage(f.ctx, session(userID), SendRequest{Content: content, GroupID: "g1"})
	require.NoError(t, err)
	return res
}

func TestHandleEventSendAck(t *testing.T) {
	f := newFixture(t)

	ack, err := f.engine.HandleEvent(f.ctx, session("s"), EventMessageSend, json.RawMessage(`{"content":"hi","groupId":"g1"}`))
	require.NoError(t, err)
	sa, ok := ack.(SendAck)
	require.True(t, ok)
	assert.True(t, sa.OK)
	assert.NotEmpty(t, sa.ID)
	assert.Equal(t, 0, sa.ForwardedTo)
	assert.Equal(t, "hi", sa.Message.Content)
	assert.Equal(t, "sender", sa.Message.Sender.Username)
	assert.Equal(t, "Home", sa.Message.Group.Name)
	f.engine.Drain()
}

func TestHandleEventRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.HandleEvent(f.ctx, session("s"), "message:explode", json.RawMessage(`{}`))
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = f.engine.HandleEvent(f.ctx, session("s"), EventMessageSend, json.RawMessage(`{"content":`))
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = f.engine.HandleEvent(f.ctx, session("s"), EventMessageEdit, nil)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestTypingRelaySkipsSender(t *testing.T) {
	f := newFixture(t)
	sess := session("s")
	sess.Username = "sender"

	_, err := f.engine.HandleEvent(f.ctx, sess, EventTypingStart, json.RawMessage(`{"groupId":"g1"}`))
	require.NoError(t, err)

	got := f.rec.named(EventTypingStart)
	require.Len(t, got, 1)
	assert.Equal(t, "group:g1", got[0].Room)
	assert.Equal(t, sess.ID, got[0].Except)
	assert.Equal(t, TypingPayload{UserID: "s", Username: "sender", GroupID: "g1"}, got[0].Data)

	_, err = f.engine.HandleEvent(f.ctx, sess, EventTypingStop, json.RawMessage(`{}`))
	assert.True(t, errs.Is(err, errs.KindValidation))
}

// conflictStore fails the first conflicts UpdateMessage calls with
// storage.ErrConflict.
type conflictStore struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
}

func (c *conflictStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return storage.ErrConflict
	}
	c.mu.Unlock()
	return c.Store.UpdateMessage(ctx, msg)
}

func TestMutateRetriesOnConflict(t *testing.T) {
	cs := &conflictStore{Store: memory.NewStore()}
	f := newFixtureWithStore(t, cs)
	res := f.send(t, "s", "hi")

	cs.conflicts = 2
	require.NoError(t, f.engine.React(f.ctx, session("m"), ReactRequest{MessageID: res.MessageID, Emoji: "👍"}))
	stored, err := f.store.GetMessage(f.ctx, res.MessageID)
	require.NoError(t, err)
	assert.Len(t, stored.Reactions, 1)

	cs.conflicts = 3
	err = f.engine.React(f.ctx, session("m"), ReactRequest{MessageID: res.MessageID, Emoji: "👍"})
	assert.True(t, errs.Is(err, errs.KindTransient))
	f.engine.Drain()
}
