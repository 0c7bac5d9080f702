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

package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/metrics"
	"github.com/efchatnet/efgroups/backend/middleware"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/realtime"
)

const codeRateLimited = "rate_limited"

// Handler runs session lifecycle and events. *realtime.Engine satisfies it.
type Handler interface {
	Connect(ctx context.Context, sess *realtime.Session) (*models.User, error)
	Disconnect(ctx context.Context, sess *realtime.Session)
	HandleEvent(ctx context.Context, sess *realtime.Session, event string, data json.RawMessage) (any, error)
}

type Options struct {
	AllowedOrigins  []string
	EventsPerSecond float64
	EventBurst      int
}

type Server struct {
	hub      *Hub
	handler  Handler
	verifier *middleware.Verifier
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
	// events run on a context detached from the request so a disconnect
	// does not cancel fan-out already in progress
	base context.Context
}

func NewServer(hub *Hub, handler Handler, verifier *middleware.Verifier, log *slog.Logger, m *metrics.Metrics, opts Options) *Server {
	s := &Server{
		hub:      hub,
		handler:  handler,
		verifier: verifier,
		log:      log,
		metrics:  m,
		limit:    rate.Inf,
		burst:    opts.EventBurst,
		base:     context.Background(),
	}
	if opts.EventsPerSecond > 0 {
		s.limit = rate.Limit(opts.EventsPerSecond)
	}
	if s.burst <= 0 {
		s.burst = 1
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(opts.AllowedOrigins, origin)
		},
	}
	return s
}

// ServeHTTP authenticates the handshake, upgrades and runs the session
// until the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(middleware.BearerToken(r, true))
	if err != nil {
		s.log.Debug("socket: Rejected handshake", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauth", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the response
		s.log.Debug("socket: Upgrade failed", "error", err)
		return
	}

	sess := &realtime.Session{ID: uuid.New().String(), UserID: claims.UserID, Username: claims.Username}
	c := newClient(s.hub, conn, sess, rate.NewLimiter(s.limit, s.burst))
	s.hub.register(c)
	go c.writePump()

	if _, err := s.handler.Connect(s.base, sess); err != nil {
		s.log.Warn("socket: Connect failed", "user_id", sess.UserID, "error", err)
		c.emit(realtime.EventError, realtime.ErrorPayload{Code: string(connectFailureKind(err)), Message: errs.Public(err)}, nil)
		s.hub.unregister(c)
		return
	}
	s.log.Info("socket: Session connected", "session_id", sess.ID, "user_id", sess.UserID)

	c.readPump(func(f Frame) { s.dispatch(c, f) })

	s.hub.unregister(c)
	s.handler.Disconnect(s.base, sess)
	s.log.Info("socket: Session closed", "session_id", sess.ID, "user_id", sess.UserID)
}

// connectFailureKind maps a failed Connect to the code sent before the
// socket closes. A token for a user that no longer exists is an auth
// failure; anything else keeps its own kind.
func connectFailureKind(err error) errs.Kind {
	kind := errs.KindOf(err)
	if kind == errs.KindNotFound {
		return errs.KindFatalAuth
	}
	return kind
}

// dispatch runs one inbound frame. Results go back as an ack frame when
// the client asked for one; failures without an ack become error events.
func (s *Server) dispatch(c *Client, f Frame) {
	if !c.limiter.Allow() {
		s.metrics.ThrottledEvents.Inc()
		s.reply(c, f, nil, errs.Validation("too many events"), codeRateLimited)
		return
	}

	result, err := s.handler.HandleEvent(s.base, c.session, f.Event, f.Data)
	if err != nil {
		kind := errs.KindOf(err)
		if kind == errs.KindInternal || kind == errs.KindTransient {
			s.log.Error("socket: Event failed", "event", f.Event, "user_id", c.session.UserID, "error", err)
		} else {
			s.log.Debug("socket: Event rejected", "event", f.Event, "user_id", c.session.UserID, "error", err)
		}
		s.reply(c, f, nil, err, string(kind))
		return
	}
	s.reply(c, f, result, nil, "")
}

type ackError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type ackOK struct {
	OK bool `json:"ok"`
}

func (s *Server) reply(c *Client, f Frame, result any, err error, code string) {
	if err != nil {
		if f.Ack != nil {
			c.emit("ack", ackError{Error: errs.Public(err), Code: code}, f.Ack)
			return
		}
		c.emit(realtime.EventError, realtime.ErrorPayload{Event: f.Event, Code: code, Message: errs.Public(err)}, nil)
		return
	}
	if f.Ack == nil {
		return
	}
	if result == nil {
		result = ackOK{OK: true}
	}
	c.emit("ack", result, f.Ack)
}
