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
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/efchatnet/efgroups/backend/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// Client is one websocket connection and its session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *realtime.Session
	limiter *rate.Limiter
	send    chan []byte

	// guarded by hub.mu
	rooms map[string]struct{}

	mu     sync.Mutex
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn, sess *realtime.Session, limiter *rate.Limiter) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		session: sess,
		limiter: limiter,
		send:    make(chan []byte, sendQueueSize),
	}
}

// enqueue queues msg for the write pump. It reports false when the queue
// is full; a closed client silently accepts and discards.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) emit(event string, data any, ack *int64) {
	msg, err := json.Marshal(outFrame{Event: event, Data: data, Ack: ack})
	if err != nil {
		c.hub.log.Error("socket: Failed to encode frame", "event", event, "error", err)
		return
	}
	if !c.enqueue(msg) {
		go c.shutdown()
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// shutdown closes the connection; the read pump then unregisters.
func (c *Client) shutdown() {
	if c.conn != nil {
		_ = c.conn.Close()
		return
	}
	c.hub.unregister(c)
}

// readPump reads frames until the connection fails and hands each one to
// handle in arrival order.
func (c *Client) readPump(handle func(Frame)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("socket: Connection closed unexpectedly", "session_id", c.session.ID, "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
			c.emit(realtime.EventError, realtime.ErrorPayload{Code: "bad_frame", Message: "malformed frame"}, nil)
			continue
		}
		handle(f)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
