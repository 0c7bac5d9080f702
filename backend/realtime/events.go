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

package realtime

import (
	"time"

	"github.com/efchatnet/efgroups/backend/models"
)

// Inbound events.
const (
	EventMessageSend      = "message:send"
	EventMessageEdit      = "message:edit"
	EventMessageDelete    = "message:delete"
	EventMessageReact     = "message:react"
	EventMessageDelivered = "message:delivered"
	EventMessageSeen      = "message:seen"
	EventGroupJoin        = "group:join"
	EventGroupLeave       = "group:leave"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
)

// Outbound events.
const (
	EventMessageNew        = "message:new"
	EventMessageEdited     = "message:edited"
	EventMessageDeleted    = "message:deleted"
	EventMessageReaction   = "message:reaction"
	EventMessagesDelivered = "messages:delivered"
	EventMessagesSeen      = "messages:seen"
	EventUserOnline        = "user:online"
	EventUserOffline       = "user:offline"
	EventUserStatusChanged = "user:status:changed"
	EventGroupUpdated      = "group:updated"
	EventNotificationNew   = "notification:new"
	EventError             = "error"
)

type SendRequest struct {
	Content      string             `json:"content"`
	File         *models.Attachment `json:"file,omitempty"`
	GroupID      string             `json:"groupId"`
	TargetGroups []string           `json:"targetGroups,omitempty"`
	ReplyTo      string             `json:"replyTo,omitempty"`
}

type SendResult struct {
	MessageID        string
	Message          *models.MessageView
	DeliveredPrimary bool
	ForwardedCount   int
	Timestamp        time.Time
}

// SendAck is the acknowledgement payload for message:send.
type SendAck struct {
	OK          bool                `json:"ok"`
	ID          string              `json:"id"`
	Message     *models.MessageView `json:"message"`
	ForwardedTo int                 `json:"forwardedTo"`
	Timestamp   time.Time           `json:"timestamp"`
}

func (r SendResult) Ack() SendAck {
	return SendAck{
		OK:          true,
		ID:          r.MessageID,
		Message:     r.Message,
		ForwardedTo: r.ForwardedCount,
		Timestamp:   r.Timestamp,
	}
}

type EditRequest struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	GroupID   string `json:"groupId"`
}

type DeleteRequest struct {
	MessageID string `json:"messageId"`
	GroupID   string `json:"groupId"`
	Reason    string `json:"reason,omitempty"`
}

type ReactRequest struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	GroupID   string `json:"groupId"`
}

// ReceiptRequest carries either a single MessageID or a batch in
// MessageIDs; the batch wins when both are set.
type ReceiptRequest struct {
	MessageID  string   `json:"messageId,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
	GroupID    string   `json:"groupId"`
}

type GroupRequest struct {
	GroupID string `json:"groupId"`
}

type EditedPayload struct {
	MessageID string          `json:"messageId"`
	GroupID   string          `json:"groupId"`
	Content   string          `json:"content"`
	Tags      []string        `json:"tags"`
	Edited    models.EditInfo `json:"edited"`
}

type DeletedPayload struct {
	MessageID string    `json:"messageId"`
	GroupID   string    `json:"groupId"`
	DeletedBy string    `json:"deletedBy"`
	Reason    string    `json:"reason,omitempty"`
	DeletedAt time.Time `json:"deletedAt"`
}

type ReactionPayload struct {
	MessageID string            `json:"messageId"`
	GroupID   string            `json:"groupId"`
	UserID    string            `json:"userId"`
	Emoji     string            `json:"emoji"`
	Action    string            `json:"action"`
	Reactions []models.Reaction `json:"reactions"`
}

const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

type ReceiptPayload struct {
	MessageID  string    `json:"messageId,omitempty"`
	MessageIDs []string  `json:"messageIds,omitempty"`
	GroupID    string    `json:"groupId"`
	UserID     string    `json:"userId"`
	Timestamp  time.Time `json:"timestamp"`
}

type PresencePayload struct {
	UserID   string     `json:"userId"`
	Username string     `json:"username"`
	GroupID  string     `json:"groupId,omitempty"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type TypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	GroupID  string `json:"groupId"`
}

type GroupUpdatedPayload struct {
	GroupID     string `json:"groupId"`
	Action      string `json:"action"`
	UserID      string `json:"userId"`
	MemberCount int    `json:"memberCount"`
}

// ErrorPayload is sent as an error event when a failed event has no ack.
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
