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

package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/efchatnet/efgroups/backend/errs"
)

const (
	MaxContentLength  = 4096
	MaxForwardTargets = 5
	MaxEdits          = 5
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// Attachment describes an uploaded file. The upload itself lives elsewhere.
type Attachment struct {
	URL          string `json:"url"`
	Key          string `json:"key,omitempty"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
	OriginalName string `json:"originalName,omitempty"`
}

type Receipt struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptSeen      ReceiptKind = "seen"
)

type Reaction struct {
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

type EditInfo struct {
	IsEdited  bool       `json:"isEdited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	EditCount int        `json:"editCount"`
}

type DeleteInfo struct {
	IsDeleted bool       `json:"isDeleted"`
	DeletedBy string     `json:"deletedBy,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type Message struct {
	ID                string      `json:"id"`
	SenderID          string      `json:"senderId"`
	GroupID           string      `json:"groupId"`
	Content           string      `json:"content"`
	File              *Attachment `json:"file,omitempty"`
	MessageType       MessageType `json:"messageType"`
	Tags              []string    `json:"tags"`
	ReplyTo           string      `json:"replyTo,omitempty"`
	ForwardedFrom     string      `json:"forwardedFrom,omitempty"`
	ForwardedToGroups []string    `json:"forwardedToGroups,omitempty"`
	DeliveredTo       []Receipt   `json:"deliveredTo"`
	SeenBy            []Receipt   `json:"seenBy"`
	Reactions         []Reaction  `json:"reactions"`
	Edited            EditInfo    `json:"edited"`
	Deleted           DeleteInfo  `json:"deleted"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
	// Version is bumped by every content, reaction, edit or delete write.
	// Receipts do not touch it.
	Version int64 `json:"version"`
}

// Classify is the single place that enforces the content/file rule: a
// message needs non-blank content or an attachment. It returns the
// message type implied by the pair.
func Classify(content string, file *Attachment) (MessageType, error) {
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", errs.Validation("content exceeds %d characters", MaxContentLength)
	}
	if file != nil {
		if file.URL == "" {
			return "", errs.Validation("attachment url is required")
		}
		if strings.HasPrefix(strings.ToLower(file.MimeType), "image/") {
			return MessageTypeImage, nil
		}
		return MessageTypeFile, nil
	}
	if strings.TrimSpace(content) == "" {
		return "", errs.Validation("message content or file is required")
	}
	return MessageTypeText, nil
}

// HasReceipt reports whether userID already appears in the given list.
func (m *Message) HasReceipt(kind ReceiptKind, userID string) bool {
	list := m.DeliveredTo
	if kind == ReceiptSeen {
		list = m.SeenBy
	}
	for _, r := range list {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// ToggleReaction removes (userID, emoji) if present and appends it
// otherwise. It reports whether the reaction was added.
func (m *Message) ToggleReaction(userID, emoji string, at time.Time) bool {
	for i, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			m.Reactions = append(m.Reactions[:i:i], m.Reactions[i+1:]...)
			return false
		}
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji, Timestamp: at})
	return true
}

// Clone returns a deep copy so stores can hand out messages without
// sharing slices with their internal state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.File != nil {
		f := *m.File
		c.File = &f
	}
	c.Tags = cloneSlice(m.Tags)
	c.ForwardedToGroups = cloneSlice(m.ForwardedToGroups)
	c.DeliveredTo = cloneSlice(m.DeliveredTo)
	c.SeenBy = cloneSlice(m.SeenBy)
	c.Reactions = cloneSlice(m.Reactions)
	if m.Edited.EditedAt != nil {
		t := *m.Edited.EditedAt
		c.Edited.EditedAt = &t
	}
	if m.Deleted.DeletedAt != nil {
		t := *m.Deleted.DeletedAt
		c.Deleted.DeletedAt = &t
	}
	return &c
}

// cloneSlice copies s, keeping an empty non-nil slice non-nil so it still
// encodes as [] rather than null.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
