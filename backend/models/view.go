// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

// MessageView is a message enriched for delivery to clients.
type MessageView struct {
	*Message
	Sender        UserSummary   `json:"sender"`
	Group         GroupSummary  `json:"group"`
	IsForwarded   bool          `json:"isForwarded,omitempty"`
	OriginalGroup *GroupSummary `json:"originalGroup,omitempty"`
}
