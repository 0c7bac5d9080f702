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
	"github.com/efchatnet/efgroups/backend/errs"
	"github.com/efchatnet/efgroups/backend/rooms"
)

// Typing relays typing:start or typing:stop to the rest of the group.
// Nothing is stored and nothing is debounced.
func (e *Engine) Typing(sess *Session, event, groupID string) error {
	if groupID == "" {
		return errs.Validation("groupId is required")
	}
	e.broadcastExcept(rooms.Group(groupID), sess.ID, event, TypingPayload{
		UserID:   sess.UserID,
		Username: sess.Username,
		GroupID:  groupID,
	})
	return nil
}
