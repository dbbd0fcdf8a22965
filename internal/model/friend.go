package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FriendCursor is the friend-list pagination cursor, ordered
// (timestamp DESC, tiebreaker_id DESC). External string form is
// "<RFC3339>~<UUID>".
type FriendCursor struct {
	Since     time.Time
	OtherUser UserID
}

// String renders the cursor in its external wire form.
func (c FriendCursor) String() string {
	return c.Since.Format(time.RFC3339Nano) + "~" + c.OtherUser.String()
}

// ParseFriendCursor decodes the "<RFC3339>~<UUID>" external form into
// the typed cursor the relationship service expects.
func ParseFriendCursor(s string) (FriendCursor, error) {
	since, otherUser, err := parseTimeUUIDCursor(s)
	if err != nil {
		return FriendCursor{}, fmt.Errorf("model: malformed friend cursor: %w", err)
	}
	return FriendCursor{Since: since, OtherUser: otherUser}, nil
}

// parseTimeUUIDCursor decodes the shared "<RFC3339>~<UUID>" wire form
// every (timestamp, tiebreaker) cursor in this package uses.
func parseTimeUUIDCursor(s string) (time.Time, uuid.UUID, error) {
	ts, id, ok := strings.Cut(s, "~")
	if !ok {
		return time.Time{}, uuid.Nil, fmt.Errorf("missing separator in %q", s)
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("timestamp: %w", err)
	}
	tiebreaker, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("tiebreaker: %w", err)
	}
	return at, tiebreaker, nil
}

// FriendSummary is one row of a friend list.
type FriendSummary struct {
	UserID         UserID
	Username       string
	ConversationID ConversationID
	Since          time.Time
}
