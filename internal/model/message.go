package model

import (
	"fmt"
	"strconv"
	"time"
)

// MessageOffset is a per-conversation monotonic counter assigned to each
// message at insert time; gap-free starting at 1 within a conversation.
type MessageOffset uint64

// MessageRecord is the persisted, caller-visible shape of a chat message.
type MessageRecord struct {
	MessageID      MessageID
	ConversationID ConversationID
	MessageOffset  MessageOffset
	Sender         UserID
	Content        string
	CreatedAt      time.Time
}

// OffsetCursor is the history pagination cursor: a decimal message offset.
type OffsetCursor struct {
	Offset MessageOffset
}

// String renders the cursor as its decimal external form.
func (c OffsetCursor) String() string {
	return strconv.FormatUint(uint64(c.Offset), 10)
}

// ParseOffsetCursor decodes a decimal message_offset external cursor.
func ParseOffsetCursor(s string) (OffsetCursor, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return OffsetCursor{}, fmt.Errorf("model: malformed offset cursor %q: %w", s, err)
	}
	return OffsetCursor{Offset: MessageOffset(n)}, nil
}

// TimeCursor orders recent-conversations pages by (last_msg_at DESC,
// conversation_id DESC); ConversationID is the tiebreaker.
type TimeCursor struct {
	LastMsgAt      time.Time
	ConversationID ConversationID
}

func (c TimeCursor) String() string {
	return c.LastMsgAt.Format(time.RFC3339Nano) + "~" + c.ConversationID.String()
}

func ParseTimeCursor(s string) (TimeCursor, error) {
	lastMsgAt, conversationID, err := parseTimeUUIDCursor(s)
	if err != nil {
		return TimeCursor{}, fmt.Errorf("model: malformed time cursor: %w", err)
	}
	return TimeCursor{LastMsgAt: lastMsgAt, ConversationID: conversationID}, nil
}

// RecentConversation is one hydrated row of the recent-conversations list.
type RecentConversation struct {
	ConversationID ConversationID
	Kind           ConversationKind
	LastMsgOff     MessageOffset
	LastMsgAt      time.Time
	// Peer info: for direct conversations, the other member; for group
	// conversations, the group's id and name.
	PeerUserID   *UserID
	PeerUsername string
	GroupID      *GroupID
	GroupName    string
}
