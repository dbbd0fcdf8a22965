package protocol

import (
	"encoding/json"
	"time"

	"github.com/shopmindai/chatcore/internal/model"
)

// S2CEnvelope is what the outbox notifier publishes to the broker and
// what the fan-out handler hands to the session hub: a fully resolved
// receiver list plus one event body. A receiver not currently
// connected simply misses it; there is no offline queue beyond
// history replay.
type S2CEnvelope struct {
	Receivers []model.UserID `json:"receivers"`
	Body      S2CEvent       `json:"body"`
}

// S2CEvent is tagged the same way as C2SCommand.
type S2CEvent struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

const (
	TypeChatMessageACK = "chatmessageack"
	TypeChatMessageNew = "chatmessagenew"
	TypeFriendshipNew  = "friendshipnew"
	TypeGroupNew       = "groupnew"
	TypeGroupMemberNew = "groupmembernew"
)

type ChatMessageACK struct {
	ConversationID model.ConversationID `json:"conversation_id"`
	MessageID      model.MessageID      `json:"message_id"`
	MessageOffset  model.MessageOffset  `json:"message_offset"`
	CreatedAt      time.Time            `json:"created_at"`
}

type ChatMessageNew struct {
	ConversationID model.ConversationID `json:"conversation_id"`
	MessageID      model.MessageID      `json:"message_id"`
	MessageOffset  model.MessageOffset  `json:"message_offset"`
	Content        string               `json:"content"`
	Sender         model.UserID         `json:"sender"`
	Username       string               `json:"username"`
	CreatedAt      time.Time            `json:"created_at"`
}

type FriendshipNew struct {
	ConversationID model.ConversationID `json:"conversation_id"`
	Other          model.UserID         `json:"other"`
	Username       string               `json:"username"`
}

type GroupNew struct {
	ConversationID model.ConversationID `json:"conversation_id"`
	GroupID        model.GroupID        `json:"group_id"`
	GroupName      string               `json:"group_name"`
}

type GroupMemberNew struct {
	ConversationID model.ConversationID `json:"conversation_id"`
	GroupID        model.GroupID        `json:"group_id"`
	MemberID       model.UserID         `json:"member_id"`
	Username       string               `json:"username"`
}

// newEvent marshals a typed payload into a tagged S2CEvent. It panics
// only on programmer error (a payload type that cannot marshal), never
// on caller input.
func newEvent(typ string, payload any) S2CEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic("protocol: event payload does not marshal: " + err.Error())
	}
	return S2CEvent{Type: typ, Content: raw}
}

func NewChatMessageACK(p ChatMessageACK) S2CEvent { return newEvent(TypeChatMessageACK, p) }
func NewChatMessageNew(p ChatMessageNew) S2CEvent { return newEvent(TypeChatMessageNew, p) }
func NewFriendshipNew(p FriendshipNew) S2CEvent   { return newEvent(TypeFriendshipNew, p) }
func NewGroupNew(p GroupNew) S2CEvent             { return newEvent(TypeGroupNew, p) }
func NewGroupMemberNew(p GroupMemberNew) S2CEvent { return newEvent(TypeGroupMemberNew, p) }
