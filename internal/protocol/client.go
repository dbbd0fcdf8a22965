// Package protocol defines the JSON wire envelopes exchanged over the
// client websocket connection and the fan-out payload carried inside
// outbox events.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shopmindai/chatcore/internal/model"
)

// C2SCommand is tagged by Type; Content carries the type-specific
// payload. This mirrors a tag/content wire encoding rather than Go's
// usual flat-struct-with-omitempty idiom, because the set of commands
// is closed and the client payloads are produced by a non-Go peer.
type C2SCommand struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

const TypeChatMessageSend = "chatmessagesend"

// ChatMessageSend is the only inbound command: post a message into a
// conversation the sender is a member of.
type ChatMessageSend struct {
	ConversationID model.ConversationID `json:"conversation_id"`
	MessageID      model.MessageID      `json:"message_id"`
	Content        string               `json:"content"`
}

// DecodeChatMessageSend unwraps cmd.Content, returning an error if cmd
// is not a chatmessagesend command.
func DecodeChatMessageSend(cmd C2SCommand) (ChatMessageSend, error) {
	if cmd.Type != TypeChatMessageSend {
		return ChatMessageSend{}, fmt.Errorf("protocol: unexpected command type %q", cmd.Type)
	}
	var out ChatMessageSend
	if err := json.Unmarshal(cmd.Content, &out); err != nil {
		return ChatMessageSend{}, fmt.Errorf("protocol: decode chatmessagesend: %w", err)
	}
	return out, nil
}

// ParseC2SCommand decodes a raw inbound websocket text frame. The
// sender is never carried on the wire: it is bound to the connection
// at upgrade time (the authenticated identity), not supplied by the
// client payload.
func ParseC2SCommand(raw []byte) (C2SCommand, error) {
	var cmd C2SCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return C2SCommand{}, fmt.Errorf("protocol: malformed envelope: %w", err)
	}
	return cmd, nil
}
