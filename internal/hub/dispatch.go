package hub

import (
	"context"
	"fmt"

	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/protocol"
)

// Sender is the one domain capability the hub's command router needs:
// posting a message. It is satisfied by *conversation.Service; kept as
// a narrow interface here so the hub package does not import the
// conversation package's storage dependencies transitively into tests.
type Sender interface {
	SendMessage(ctx context.Context, conversationID model.ConversationID, sender model.UserID, content string, messageID model.MessageID) (model.MessageRecord, error)
}

// CommandRouter implements Dispatcher for the single recognized
// inbound command.
type CommandRouter struct {
	conversations Sender
}

func NewCommandRouter(conversations Sender) *CommandRouter {
	return &CommandRouter{conversations: conversations}
}

func (r *CommandRouter) Dispatch(ctx context.Context, sender model.UserID, cmd protocol.C2SCommand) (protocol.S2CEvent, error) {
	switch cmd.Type {
	case protocol.TypeChatMessageSend:
		req, err := protocol.DecodeChatMessageSend(cmd)
		if err != nil {
			return protocol.S2CEvent{}, err
		}
		rec, err := r.conversations.SendMessage(ctx, req.ConversationID, sender, req.Content, req.MessageID)
		if err != nil {
			return protocol.S2CEvent{}, fmt.Errorf("hub: send message: %w", err)
		}
		return protocol.NewChatMessageACK(protocol.ChatMessageACK{
			ConversationID: rec.ConversationID,
			MessageID:      rec.MessageID,
			MessageOffset:  rec.MessageOffset,
			CreatedAt:      rec.CreatedAt,
		}), nil
	default:
		return protocol.S2CEvent{}, fmt.Errorf("hub: unrecognized command type %q", cmd.Type)
	}
}
