// Package conversation implements message send, history replay, and
// recent-conversation listing — the hot path a connected client drives
// on every keystroke.
package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopmindai/chatcore/internal/metrics"
	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/protocol"
	"github.com/shopmindai/chatcore/internal/storage"
)

type Service struct {
	db *sql.DB

	users        *storage.UserRepo
	messages     *storage.MessageRepo
	conversation *storage.ConversationRepo
	outbox       *storage.OutboxRepo
}

func New(db *sql.DB) *Service {
	return &Service{
		db:           db,
		users:        storage.NewUserRepo(),
		messages:     storage.NewMessageRepo(),
		conversation: storage.NewConversationRepo(),
		outbox:       storage.NewOutboxRepo(),
	}
}

// maxContentLen bounds a single message body, well under the websocket
// frame read limit so an oversized body fails with a typed error
// instead of a dropped connection.
const maxContentLen = 4096

// SendMessage checks membership, assigns an offset, inserts the
// message, and enqueues its fan-out event, all inside one transaction
// so the message and its outbox event are never observed apart.
func (s *Service) SendMessage(ctx context.Context, conversationID model.ConversationID, sender model.UserID, content string, messageID model.MessageID) (model.MessageRecord, error) {
	if len(content) > maxContentLen {
		return model.MessageRecord{}, ErrContentTooLong
	}
	defer metrics.ObserveSendDuration(time.Now())
	rec, err := storage.WithTxResult(ctx, s.db, sql.LevelReadCommitted, func(tx *sql.Tx) (model.MessageRecord, error) {
		isMember, err := s.conversation.MembershipExistsInTx(ctx, tx, conversationID, sender)
		if err != nil {
			return model.MessageRecord{}, err
		}
		if !isMember {
			return model.MessageRecord{}, ErrNotMember
		}

		record, err := s.messages.InsertInTx(ctx, tx, conversationID, sender, content, messageID)
		if err != nil {
			return model.MessageRecord{}, err
		}

		receivers, err := s.conversation.MembersExcludingInTx(ctx, tx, conversationID, sender)
		if err != nil {
			return model.MessageRecord{}, err
		}

		senderUser, err := s.users.GetByID(ctx, tx, record.Sender)
		if err != nil {
			return model.MessageRecord{}, fmt.Errorf("conversation: query sender username: %w", err)
		}

		event := protocol.NewChatMessageNew(protocol.ChatMessageNew{
			ConversationID: record.ConversationID,
			MessageID:      record.MessageID,
			MessageOffset:  record.MessageOffset,
			Content:        record.Content,
			Sender:         record.Sender,
			Username:       senderUser.Username,
			CreatedAt:      record.CreatedAt,
		})
		partitionKey := conversationID.String()
		if err := s.outbox.EnqueueInTx(ctx, tx, model.NewID(), storage.EventChatMessageNew, &partitionKey, receivers, event); err != nil {
			return model.MessageRecord{}, err
		}

		return record, nil
	})
	if err == nil {
		metrics.MessagesSentTotal.Inc()
	}
	return rec, err
}

// GetHistory checks membership, then returns up to pageSize messages
// older than before, oldest-to-newest.
func (s *Service) GetHistory(ctx context.Context, userID model.UserID, conversationID model.ConversationID, pageSize model.PageSize, before *model.OffsetCursor) ([]model.MessageRecord, error) {
	return storage.WithTxResult(ctx, s.db, sql.LevelReadCommitted, func(tx *sql.Tx) ([]model.MessageRecord, error) {
		isMember, err := s.conversation.MembershipExistsInTx(ctx, tx, conversationID, userID)
		if err != nil {
			return nil, err
		}
		if !isMember {
			return nil, ErrNotMember
		}
		return s.messages.ListBeforeInTx(ctx, tx, conversationID, pageSize, before)
	})
}

// RecentConversations lists and hydrates userID's active conversations.
func (s *Service) RecentConversations(ctx context.Context, userID model.UserID, pageSize model.PageSize, after *model.TimeCursor) ([]model.RecentConversation, error) {
	return storage.WithTxResult(ctx, s.db, sql.LevelReadCommitted, func(tx *sql.Tx) ([]model.RecentConversation, error) {
		rcs, err := s.conversation.RecentConversationsInTx(ctx, tx, userID, pageSize, after)
		if err != nil {
			return nil, err
		}
		for i := range rcs {
			if err := s.conversation.HydratePeerInTx(ctx, tx, userID, &rcs[i]); err != nil {
				return nil, err
			}
		}
		return rcs, nil
	})
}
