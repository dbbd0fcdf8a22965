package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopmindai/chatcore/internal/model"
)

type ConversationRepo struct{}

func NewConversationRepo() *ConversationRepo { return &ConversationRepo{} }

// CreateInTx inserts a bare conversation row and its counter, seeded at
// 0 so the first offset MessageRepo.InsertInTx allocates is 1. Callers
// add members and roles separately (direct vs. group conversations
// wire membership differently).
func (r *ConversationRepo) CreateInTx(ctx context.Context, tx *sql.Tx, conversationID model.ConversationID, kind model.ConversationKind) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, kind) VALUES ($1, $2)`,
		conversationID, kind,
	); err != nil {
		return fmt.Errorf("storage: insert conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_counters (conversation_id, next_offset) VALUES ($1, 0)`,
		conversationID,
	); err != nil {
		return fmt.Errorf("storage: insert conversation counter: %w", err)
	}
	return nil
}

// AddMemberInTx inserts a bare membership row; it is a no-op if the
// member is already present.
func (r *ConversationRepo) AddMemberInTx(ctx context.Context, tx *sql.Tx, conversationID model.ConversationID, userID model.UserID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("storage: add conversation member: %w", err)
	}
	return nil
}

// MembershipExistsInTx reports whether user_id belongs to
// conversation_id.
func (r *ConversationRepo) MembershipExistsInTx(ctx context.Context, tx *sql.Tx, conversationID model.ConversationID, userID model.UserID) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM conversation_members WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: membership check: %w", err)
	}
	return n > 0, nil
}

// MembersExcludingInTx returns every member of conversation_id except
// exclude, used to compute event receivers.
func (r *ConversationRepo) MembersExcludingInTx(ctx context.Context, tx *sql.Tx, conversationID model.ConversationID, exclude model.UserID) ([]model.UserID, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT user_id FROM conversation_members WHERE conversation_id = $1 AND user_id <> $2
	`, conversationID, exclude)
	if err != nil {
		return nil, fmt.Errorf("storage: list members excluding: %w", err)
	}
	defer rows.Close()

	var out []model.UserID
	for rows.Next() {
		var id model.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecentConversationsInTx returns the caller's conversations ordered
// (last_msg_at DESC, conversation_id DESC), excluding conversations
// with no activity yet.
func (r *ConversationRepo) RecentConversationsInTx(ctx context.Context, tx *sql.Tx, userID model.UserID, pageSize model.PageSize, after *model.TimeCursor) ([]model.RecentConversation, error) {
	ps := pageSize.Clamp()

	var rows *sql.Rows
	var err error
	if after != nil {
		rows, err = tx.QueryContext(ctx, `
			SELECT c.conversation_id, c.kind, c.last_msg_off, c.last_msg_at
			FROM conversations c
			JOIN conversation_members cm ON cm.conversation_id = c.conversation_id
			WHERE cm.user_id = $1
			  AND c.last_msg_at IS NOT NULL
			  AND (c.last_msg_at < $2 OR (c.last_msg_at = $2 AND c.conversation_id < $3))
			ORDER BY c.last_msg_at DESC, c.conversation_id DESC
			LIMIT $4
		`, userID, after.LastMsgAt, after.ConversationID, ps)
	} else {
		rows, err = tx.QueryContext(ctx, `
			SELECT c.conversation_id, c.kind, c.last_msg_off, c.last_msg_at
			FROM conversations c
			JOIN conversation_members cm ON cm.conversation_id = c.conversation_id
			WHERE cm.user_id = $1 AND c.last_msg_at IS NOT NULL
			ORDER BY c.last_msg_at DESC, c.conversation_id DESC
			LIMIT $2
		`, userID, ps)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list recent conversations: %w", err)
	}
	defer rows.Close()

	var out []model.RecentConversation
	for rows.Next() {
		var rc model.RecentConversation
		var lastMsgAt sql.NullTime
		if err := rows.Scan(&rc.ConversationID, &rc.Kind, &rc.LastMsgOff, &lastMsgAt); err != nil {
			return nil, fmt.Errorf("storage: scan recent conversation: %w", err)
		}
		rc.LastMsgAt = lastMsgAt.Time
		out = append(out, rc)
	}
	return out, rows.Err()
}

// HydratePeerInTx fills in the peer user (direct) or group (group)
// fields of rc.
func (r *ConversationRepo) HydratePeerInTx(ctx context.Context, tx *sql.Tx, userID model.UserID, rc *model.RecentConversation) error {
	switch rc.Kind {
	case model.ConversationKindDirect:
		var peer model.UserID
		var username string
		err := tx.QueryRowContext(ctx, `
			SELECT u.user_id, u.username
			FROM conversation_members cm
			JOIN users u ON u.user_id = cm.user_id
			WHERE cm.conversation_id = $1 AND cm.user_id <> $2
		`, rc.ConversationID, userID).Scan(&peer, &username)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("storage: hydrate direct peer: %w", err)
		}
		rc.PeerUserID = &peer
		rc.PeerUsername = username
	case model.ConversationKindGroup:
		var gid model.GroupID
		var name string
		err := tx.QueryRowContext(ctx, `
			SELECT group_id, name FROM chat_groups WHERE conversation_id = $1
		`, rc.ConversationID).Scan(&gid, &name)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("storage: hydrate group peer: %w", err)
		}
		rc.GroupID = &gid
		rc.GroupName = name
	}
	return nil
}
