package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopmindai/chatcore/internal/model"
)

type GroupRepo struct{}

func NewGroupRepo() *GroupRepo { return &GroupRepo{} }

func (r *GroupRepo) InsertInTx(ctx context.Context, tx *sql.Tx, groupID model.GroupID, owner model.UserID, name string, description *string, conversationID model.ConversationID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chat_groups (group_id, owner_id, name, description, conversation_id)
		VALUES ($1, $2, $3, $4, $5)
	`, groupID, owner, name, description, conversationID)
	if err != nil {
		return fmt.Errorf("storage: insert chat group: %w", err)
	}
	return nil
}

func (r *GroupRepo) GetSummaryInTx(ctx context.Context, tx *sql.Tx, groupID model.GroupID) (model.GroupShortSummary, error) {
	var s model.GroupShortSummary
	err := tx.QueryRowContext(ctx, `
		SELECT group_id, name, conversation_id FROM chat_groups WHERE group_id = $1
	`, groupID).Scan(&s.GroupID, &s.Name, &s.ConversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GroupShortSummary{}, ErrNotFound
	}
	if err != nil {
		return model.GroupShortSummary{}, fmt.Errorf("storage: get group summary: %w", err)
	}
	return s, nil
}

func (r *GroupRepo) GetConversationIDByGroup(ctx context.Context, db *sql.DB, groupID model.GroupID) (model.ConversationID, error) {
	var id model.ConversationID
	err := db.QueryRowContext(ctx, `SELECT conversation_id FROM chat_groups WHERE group_id = $1`, groupID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ConversationID{}, ErrNotFound
	}
	if err != nil {
		return model.ConversationID{}, fmt.Errorf("storage: get conversation by group: %w", err)
	}
	return id, nil
}

// ListGroups returns the groups userID belongs to, ordered
// (created_at DESC, group_id DESC), with each row's member count and
// whether userID owns it.
func (r *GroupRepo) ListGroups(ctx context.Context, db *sql.DB, userID model.UserID, pageSize model.PageSize, after *model.GroupCursor) ([]model.GroupSummary, error) {
	ps := pageSize.Clamp()

	const base = `
		SELECT
			cg.group_id, cg.name, cg.conversation_id, cg.created_at,
			(cg.owner_id = $1) AS is_owner,
			mc.member_count
		FROM chat_groups cg
		JOIN conversation_members cm ON cm.conversation_id = cg.conversation_id AND cm.user_id = $1
		JOIN (
			SELECT conversation_id, COUNT(*) AS member_count
			FROM conversation_members
			GROUP BY conversation_id
		) mc ON mc.conversation_id = cg.conversation_id
	`

	var rows *sql.Rows
	var err error
	if after != nil {
		rows, err = db.QueryContext(ctx, base+`
			WHERE cg.created_at < $2 OR (cg.created_at = $2 AND cg.group_id < $3)
			ORDER BY cg.created_at DESC, cg.group_id DESC
			LIMIT $4
		`, userID, after.CreatedAt, after.GroupID, ps)
	} else {
		rows, err = db.QueryContext(ctx, base+`
			ORDER BY cg.created_at DESC, cg.group_id DESC
			LIMIT $2
		`, userID, ps)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list groups: %w", err)
	}
	defer rows.Close()

	var out []model.GroupSummary
	for rows.Next() {
		var gs model.GroupSummary
		var isOwner bool
		if err := rows.Scan(&gs.GroupID, &gs.Name, &gs.ConversationID, &gs.CreatedAt, &isOwner, &gs.MemberCount); err != nil {
			return nil, fmt.Errorf("storage: scan group: %w", err)
		}
		if isOwner {
			gs.MyRole = model.GroupRoleOwner
		} else {
			gs.MyRole = model.GroupRoleMember
		}
		out = append(out, gs)
	}
	return out, rows.Err()
}

// ListGroupMembersInTx resolves groupID's conversation and returns its
// members ordered (joined_at DESC, user_id DESC).
func (r *GroupRepo) ListGroupMembersInTx(ctx context.Context, tx *sql.Tx, groupID model.GroupID, pageSize model.PageSize, after *model.MemberCursor) ([]model.MemberSummary, error) {
	var conversationID model.ConversationID
	err := tx.QueryRowContext(ctx, `SELECT conversation_id FROM chat_groups WHERE group_id = $1`, groupID).Scan(&conversationID)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve group conversation: %w", err)
	}

	ps := pageSize.Clamp()
	var rows *sql.Rows
	if after != nil {
		rows, err = tx.QueryContext(ctx, `
			SELECT cm.user_id, u.username, cm.joined_at
			FROM conversation_members cm
			JOIN users u ON u.user_id = cm.user_id
			WHERE cm.conversation_id = $1
			  AND (cm.joined_at < $2 OR (cm.joined_at = $2 AND cm.user_id < $3))
			ORDER BY cm.joined_at DESC, cm.user_id DESC
			LIMIT $4
		`, conversationID, after.JoinedAt, after.UserID, ps)
	} else {
		rows, err = tx.QueryContext(ctx, `
			SELECT cm.user_id, u.username, cm.joined_at
			FROM conversation_members cm
			JOIN users u ON u.user_id = cm.user_id
			WHERE cm.conversation_id = $1
			ORDER BY cm.joined_at DESC, cm.user_id DESC
			LIMIT $2
		`, conversationID, ps)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list group members: %w", err)
	}
	defer rows.Close()

	var out []model.MemberSummary
	for rows.Next() {
		var ms model.MemberSummary
		if err := rows.Scan(&ms.UserID, &ms.Username, &ms.JoinedAt); err != nil {
			return nil, fmt.Errorf("storage: scan member: %w", err)
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}
