package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopmindai/chatcore/internal/model"
)

type GroupIdemStatus string

const (
	GroupIdemPending   GroupIdemStatus = "pending"
	GroupIdemSucceeded GroupIdemStatus = "succeeded"
	GroupIdemFailed    GroupIdemStatus = "failed"
)

type GroupIdemClaim struct {
	Won            bool
	GroupID        model.GroupID
	Status         GroupIdemStatus
	ConversationID *model.ConversationID
}

type GroupIdemRepo struct{}

func NewGroupIdemRepo() *GroupIdemRepo { return &GroupIdemRepo{} }

// Claim attempts to win the (owner, idempotency_key) row. Losers read
// back the winner's current status and proposed group id.
func (r *GroupIdemRepo) Claim(ctx context.Context, db *sql.DB, owner model.UserID, idemKey string, proposedGroup model.GroupID) (GroupIdemClaim, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO group_creation_claims (owner_id, idempotency_key, proposed_group_id, status)
		VALUES ($1, $2, $3, 'pending')
	`, owner, idemKey, proposedGroup)
	if err == nil {
		return GroupIdemClaim{Won: true, GroupID: proposedGroup, Status: GroupIdemPending}, nil
	}
	if !IsUniqueViolation(err) {
		return GroupIdemClaim{}, fmt.Errorf("storage: claim group idempotency: %w", err)
	}

	var groupID model.GroupID
	var status string
	var conversationID uuid.NullUUID
	err = db.QueryRowContext(ctx, `
		SELECT proposed_group_id, status, conversation_id
		FROM group_creation_claims WHERE owner_id = $1 AND idempotency_key = $2
	`, owner, idemKey).Scan(&groupID, &status, &conversationID)
	if err != nil {
		return GroupIdemClaim{}, fmt.Errorf("storage: read group idempotency claim: %w", err)
	}

	claim := GroupIdemClaim{Won: false, GroupID: groupID, Status: GroupIdemStatus(status)}
	if conversationID.Valid {
		cid := conversationID.UUID
		claim.ConversationID = &cid
	}
	return claim, nil
}

func (r *GroupIdemRepo) MarkSucceeded(ctx context.Context, db *sql.DB, owner model.UserID, idemKey string, groupID model.GroupID, conversationID model.ConversationID) error {
	_, err := db.ExecContext(ctx, `
		UPDATE group_creation_claims
		SET status = 'succeeded', conversation_id = $4
		WHERE owner_id = $1 AND idempotency_key = $2 AND proposed_group_id = $3
	`, owner, idemKey, groupID, conversationID)
	if err != nil {
		return fmt.Errorf("storage: mark group idempotency succeeded: %w", err)
	}
	return nil
}

func (r *GroupIdemRepo) MarkFailed(ctx context.Context, db *sql.DB, owner model.UserID, idemKey string, groupID model.GroupID) error {
	_, err := db.ExecContext(ctx, `
		UPDATE group_creation_claims SET status = 'failed'
		WHERE owner_id = $1 AND idempotency_key = $2 AND proposed_group_id = $3
	`, owner, idemKey, groupID)
	if err != nil {
		return fmt.Errorf("storage: mark group idempotency failed: %w", err)
	}
	return nil
}

// Repair marks a pending claim, or a succeeded claim missing its
// conversation_id, as succeeded with conversationID, reconciling the
// claim row with the group table's source of truth.
func (r *GroupIdemRepo) Repair(ctx context.Context, db *sql.DB, owner model.UserID, idemKey string, groupID model.GroupID, conversationID model.ConversationID) error {
	return r.MarkSucceeded(ctx, db, owner, idemKey, groupID, conversationID)
}

