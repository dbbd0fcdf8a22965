package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopmindai/chatcore/internal/model"
)

type FriendshipRepo struct{}

func NewFriendshipRepo() *FriendshipRepo { return &FriendshipRepo{} }

type FriendshipClaim int

const (
	FriendshipClaimWon FriendshipClaim = iota
	FriendshipClaimExisting
)

// Claim attempts to win the friendship row for pair; the unique
// constraint on (user_min, user_max) decides the race. It runs
// standalone against the pool, not inside the caller's transaction:
// the insert itself is the idempotency check.
func (r *FriendshipRepo) Claim(ctx context.Context, db *sql.DB, pair model.UserPair, requestedBy model.UserID) (FriendshipClaim, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO friendships (user_min, user_max, status, requested_by)
		VALUES ($1, $2, 'accepted', $3)
	`, pair.Min, pair.Max, requestedBy)
	if err == nil {
		return FriendshipClaimWon, nil
	}
	if IsUniqueViolation(err) {
		return FriendshipClaimExisting, nil
	}
	return 0, fmt.Errorf("storage: claim friendship: %w", err)
}

func (r *FriendshipRepo) InsertDirectPairInTx(ctx context.Context, tx *sql.Tx, pair model.UserPair, conversationID model.ConversationID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO direct_pairs (user_min, user_max, conversation_id) VALUES ($1, $2, $3)
	`, pair.Min, pair.Max, conversationID)
	if err != nil {
		return fmt.Errorf("storage: insert direct pair: %w", err)
	}
	return nil
}

func (r *FriendshipRepo) GetConversationIDByPair(ctx context.Context, db *sql.DB, pair model.UserPair) (model.ConversationID, error) {
	var id model.ConversationID
	err := db.QueryRowContext(ctx, `
		SELECT conversation_id FROM direct_pairs WHERE user_min = $1 AND user_max = $2
	`, pair.Min, pair.Max).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ConversationID{}, ErrNotFound
	}
	if err != nil {
		return model.ConversationID{}, fmt.Errorf("storage: get direct pair: %w", err)
	}
	return id, nil
}

// ListFriendsWithConversations orders by (created_at DESC,
// other_user DESC), matching the cursor contract in FriendCursor.
func (r *FriendshipRepo) ListFriendsWithConversations(ctx context.Context, db *sql.DB, userID model.UserID, pageSize model.PageSize, after *model.FriendCursor) ([]model.FriendSummary, error) {
	ps := pageSize.Clamp()

	var rows *sql.Rows
	var err error
	if after != nil {
		rows, err = db.QueryContext(ctx, `
			SELECT
				CASE WHEN $1 = f.user_min THEN f.user_max ELSE f.user_min END AS other_user,
				u.username,
				dp.conversation_id,
				f.created_at
			FROM friendships f
			JOIN direct_pairs dp ON dp.user_min = f.user_min AND dp.user_max = f.user_max
			JOIN users u ON u.user_id = CASE WHEN $1 = f.user_min THEN f.user_max ELSE f.user_min END
			WHERE f.status = 'accepted'
			  AND ($1 = f.user_min OR $1 = f.user_max)
			  AND (
			      f.created_at < $2
			      OR (f.created_at = $2 AND (CASE WHEN $1 = f.user_min THEN f.user_max ELSE f.user_min END) < $3)
			  )
			ORDER BY f.created_at DESC, other_user DESC
			LIMIT $4
		`, userID, after.Since, after.OtherUser, ps)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT
				CASE WHEN $1 = f.user_min THEN f.user_max ELSE f.user_min END AS other_user,
				u.username,
				dp.conversation_id,
				f.created_at
			FROM friendships f
			JOIN direct_pairs dp ON dp.user_min = f.user_min AND dp.user_max = f.user_max
			JOIN users u ON u.user_id = CASE WHEN $1 = f.user_min THEN f.user_max ELSE f.user_min END
			WHERE f.status = 'accepted' AND ($1 = f.user_min OR $1 = f.user_max)
			ORDER BY f.created_at DESC, other_user DESC
			LIMIT $2
		`, userID, ps)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list friends: %w", err)
	}
	defer rows.Close()

	var out []model.FriendSummary
	for rows.Next() {
		var fs model.FriendSummary
		if err := rows.Scan(&fs.UserID, &fs.Username, &fs.ConversationID, &fs.Since); err != nil {
			return nil, fmt.Errorf("storage: scan friend: %w", err)
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}
