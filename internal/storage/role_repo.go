package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopmindai/chatcore/internal/model"
)

type RoleRepo struct{}

func NewRoleRepo() *RoleRepo { return &RoleRepo{} }

// EnsureDefaultsInTx seeds the owner and member roles for
// conversation_id, plus their default permissions: owner may send
// messages and invite members, member may only send messages.
func (r *RoleRepo) EnsureDefaultsInTx(ctx context.Context, tx *sql.Tx, conversationID model.ConversationID) error {
	ownerID, err := r.upsertRole(ctx, tx, conversationID, model.GroupRoleOwner)
	if err != nil {
		return err
	}
	memberID, err := r.upsertRole(ctx, tx, conversationID, model.GroupRoleMember)
	if err != nil {
		return err
	}

	if err := r.seedPerm(ctx, tx, ownerID, "message.send"); err != nil {
		return err
	}
	if err := r.seedPerm(ctx, tx, ownerID, "member.invite"); err != nil {
		return err
	}
	if err := r.seedPerm(ctx, tx, memberID, "message.send"); err != nil {
		return err
	}
	return nil
}

func (r *RoleRepo) upsertRole(ctx context.Context, tx *sql.Tx, conversationID model.ConversationID, name model.GroupMemberRole) (uuid.UUID, error) {
	var roleID uuid.UUID
	err := tx.QueryRowContext(ctx, `
		INSERT INTO conversation_roles (role_id, conversation_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING role_id
	`, uuid.New(), conversationID, string(name)).Scan(&roleID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: upsert role %s: %w", name, err)
	}
	return roleID, nil
}

func (r *RoleRepo) seedPerm(ctx context.Context, tx *sql.Tx, roleID uuid.UUID, permKey string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, perm_key, effect)
		VALUES ($1, $2, 'allow')
		ON CONFLICT (role_id, perm_key) DO UPDATE SET effect = EXCLUDED.effect
	`, roleID, permKey)
	if err != nil {
		return fmt.Errorf("storage: seed permission %s: %w", permKey, err)
	}
	return nil
}

// AssignRoleByNameInTx ensures membership exists, then assigns
// role_name to user_id on conversation_id.
func (r *RoleRepo) AssignRoleByNameInTx(ctx context.Context, tx *sql.Tx, conversationID model.ConversationID, userID model.UserID, name model.GroupMemberRole) error {
	var roleID uuid.UUID
	err := tx.QueryRowContext(ctx, `
		SELECT role_id FROM conversation_roles WHERE conversation_id = $1 AND name = $2
	`, conversationID, string(name)).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("storage: role %s not found for conversation %s", name, conversationID)
	}
	if err != nil {
		return fmt.Errorf("storage: resolve role %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, conversationID, userID); err != nil {
		return fmt.Errorf("storage: ensure membership: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_member_roles (conversation_id, user_id, role_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id, role_id) DO NOTHING
	`, conversationID, userID, roleID); err != nil {
		return fmt.Errorf("storage: assign role: %w", err)
	}
	return nil
}

var ErrNotMember = errors.New("storage: user is not a member of this conversation")

// GetRoleInTx returns user_id's role on conversation_id.
func (r *RoleRepo) GetRoleInTx(ctx context.Context, tx *sql.Tx, userID model.UserID, conversationID model.ConversationID) (model.GroupMemberRole, error) {
	var name string
	err := tx.QueryRowContext(ctx, `
		SELECT r.name
		FROM conversation_roles r
		JOIN conversation_member_roles m ON m.role_id = r.role_id
		WHERE m.user_id = $1 AND m.conversation_id = $2
	`, userID, conversationID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("storage: get role: %w", err)
	}
	return model.GroupMemberRole(name), nil
}
