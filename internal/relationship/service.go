// Package relationship implements friend and group management: the
// two idempotent "claim" workflows and their member/role bookkeeping.
package relationship

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/protocol"
	"github.com/shopmindai/chatcore/internal/storage"
)

const defaultMemberPageSize = model.PageSize(100)

// Service implements add-friend, create-group, invite-to-group, and
// the three list operations. It owns no state beyond its repositories
// and the shared *sql.DB; every multi-statement write opens its own
// transaction via storage.WithTx.
type Service struct {
	db *sql.DB

	users        *storage.UserRepo
	friendships  *storage.FriendshipRepo
	groups       *storage.GroupRepo
	groupIdem    *storage.GroupIdemRepo
	conversation *storage.ConversationRepo
	roles        *storage.RoleRepo
	outbox       *storage.OutboxRepo
}

func New(db *sql.DB) *Service {
	return &Service{
		db:           db,
		users:        storage.NewUserRepo(),
		friendships:  storage.NewFriendshipRepo(),
		groups:       storage.NewGroupRepo(),
		groupIdem:    storage.NewGroupIdemRepo(),
		conversation: storage.NewConversationRepo(),
		roles:        storage.NewRoleRepo(),
		outbox:       storage.NewOutboxRepo(),
	}
}

// AddFriend wins or reads the (user_min, user_max) claim row. Only the
// winner writes; the winner and loser both end up returning the same
// conversation id.
func (s *Service) AddFriend(ctx context.Context, me, other model.UserID) (model.ConversationID, error) {
	if me == other {
		return model.ConversationID{}, ErrSelfFriend
	}
	pair := model.NewUserPair(me, other)

	claim, err := s.friendships.Claim(ctx, s.db, pair, me)
	if err != nil {
		return model.ConversationID{}, fmt.Errorf("relationship: claim friendship: %w", err)
	}

	if claim == storage.FriendshipClaimExisting {
		convID, err := s.friendships.GetConversationIDByPair(ctx, s.db, pair)
		if err != nil {
			return model.ConversationID{}, fmt.Errorf("%w: %v", ErrInconsistent, err)
		}
		return convID, nil
	}

	conversationID := model.NewID()
	err = storage.WithTx(ctx, s.db, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		if err := s.conversation.CreateInTx(ctx, tx, conversationID, model.ConversationKindDirect); err != nil {
			return err
		}
		if err := s.conversation.AddMemberInTx(ctx, tx, conversationID, me); err != nil {
			return err
		}
		if err := s.conversation.AddMemberInTx(ctx, tx, conversationID, other); err != nil {
			return err
		}
		if err := s.friendships.InsertDirectPairInTx(ctx, tx, pair, conversationID); err != nil {
			return err
		}

		me2, err := s.users.GetByID(ctx, tx, me)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		}

		event := protocol.NewFriendshipNew(protocol.FriendshipNew{
			ConversationID: conversationID,
			Other:          me,
			Username:       me2.Username,
		})
		partitionKey := conversationID.String()
		return s.outbox.EnqueueInTx(ctx, tx, model.NewID(), storage.EventFriendshipNew, &partitionKey, []model.UserID{other}, event)
	})
	if err != nil {
		return model.ConversationID{}, err
	}
	return conversationID, nil
}

func (s *Service) ListFriends(ctx context.Context, userID model.UserID, pageSize model.PageSize, after *model.FriendCursor) ([]model.FriendSummary, error) {
	return s.friendships.ListFriendsWithConversations(ctx, s.db, userID, pageSize, after)
}

// ResolveUsername maps a username to its user id; friend requests are
// addressed by username on the wire.
func (s *Service) ResolveUsername(ctx context.Context, username string) (model.UserID, error) {
	u, err := s.users.GetByUsername(ctx, s.db, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.UserID{}, ErrUserNotFound
		}
		return model.UserID{}, err
	}
	return u.UserID, nil
}

// CreateGroup wins or reads the (owner, idempotency_key) claim row.
func (s *Service) CreateGroup(ctx context.Context, owner model.UserID, name string, description *string, idempotencyKey string) (model.GroupID, model.ConversationID, error) {
	proposedGroupID := model.NewID()

	claim, err := s.groupIdem.Claim(ctx, s.db, owner, idempotencyKey, proposedGroupID)
	if err != nil {
		return model.GroupID{}, model.ConversationID{}, fmt.Errorf("relationship: claim group idempotency: %w", err)
	}

	if claim.Won {
		groupID, conversationID, createErr := s.createGroupInternal(ctx, owner, name, description, claim.GroupID)
		if createErr != nil {
			_ = s.groupIdem.MarkFailed(ctx, s.db, owner, idempotencyKey, claim.GroupID)
			return model.GroupID{}, model.ConversationID{}, createErr
		}
		_ = s.groupIdem.MarkSucceeded(ctx, s.db, owner, idempotencyKey, groupID, conversationID)
		return groupID, conversationID, nil
	}

	switch claim.Status {
	case storage.GroupIdemSucceeded:
		if claim.ConversationID != nil {
			return claim.GroupID, *claim.ConversationID, nil
		}
		fallthrough
	case storage.GroupIdemPending:
		convID, err := s.groups.GetConversationIDByGroup(ctx, s.db, claim.GroupID)
		if err != nil {
			return model.GroupID{}, model.ConversationID{}, ErrInconsistent
		}
		_ = s.groupIdem.Repair(ctx, s.db, owner, idempotencyKey, claim.GroupID, convID)
		return claim.GroupID, convID, nil
	case storage.GroupIdemFailed:
		return model.GroupID{}, model.ConversationID{}, fmt.Errorf("%w: group %s", ErrIdempotencyFail, claim.GroupID)
	default:
		return model.GroupID{}, model.ConversationID{}, fmt.Errorf("%w: unknown status %q", ErrInconsistent, claim.Status)
	}
}

// createGroupInternal performs every write for a won claim in one
// transaction, in conversation -> group -> roles order to keep lock
// acquisition order consistent across concurrent group creations.
func (s *Service) createGroupInternal(ctx context.Context, owner model.UserID, name string, description *string, groupID model.GroupID) (model.GroupID, model.ConversationID, error) {
	conversationID := model.NewID()
	err := storage.WithTx(ctx, s.db, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		if err := s.conversation.CreateInTx(ctx, tx, conversationID, model.ConversationKindGroup); err != nil {
			return err
		}
		if err := s.groups.InsertInTx(ctx, tx, groupID, owner, name, description, conversationID); err != nil {
			return err
		}
		if err := s.roles.EnsureDefaultsInTx(ctx, tx, conversationID); err != nil {
			return err
		}
		return s.roles.AssignRoleByNameInTx(ctx, tx, conversationID, owner, model.GroupRoleOwner)
	})
	if err != nil {
		return model.GroupID{}, model.ConversationID{}, err
	}
	return groupID, conversationID, nil
}

// InviteToGroup requires host to hold the owner role on the group's
// conversation, then assigns guest the member role and notifies both
// the guest (group.new) and the rest of the group (group.member.new).
func (s *Service) InviteToGroup(ctx context.Context, group model.GroupID, host, guest model.UserID) error {
	conversationID, err := s.groups.GetConversationIDByGroup(ctx, s.db, group)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrGroupNotFound
		}
		return err
	}

	hostRole, err := storage.WithTxResult(ctx, s.db, sql.LevelReadCommitted, func(tx *sql.Tx) (model.GroupMemberRole, error) {
		return s.roles.GetRoleInTx(ctx, tx, host, conversationID)
	})
	if err != nil {
		return err
	}
	if hostRole != model.GroupRoleOwner {
		return ErrNotOwner
	}

	return storage.WithTx(ctx, s.db, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		if err := s.roles.AssignRoleByNameInTx(ctx, tx, conversationID, guest, model.GroupRoleMember); err != nil {
			return err
		}

		groupSummary, err := s.groups.GetSummaryInTx(ctx, tx, group)
		if err != nil {
			return err
		}
		partitionKey := conversationID.String()

		groupNewEvent := protocol.NewGroupNew(protocol.GroupNew{
			ConversationID: conversationID,
			GroupID:        group,
			GroupName:      groupSummary.Name,
		})
		if err := s.outbox.EnqueueInTx(ctx, tx, model.NewID(), storage.EventGroupNew, &partitionKey, []model.UserID{guest}, groupNewEvent); err != nil {
			return err
		}

		guestUser, err := s.users.GetByID(ctx, tx, guest)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		}
		members, err := s.groups.ListGroupMembersInTx(ctx, tx, group, defaultMemberPageSize, nil)
		if err != nil {
			return err
		}
		receivers := make([]model.UserID, 0, len(members))
		for _, m := range members {
			if m.UserID != host {
				receivers = append(receivers, m.UserID)
			}
		}
		if len(receivers) == 0 {
			return nil
		}

		memberNewEvent := protocol.NewGroupMemberNew(protocol.GroupMemberNew{
			ConversationID: conversationID,
			GroupID:        group,
			MemberID:       guest,
			Username:       guestUser.Username,
		})
		return s.outbox.EnqueueInTx(ctx, tx, model.NewID(), storage.EventGroupMemberNew, &partitionKey, receivers, memberNewEvent)
	})
}

func (s *Service) ListGroups(ctx context.Context, userID model.UserID, pageSize model.PageSize, after *model.GroupCursor) ([]model.GroupSummary, error) {
	return s.groups.ListGroups(ctx, s.db, userID, pageSize, after)
}

func (s *Service) ListGroupMembers(ctx context.Context, group model.GroupID, pageSize model.PageSize, after *model.MemberCursor) ([]model.MemberSummary, error) {
	return storage.WithTxResult(ctx, s.db, sql.LevelReadCommitted, func(tx *sql.Tx) ([]model.MemberSummary, error) {
		return s.groups.ListGroupMembersInTx(ctx, tx, group, pageSize, after)
	})
}
