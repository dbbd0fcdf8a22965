package model

import (
	"fmt"
	"time"
)

// GroupMemberRole is a per-conversation role name, not a global role.
type GroupMemberRole string

const (
	GroupRoleOwner  GroupMemberRole = "owner"
	GroupRoleMember GroupMemberRole = "member"
)

// GroupCursor paginates the group list, ordered (created_at DESC,
// group_id DESC).
type GroupCursor struct {
	CreatedAt time.Time
	GroupID   GroupID
}

func (c GroupCursor) String() string {
	return c.CreatedAt.Format(time.RFC3339Nano) + "~" + c.GroupID.String()
}

func ParseGroupCursor(s string) (GroupCursor, error) {
	createdAt, groupID, err := parseTimeUUIDCursor(s)
	if err != nil {
		return GroupCursor{}, fmt.Errorf("model: malformed group cursor: %w", err)
	}
	return GroupCursor{CreatedAt: createdAt, GroupID: groupID}, nil
}

// MemberCursor paginates a group's member list, ordered (joined_at DESC,
// user_id DESC).
type MemberCursor struct {
	JoinedAt time.Time
	UserID   UserID
}

func (c MemberCursor) String() string {
	return c.JoinedAt.Format(time.RFC3339Nano) + "~" + c.UserID.String()
}

func ParseMemberCursor(s string) (MemberCursor, error) {
	joinedAt, userID, err := parseTimeUUIDCursor(s)
	if err != nil {
		return MemberCursor{}, fmt.Errorf("model: malformed member cursor: %w", err)
	}
	return MemberCursor{JoinedAt: joinedAt, UserID: userID}, nil
}

// GroupSummary is one row of a user's group list.
type GroupSummary struct {
	GroupID        GroupID
	Name           string
	MyRole         GroupMemberRole
	ConversationID ConversationID
	MemberCount    int
	CreatedAt      time.Time
}

// GroupShortSummary is the minimal group projection used when composing
// a group.new event payload.
type GroupShortSummary struct {
	GroupID        GroupID
	Name           string
	ConversationID ConversationID
}

// MemberSummary is one row of a group's member list.
type MemberSummary struct {
	UserID   UserID
	Username string
	JoinedAt time.Time
}
