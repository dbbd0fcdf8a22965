// Package model holds the value types shared across every service layer:
// identifiers, cursors, and the read-side summary structs repositories
// return. It has no dependency on storage, transport, or config so any
// package can import it without pulling in the rest of the tree.
package model

import "github.com/google/uuid"

// UserID, ConversationID, GroupID, MessageID, and EventID are opaque
// 128-bit identifiers generated server-side.
type UserID = uuid.UUID
type ConversationID = uuid.UUID
type GroupID = uuid.UUID
type MessageID = uuid.UUID
type EventID = uuid.UUID

// NewID generates a fresh server-side identifier.
func NewID() uuid.UUID {
	return uuid.New()
}

// UserPair orders two user ids so that (min, max) is a stable key for a
// symmetric relation such as a friendship or a direct conversation.
type UserPair struct {
	Min UserID
	Max UserID
}

// NewUserPair orders a and b into a UserPair.
func NewUserPair(a, b UserID) UserPair {
	if cmpUUID(a, b) <= 0 {
		return UserPair{Min: a, Max: b}
	}
	return UserPair{Min: b, Max: a}
}

func cmpUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ConversationKind distinguishes direct (two-member) from group
// conversations.
type ConversationKind int

const (
	ConversationKindDirect ConversationKind = 1
	ConversationKindGroup  ConversationKind = 2
)

// PageSize clamps a caller-supplied page size to the server's allowed
// range before it reaches a repository query.
type PageSize uint16

const (
	DefaultPageSize PageSize = 50
	MaxPageSize     PageSize = 200
)

// Clamp returns p bounded to [1, MaxPageSize], substituting
// DefaultPageSize for zero.
func (p PageSize) Clamp() PageSize {
	switch {
	case p == 0:
		return DefaultPageSize
	case p > MaxPageSize:
		return MaxPageSize
	default:
		return p
	}
}
