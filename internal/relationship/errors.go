package relationship

import "errors"

// These are the typed errors a caller (the session hub's command
// handler, or an HTTP layer) branches on; everything else is wrapped
// as a plain storage error.
var (
	ErrSelfFriend      = errors.New("relationship: cannot befriend self")
	ErrUserNotFound    = errors.New("relationship: user not found")
	ErrNotOwner        = errors.New("relationship: host is not the group owner")
	ErrGroupNotFound   = errors.New("relationship: group not found")
	ErrInconsistent    = errors.New("relationship: inconsistent idempotency state")
	ErrIdempotencyFail = errors.New("relationship: previous attempt failed under this key")
)
