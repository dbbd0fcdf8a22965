package conversation

import "errors"

var (
	ErrNotMember      = errors.New("conversation: sender is not a member of this conversation")
	ErrContentTooLong = errors.New("conversation: message content exceeds the maximum length")
)
