package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendCursor_RoundTrip(t *testing.T) {
	want := FriendCursor{Since: time.Now().UTC().Truncate(time.Nanosecond), OtherUser: NewID()}

	got, err := ParseFriendCursor(want.String())
	require.NoError(t, err)
	assert.True(t, want.Since.Equal(got.Since))
	assert.Equal(t, want.OtherUser, got.OtherUser)
}

func TestParseFriendCursor_Malformed(t *testing.T) {
	_, err := ParseFriendCursor("not-a-cursor")
	assert.Error(t, err)

	_, err = ParseFriendCursor("not-a-timestamp~" + NewID().String())
	assert.Error(t, err)
}

func TestOffsetCursor_RoundTrip(t *testing.T) {
	want := OffsetCursor{Offset: 42}

	got, err := ParseOffsetCursor(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseOffsetCursor_Malformed(t *testing.T) {
	_, err := ParseOffsetCursor("not-a-number")
	assert.Error(t, err)
}

func TestGroupCursor_RoundTrip(t *testing.T) {
	want := GroupCursor{CreatedAt: time.Now().UTC(), GroupID: NewID()}

	got, err := ParseGroupCursor(want.String())
	require.NoError(t, err)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.GroupID, got.GroupID)
}

func TestMemberCursor_RoundTrip(t *testing.T) {
	want := MemberCursor{JoinedAt: time.Now().UTC(), UserID: NewID()}

	got, err := ParseMemberCursor(want.String())
	require.NoError(t, err)
	assert.True(t, want.JoinedAt.Equal(got.JoinedAt))
	assert.Equal(t, want.UserID, got.UserID)
}

func TestTimeCursor_RoundTrip(t *testing.T) {
	want := TimeCursor{LastMsgAt: time.Now().UTC(), ConversationID: NewID()}

	got, err := ParseTimeCursor(want.String())
	require.NoError(t, err)
	assert.True(t, want.LastMsgAt.Equal(got.LastMsgAt))
	assert.Equal(t, want.ConversationID, got.ConversationID)
}
