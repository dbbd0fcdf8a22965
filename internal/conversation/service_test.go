package conversation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/conversation"
	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/relationship"
	"github.com/shopmindai/chatcore/internal/storage"
	"github.com/shopmindai/chatcore/internal/testutil"
)

// newDirectConversation wires two fresh users into a direct conversation
// via the relationship service, the only thing in this module that
// actually creates one.
func newDirectConversation(t *testing.T, ctx context.Context, fixture *testutil.PostgresFixture) (model.ConversationID, model.UserID, model.UserID) {
	t.Helper()
	rel := relationship.New(fixture.DB)
	alice := mustCreateUser(t, ctx, fixture, "alice")
	bob := mustCreateUser(t, ctx, fixture, "bob")
	convID, err := rel.AddFriend(ctx, alice, bob)
	require.NoError(t, err)
	return convID, alice, bob
}

func mustCreateUser(t *testing.T, ctx context.Context, fixture *testutil.PostgresFixture, username string) model.UserID {
	t.Helper()
	userID := model.NewID()
	require.NoError(t, storage.NewUserRepo().CreateWithCredentials(ctx, fixture.DB, userID, fmt.Sprintf("%s-%s", username, userID), "hash"))
	return userID
}

func TestSendMessage_AssignsGapFreeOffsets(t *testing.T) {
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	ctx := context.Background()
	svc := conversation.New(fixture.DB)
	convID, alice, _ := newDirectConversation(t, ctx, fixture)

	for i := 1; i <= 5; i++ {
		rec, err := svc.SendMessage(ctx, convID, alice, fmt.Sprintf("msg %d", i), model.NewID())
		require.NoError(t, err)
		assert.Equal(t, model.MessageOffset(i), rec.MessageOffset)
	}
}

func TestSendMessage_ConcurrentSendersGetDistinctConsecutiveOffsets(t *testing.T) {
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	ctx := context.Background()
	svc := conversation.New(fixture.DB)
	convID, alice, bob := newDirectConversation(t, ctx, fixture)

	const n = 20
	offsets := make([]model.MessageOffset, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			sender := alice
			if i%2 == 0 {
				sender = bob
			}
			rec, err := svc.SendMessage(ctx, convID, sender, fmt.Sprintf("msg %d", i), model.NewID())
			offsets[i] = rec.MessageOffset
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[model.MessageOffset]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		off := offsets[i]
		assert.False(t, seen[off], "offset %d was assigned to two concurrent sends", off)
		seen[off] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[model.MessageOffset(i)], "offset %d is missing: the sequence must be gap-free", i)
	}
}

func TestSendMessage_DuplicateMessageIDReturnsExistingRecordWithoutNewOffset(t *testing.T) {
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	ctx := context.Background()
	svc := conversation.New(fixture.DB)
	convID, alice, _ := newDirectConversation(t, ctx, fixture)

	messageID := model.NewID()
	first, err := svc.SendMessage(ctx, convID, alice, "hello", messageID)
	require.NoError(t, err)

	second, err := svc.SendMessage(ctx, convID, alice, "hello", messageID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "a retried send with the same message_id must return the original row unchanged")

	// The next distinct send must still land on offset 2: the retry
	// above must not have burned offset 2 for itself.
	third, err := svc.SendMessage(ctx, convID, alice, "world", model.NewID())
	require.NoError(t, err)
	assert.Equal(t, model.MessageOffset(2), third.MessageOffset)

	var eventCount int
	require.NoError(t, fixture.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE event_type = 'chat.message.new'`,
	).Scan(&eventCount))
	assert.Equal(t, 2, eventCount, "the duplicate send must not enqueue a second outbox event")
}

func TestSendMessage_NonMemberRejected(t *testing.T) {
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	ctx := context.Background()
	svc := conversation.New(fixture.DB)
	convID, _, _ := newDirectConversation(t, ctx, fixture)
	outsider := mustCreateUser(t, ctx, fixture, "outsider")

	_, err := svc.SendMessage(ctx, convID, outsider, "hi", model.NewID())
	assert.ErrorIs(t, err, conversation.ErrNotMember)

	var count int
	require.NoError(t, fixture.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, convID,
	).Scan(&count))
	assert.Equal(t, 0, count, "a rejected send must not write any message row")
}

func TestGetHistory_Pagination(t *testing.T) {
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	ctx := context.Background()
	svc := conversation.New(fixture.DB)
	convID, alice, _ := newDirectConversation(t, ctx, fixture)

	for i := 1; i <= 15; i++ {
		_, err := svc.SendMessage(ctx, convID, alice, fmt.Sprintf("msg %d", i), model.NewID())
		require.NoError(t, err)
	}

	firstPage, err := svc.GetHistory(ctx, alice, convID, 10, nil)
	require.NoError(t, err)
	require.Len(t, firstPage, 10)
	assert.Equal(t, model.MessageOffset(6), firstPage[0].MessageOffset)
	assert.Equal(t, model.MessageOffset(15), firstPage[len(firstPage)-1].MessageOffset)

	secondPage, err := svc.GetHistory(ctx, alice, convID, 10, &model.OffsetCursor{Offset: firstPage[0].MessageOffset})
	require.NoError(t, err)
	require.Len(t, secondPage, 5)
	assert.Equal(t, model.MessageOffset(1), secondPage[0].MessageOffset)
	assert.Equal(t, model.MessageOffset(5), secondPage[len(secondPage)-1].MessageOffset)
}

func TestGetHistory_EmptyConversationReturnsEmptyPage(t *testing.T) {
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	ctx := context.Background()
	svc := conversation.New(fixture.DB)
	convID, alice, _ := newDirectConversation(t, ctx, fixture)

	page, err := svc.GetHistory(ctx, alice, convID, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestGetHistory_PageSizeOneReturnsLatestMessage(t *testing.T) {
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	ctx := context.Background()
	svc := conversation.New(fixture.DB)
	convID, alice, _ := newDirectConversation(t, ctx, fixture)

	for i := 1; i <= 3; i++ {
		_, err := svc.SendMessage(ctx, convID, alice, fmt.Sprintf("msg %d", i), model.NewID())
		require.NoError(t, err)
	}

	page, err := svc.GetHistory(ctx, alice, convID, 1, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, model.MessageOffset(3), page[0].MessageOffset)
}

func TestRecentConversations_OrderedByLastActivity(t *testing.T) {
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	ctx := context.Background()
	convSvc := conversation.New(fixture.DB)
	relSvc := relationship.New(fixture.DB)

	alice := mustCreateUser(t, ctx, fixture, "alice")
	bob := mustCreateUser(t, ctx, fixture, "bob")
	carol := mustCreateUser(t, ctx, fixture, "carol")

	convAB, err := relSvc.AddFriend(ctx, alice, bob)
	require.NoError(t, err)
	convAC, err := relSvc.AddFriend(ctx, alice, carol)
	require.NoError(t, err)

	// convAC gets the more recent message, so it must sort first.
	_, err = convSvc.SendMessage(ctx, convAB, alice, "hi bob", model.NewID())
	require.NoError(t, err)
	_, err = convSvc.SendMessage(ctx, convAC, alice, "hi carol", model.NewID())
	require.NoError(t, err)

	recents, err := convSvc.RecentConversations(ctx, alice, model.DefaultPageSize, nil)
	require.NoError(t, err)
	require.Len(t, recents, 2)
	assert.Equal(t, convAC, recents[0].ConversationID)
	assert.Equal(t, convAB, recents[1].ConversationID)
	assert.Equal(t, bob, *recents[1].PeerUserID)
}

func TestRecentConversations_ExcludesConversationsWithNoActivity(t *testing.T) {
	fixture := testutil.NewPostgresFixture(t, "file://../../migrations")
	ctx := context.Background()
	convSvc := conversation.New(fixture.DB)

	alice := mustCreateUser(t, ctx, fixture, "alice")
	_ = mustCreateUser(t, ctx, fixture, "bob")
	relSvc := relationship.New(fixture.DB)
	_, err := relSvc.AddFriend(ctx, alice, mustCreateUser(t, ctx, fixture, "dana"))
	require.NoError(t, err)

	recents, err := convSvc.RecentConversations(ctx, alice, model.DefaultPageSize, nil)
	require.NoError(t, err)
	assert.Empty(t, recents, "a conversation with no messages yet must never appear in the recent list")
}
