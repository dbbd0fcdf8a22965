package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// fakeDispatcher returns a caller-supplied ack for every command, or
// err for every command when it is set, so tests can exercise the
// "command dropped" path.
type fakeDispatcher struct {
	ack protocol.S2CEvent
	err error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, sender model.UserID, cmd protocol.C2SCommand) (protocol.S2CEvent, error) {
	if d.err != nil {
		return protocol.S2CEvent{}, d.err
	}
	return d.ack, nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.FatalLevel)
	return logrus.NewEntry(l)
}

func newTestServer(t *testing.T, h *Hub, userID model.UserID) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		h.Accept(r.Context(), userID, conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return srv, conn
}

func TestHub_AcceptAndEnqueueFanout(t *testing.T) {
	userID := model.NewID()
	other := model.NewID()
	h := New(Config{}, &fakeDispatcher{}, testLogger())

	srv, conn := newTestServer(t, h, userID)
	defer srv.Close()
	defer conn.Close()

	require.Eventually(t, func() bool {
		return h.Enqueue(userID, protocol.NewFriendshipNew(protocol.FriendshipNew{
			ConversationID: model.NewID(),
			Other:          other,
			Username:       "alice",
		})) == nil
	}, time.Second, 5*time.Millisecond)

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev protocol.S2CEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, protocol.TypeFriendshipNew, ev.Type)
}

func TestHub_EnqueueNotConnected(t *testing.T) {
	h := New(Config{}, &fakeDispatcher{}, testLogger())
	err := h.Enqueue(model.NewID(), protocol.S2CEvent{Type: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestHub_EnqueueBackpressure(t *testing.T) {
	userID := model.NewID()
	h := New(Config{MailboxCapacity: 1}, &fakeDispatcher{}, testLogger())

	// Install a record with no actor behind it: a live outbound sender
	// parked on the mailbox would take the filler straight off the
	// channel and leave room for the overflow event.
	rec := &ClientRecord{userID: userID, mailbox: make(chan protocol.S2CEvent, h.cfg.MailboxCapacity)}
	h.mu.Lock()
	h.clients[userID] = rec
	h.mu.Unlock()
	rec.mailbox <- protocol.S2CEvent{Type: "filler"}

	err := h.Enqueue(userID, protocol.S2CEvent{Type: "overflow"})
	assert.ErrorIs(t, err, ErrBackpressure)
}

func TestHub_DispatchChatMessageSendAcks(t *testing.T) {
	userID := model.NewID()
	ack := protocol.NewChatMessageACK(protocol.ChatMessageACK{
		ConversationID: model.NewID(),
		MessageID:      model.NewID(),
		MessageOffset:  1,
		CreatedAt:      time.Now().UTC(),
	})
	h := New(Config{}, &fakeDispatcher{ack: ack}, testLogger())

	srv, conn := newTestServer(t, h, userID)
	defer srv.Close()
	defer conn.Close()

	cmd := protocol.C2SCommand{
		Type:    protocol.TypeChatMessageSend,
		Content: json.RawMessage(`{"conversation_id":"` + model.NewID().String() + `","message_id":"` + model.NewID().String() + `","content":"hi"}`),
	}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, gotRaw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got protocol.S2CEvent
	require.NoError(t, json.Unmarshal(gotRaw, &got))
	assert.Equal(t, protocol.TypeChatMessageACK, got.Type)
}

func TestHub_ReloginCancelsPreviousActor(t *testing.T) {
	userID := model.NewID()
	h := New(Config{}, &fakeDispatcher{}, testLogger())

	srv, conn1 := newTestServer(t, h, userID)
	defer srv.Close()
	defer conn1.Close()

	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		_, ok := h.clients[userID]
		return ok
	}, time.Second, 5*time.Millisecond)

	h.mu.RLock()
	firstDone := h.clients[userID].done
	h.mu.RUnlock()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn2.Close()

	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("previous actor was not cancelled on re-login")
	}

	_, _, err = conn1.ReadMessage()
	assert.Error(t, err, "superseded connection should be closed")
}

func TestHub_RateLimitThrottlesBurstAboveConfiguredRate(t *testing.T) {
	userID := model.NewID()
	ack := protocol.NewChatMessageACK(protocol.ChatMessageACK{
		ConversationID: model.NewID(),
		MessageID:      model.NewID(),
		MessageOffset:  1,
		CreatedAt:      time.Now().UTC(),
	})
	h := New(Config{MessageRateLimit: 1, MessageRateBurst: 1}, &fakeDispatcher{ack: ack}, testLogger())

	srv, conn := newTestServer(t, h, userID)
	defer srv.Close()
	defer conn.Close()

	send := func() {
		cmd := protocol.C2SCommand{
			Type:    protocol.TypeChatMessageSend,
			Content: json.RawMessage(`{"conversation_id":"` + model.NewID().String() + `","message_id":"` + model.NewID().String() + `","content":"hi"}`),
		}
		raw, err := json.Marshal(cmd)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
	}

	// Burst of one is consumed by the first command; the second, sent
	// immediately after, must be throttled rather than dispatched.
	send()
	send()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// The ack for the accepted command and the notice for the throttled
	// one both land on the control channel; the dispatcher runs
	// asynchronously so their relative arrival order isn't guaranteed.
	var sawAck, sawNotice bool
	for i := 0; i < 2; i++ {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev protocol.S2CEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		switch ev.Type {
		case protocol.TypeChatMessageACK:
			sawAck = true
		case "notice":
			var content string
			require.NoError(t, json.Unmarshal(ev.Content, &content))
			assert.Contains(t, content, "throttled")
			sawNotice = true
		}
	}
	assert.True(t, sawAck, "the first command, within the burst allowance, must be dispatched and acked")
	assert.True(t, sawNotice, "the second command, exceeding the burst allowance, must be throttled")
}

func TestHub_Shutdown(t *testing.T) {
	userID := model.NewID()
	h := New(Config{}, &fakeDispatcher{}, testLogger())

	srv, conn := newTestServer(t, h, userID)
	defer srv.Close()
	defer conn.Close()

	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.clients) == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.Shutdown(ctx)

	h.mu.RLock()
	defer h.mu.RUnlock()
	assert.Empty(t, h.clients)
}
