package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/authn"
	"github.com/shopmindai/chatcore/internal/conversation"
	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/relationship"
)

type fakeAuth struct {
	signupID model.UserID
	loginErr error
}

func (f *fakeAuth) Signup(ctx context.Context, username, password string) (model.UserID, error) {
	if username == "taken" {
		return model.UserID{}, authn.ErrUsernameTaken
	}
	return f.signupID, nil
}

func (f *fakeAuth) Login(ctx context.Context, username, password string) (model.UserID, authn.Tokens, error) {
	if f.loginErr != nil {
		return model.UserID{}, authn.Tokens{}, f.loginErr
	}
	return f.signupID, authn.Tokens{AccessToken: "access", RefreshToken: "refresh", AccessExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (model.UserID, authn.Tokens, error) {
	if refreshToken != "refresh" {
		return model.UserID{}, authn.Tokens{}, authn.ErrInvalidRefresh
	}
	return f.signupID, authn.Tokens{AccessToken: "access2", RefreshToken: "refresh2"}, nil
}

type fakeVerifier struct {
	userID model.UserID
}

func (f *fakeVerifier) Verify(ctx context.Context, bearer string) (model.UserID, error) {
	if bearer != "Bearer good" {
		return model.UserID{}, authn.ErrInvalidToken
	}
	return f.userID, nil
}

type fakeRelationships struct {
	RelationshipService
	conversationID model.ConversationID
	resolved       map[string]model.UserID
	addFriendErr   error
}

func (f *fakeRelationships) ResolveUsername(ctx context.Context, username string) (model.UserID, error) {
	id, ok := f.resolved[username]
	if !ok {
		return model.UserID{}, relationship.ErrUserNotFound
	}
	return id, nil
}

func (f *fakeRelationships) AddFriend(ctx context.Context, me, other model.UserID) (model.ConversationID, error) {
	if f.addFriendErr != nil {
		return model.ConversationID{}, f.addFriendErr
	}
	return f.conversationID, nil
}

type fakeConversations struct {
	ConversationService
	historyErr error
	history    []model.MessageRecord
}

func (f *fakeConversations) GetHistory(ctx context.Context, userID model.UserID, conversationID model.ConversationID, pageSize model.PageSize, before *model.OffsetCursor) ([]model.MessageRecord, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func newTestAPI(auth *fakeAuth, rel *fakeRelationships, conv *fakeConversations, me model.UserID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	l := logrus.New()
	l.SetOutput(io.Discard)

	api := New(auth, authn.FakeCaptchaVerifier{}, &fakeVerifier{userID: me}, rel, conv, logrus.NewEntry(l))
	r := gin.New()
	api.Register(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, bearer string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSignup_OK(t *testing.T) {
	me := model.NewID()
	r := newTestAPI(&fakeAuth{signupID: me}, &fakeRelationships{}, &fakeConversations{}, me)

	w, resp := doJSON(t, r, http.MethodPost, "/signup", "", gin.H{
		"username": "alice", "password": "pw-123456", "captcha_id": "0", "captcha_answer": "1",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestSignup_DuplicateUsernameConflicts(t *testing.T) {
	me := model.NewID()
	r := newTestAPI(&fakeAuth{signupID: me}, &fakeRelationships{}, &fakeConversations{}, me)

	w, resp := doJSON(t, r, http.MethodPost, "/signup", "", gin.H{
		"username": "taken", "password": "pw-123456", "captcha_answer": "1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "conflict", resp.Error.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	me := model.NewID()
	r := newTestAPI(&fakeAuth{signupID: me, loginErr: authn.ErrInvalidCredentials}, &fakeRelationships{}, &fakeConversations{}, me)

	w, resp := doJSON(t, r, http.MethodPost, "/login", "", gin.H{
		"username": "alice", "password": "wrong", "captcha_answer": "1",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, resp.Success)
}

func TestAuthedRoutes_RejectMissingBearer(t *testing.T) {
	me := model.NewID()
	r := newTestAPI(&fakeAuth{}, &fakeRelationships{}, &fakeConversations{}, me)

	w, _ := doJSON(t, r, http.MethodGet, "/friend_list", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAddFriend_ResolvesUsername(t *testing.T) {
	me, bob, conv := model.NewID(), model.NewID(), model.NewID()
	rel := &fakeRelationships{conversationID: conv, resolved: map[string]model.UserID{"bob": bob}}
	r := newTestAPI(&fakeAuth{}, rel, &fakeConversations{}, me)

	w, resp := doJSON(t, r, http.MethodPost, "/add_friend", "Bearer good", gin.H{"other": "bob"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, _ = doJSON(t, r, http.MethodPost, "/add_friend", "Bearer good", gin.H{"other": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddFriend_SelfIsValidationError(t *testing.T) {
	me := model.NewID()
	rel := &fakeRelationships{resolved: map[string]model.UserID{"me": me}, addFriendErr: relationship.ErrSelfFriend}
	r := newTestAPI(&fakeAuth{}, rel, &fakeConversations{}, me)

	w, _ := doJSON(t, r, http.MethodPost, "/add_friend", "Bearer good", gin.H{"other": "me"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConversationHistory_NonMemberForbidden(t *testing.T) {
	me := model.NewID()
	conv := &fakeConversations{historyErr: conversation.ErrNotMember}
	r := newTestAPI(&fakeAuth{}, &fakeRelationships{}, conv, me)

	w, _ := doJSON(t, r, http.MethodGet, "/conversation_history?conversation_id="+model.NewID().String(), "Bearer good", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConversationHistory_MalformedCursor(t *testing.T) {
	me := model.NewID()
	r := newTestAPI(&fakeAuth{}, &fakeRelationships{}, &fakeConversations{}, me)

	w, _ := doJSON(t, r, http.MethodGet, "/conversation_history?conversation_id="+model.NewID().String()+"&before=abc", "Bearer good", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
