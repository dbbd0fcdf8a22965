// Package httpapi is the JSON surface in front of the auth,
// relationship, and conversation services: signup/login/refresh,
// friend and group management, and history/recent-conversation reads.
// The realtime send path does not live here; it stays on the websocket.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/authn"
	"github.com/shopmindai/chatcore/internal/conversation"
	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/relationship"
	"github.com/shopmindai/chatcore/internal/storage"
)

// AuthService is the account surface the API fronts; satisfied by
// *authn.Service.
type AuthService interface {
	Signup(ctx context.Context, username, password string) (model.UserID, error)
	Login(ctx context.Context, username, password string) (model.UserID, authn.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (model.UserID, authn.Tokens, error)
}

// RelationshipService is satisfied by *relationship.Service.
type RelationshipService interface {
	AddFriend(ctx context.Context, me, other model.UserID) (model.ConversationID, error)
	ResolveUsername(ctx context.Context, username string) (model.UserID, error)
	ListFriends(ctx context.Context, userID model.UserID, pageSize model.PageSize, after *model.FriendCursor) ([]model.FriendSummary, error)
	CreateGroup(ctx context.Context, owner model.UserID, name string, description *string, idempotencyKey string) (model.GroupID, model.ConversationID, error)
	InviteToGroup(ctx context.Context, group model.GroupID, host, guest model.UserID) error
	ListGroups(ctx context.Context, userID model.UserID, pageSize model.PageSize, after *model.GroupCursor) ([]model.GroupSummary, error)
	ListGroupMembers(ctx context.Context, group model.GroupID, pageSize model.PageSize, after *model.MemberCursor) ([]model.MemberSummary, error)
}

// ConversationService is satisfied by *conversation.Service.
type ConversationService interface {
	GetHistory(ctx context.Context, userID model.UserID, conversationID model.ConversationID, pageSize model.PageSize, before *model.OffsetCursor) ([]model.MessageRecord, error)
	RecentConversations(ctx context.Context, userID model.UserID, pageSize model.PageSize, after *model.TimeCursor) ([]model.RecentConversation, error)
}

// API holds the handlers' collaborators and registers the routes.
type API struct {
	auth          AuthService
	captcha       authn.CaptchaProvider
	verifier      authn.TokenVerifier
	relationships RelationshipService
	conversations ConversationService
	log           *logrus.Entry
}

func New(auth AuthService, captcha authn.CaptchaProvider, verifier authn.TokenVerifier, relationships RelationshipService, conversations ConversationService, log *logrus.Entry) *API {
	return &API{
		auth:          auth,
		captcha:       captcha,
		verifier:      verifier,
		relationships: relationships,
		conversations: conversations,
		log:           log,
	}
}

// Register mounts every route on r. Routes past the auth middleware
// resolve the caller from the bearer token, never from the request
// body.
func (a *API) Register(r gin.IRouter) {
	r.GET("/captcha", a.generateCaptcha)
	r.POST("/signup", a.signup)
	r.POST("/login", a.login)
	r.POST("/refresh", a.refresh)

	authed := r.Group("", a.requireAuth())
	authed.GET("/friend_list", a.friendList)
	authed.POST("/add_friend", a.addFriend)
	authed.POST("/create_group", a.createGroup)
	authed.POST("/invite_to_group", a.inviteToGroup)
	authed.GET("/group_list", a.groupList)
	authed.GET("/group_members", a.groupMembers)
	authed.GET("/conversation_history", a.conversationHistory)
	authed.GET("/recent_conversations", a.recentConversations)
}

const userIDKey = "authn.user_id"

func (a *API) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, fail("unauthorized", "invalid or missing bearer token"))
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) model.UserID {
	return c.MustGet(userIDKey).(model.UserID)
}

// response is the uniform reply envelope: exactly one of Data or Error
// is set.
type response struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ok(data any) response {
	return response{Success: true, Data: data}
}

func fail(code, message string) response {
	return response{Success: false, Error: &apiError{Code: code, Message: message}}
}

func (a *API) respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, ok(data))
}

func (a *API) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, fail("validation", message))
}

// respondError maps a service error onto the taxonomy's status codes.
// Unmapped errors are logged and reported as a bare internal failure
// so storage details never leak to a client.
func (a *API) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, authn.ErrUsernameTooShort),
		errors.Is(err, authn.ErrPasswordTooShort),
		errors.Is(err, authn.ErrPasswordTooLong),
		errors.Is(err, relationship.ErrSelfFriend),
		errors.Is(err, conversation.ErrContentTooLong):
		c.JSON(http.StatusBadRequest, fail("validation", err.Error()))
	case errors.Is(err, authn.ErrInvalidCredentials),
		errors.Is(err, authn.ErrInvalidRefresh):
		c.JSON(http.StatusUnauthorized, fail("unauthorized", err.Error()))
	case errors.Is(err, relationship.ErrNotOwner),
		errors.Is(err, conversation.ErrNotMember):
		c.JSON(http.StatusForbidden, fail("forbidden", err.Error()))
	case errors.Is(err, relationship.ErrUserNotFound),
		errors.Is(err, relationship.ErrGroupNotFound),
		errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, fail("not_found", err.Error()))
	case errors.Is(err, authn.ErrUsernameTaken),
		errors.Is(err, relationship.ErrIdempotencyFail):
		c.JSON(http.StatusConflict, fail("conflict", err.Error()))
	default:
		a.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, fail("internal", "internal error"))
	}
}
