package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopmindai/chatcore/internal/model"
)

func (a *API) generateCaptcha(c *gin.Context) {
	captcha, err := a.captcha.Generate(c.Request.Context())
	if err != nil {
		a.respondError(c, err)
		return
	}
	a.respondOK(c, gin.H{
		"id":           captcha.ID,
		"image_base64": captcha.ImageBase64,
		"expire_at":    captcha.ExpiresAt,
	})
}

type signupRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

func (a *API) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "malformed request body")
		return
	}
	if !a.verifyCaptcha(c, req.CaptchaAnswer) {
		return
	}

	userID, err := a.auth.Signup(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		a.respondError(c, err)
		return
	}
	a.respondOK(c, gin.H{"user_id": userID})
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

type tokensDTO struct {
	UserID          model.UserID `json:"user_id"`
	AccessToken     string       `json:"access_token"`
	AccessExpiresAt time.Time    `json:"access_expires_at"`
	RefreshToken    string       `json:"refresh_token"`
}

func (a *API) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "malformed request body")
		return
	}
	if !a.verifyCaptcha(c, req.CaptchaAnswer) {
		return
	}

	userID, tokens, err := a.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		a.respondError(c, err)
		return
	}
	a.respondOK(c, tokensDTO{
		UserID:          userID,
		AccessToken:     tokens.AccessToken,
		AccessExpiresAt: tokens.AccessExpiresAt,
		RefreshToken:    tokens.RefreshToken,
	})
}

func (a *API) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "malformed request body")
		return
	}

	userID, tokens, err := a.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		a.respondError(c, err)
		return
	}
	a.respondOK(c, tokensDTO{
		UserID:          userID,
		AccessToken:     tokens.AccessToken,
		AccessExpiresAt: tokens.AccessExpiresAt,
		RefreshToken:    tokens.RefreshToken,
	})
}

func (a *API) verifyCaptcha(c *gin.Context, answer string) bool {
	passed, err := a.captcha.Verify(c.Request.Context(), answer)
	if err != nil {
		a.respondError(c, err)
		return false
	}
	if !passed {
		a.badRequest(c, "captcha answer rejected")
		return false
	}
	return true
}

type friendDTO struct {
	UserID         model.UserID         `json:"user_id"`
	Username       string               `json:"username"`
	ConversationID model.ConversationID `json:"conversation_id"`
	Since          time.Time            `json:"since"`
}

func (a *API) friendList(c *gin.Context) {
	pageSize := parsePageSize(c)
	var after *model.FriendCursor
	if s := c.Query("after"); s != "" {
		cur, err := model.ParseFriendCursor(s)
		if err != nil {
			a.badRequest(c, "malformed cursor")
			return
		}
		after = &cur
	}

	friends, err := a.relationships.ListFriends(c.Request.Context(), currentUser(c), pageSize, after)
	if err != nil {
		a.respondError(c, err)
		return
	}

	out := make([]friendDTO, 0, len(friends))
	for _, f := range friends {
		out = append(out, friendDTO{UserID: f.UserID, Username: f.Username, ConversationID: f.ConversationID, Since: f.Since})
	}
	a.respondOK(c, gin.H{"friends": out, "next": nextFriendCursor(friends)})
}

func nextFriendCursor(friends []model.FriendSummary) string {
	if len(friends) == 0 {
		return ""
	}
	last := friends[len(friends)-1]
	return model.FriendCursor{Since: last.Since, OtherUser: last.UserID}.String()
}

func (a *API) addFriend(c *gin.Context) {
	var req struct {
		Other string `json:"other"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "malformed request body")
		return
	}

	otherID, err := a.relationships.ResolveUsername(c.Request.Context(), req.Other)
	if err != nil {
		a.respondError(c, err)
		return
	}

	conversationID, err := a.relationships.AddFriend(c.Request.Context(), currentUser(c), otherID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	a.respondOK(c, gin.H{"conversation_id": conversationID})
}

func (a *API) createGroup(c *gin.Context) {
	var req struct {
		Name           string  `json:"name"`
		Description    *string `json:"description"`
		IdempotencyKey string  `json:"idempotency_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "malformed request body")
		return
	}
	if req.Name == "" || req.IdempotencyKey == "" {
		a.badRequest(c, "name and idempotency_key are required")
		return
	}

	groupID, conversationID, err := a.relationships.CreateGroup(c.Request.Context(), currentUser(c), req.Name, req.Description, req.IdempotencyKey)
	if err != nil {
		a.respondError(c, err)
		return
	}
	a.respondOK(c, gin.H{"group_id": groupID, "conversation_id": conversationID})
}

func (a *API) inviteToGroup(c *gin.Context) {
	var req struct {
		GroupID model.GroupID `json:"group_id"`
		GuestID model.UserID  `json:"guest_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "malformed request body")
		return
	}

	if err := a.relationships.InviteToGroup(c.Request.Context(), req.GroupID, currentUser(c), req.GuestID); err != nil {
		a.respondError(c, err)
		return
	}
	a.respondOK(c, gin.H{"group_id": req.GroupID, "guest_id": req.GuestID})
}

type groupDTO struct {
	GroupID        model.GroupID         `json:"group_id"`
	Name           string                `json:"name"`
	MyRole         model.GroupMemberRole `json:"my_role"`
	ConversationID model.ConversationID  `json:"conversation_id"`
	MemberCount    int                   `json:"member_count"`
	CreatedAt      time.Time             `json:"created_at"`
}

func (a *API) groupList(c *gin.Context) {
	pageSize := parsePageSize(c)
	var after *model.GroupCursor
	if s := c.Query("after"); s != "" {
		cur, err := model.ParseGroupCursor(s)
		if err != nil {
			a.badRequest(c, "malformed cursor")
			return
		}
		after = &cur
	}

	groups, err := a.relationships.ListGroups(c.Request.Context(), currentUser(c), pageSize, after)
	if err != nil {
		a.respondError(c, err)
		return
	}

	out := make([]groupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupDTO{
			GroupID:        g.GroupID,
			Name:           g.Name,
			MyRole:         g.MyRole,
			ConversationID: g.ConversationID,
			MemberCount:    g.MemberCount,
			CreatedAt:      g.CreatedAt,
		})
	}
	a.respondOK(c, gin.H{"groups": out})
}

type memberDTO struct {
	UserID   model.UserID `json:"user_id"`
	Username string       `json:"username"`
	JoinedAt time.Time    `json:"joined_at"`
}

func (a *API) groupMembers(c *gin.Context) {
	groupID, err := uuid.Parse(c.Query("group_id"))
	if err != nil {
		a.badRequest(c, "malformed group_id")
		return
	}
	pageSize := parsePageSize(c)
	var after *model.MemberCursor
	if s := c.Query("after"); s != "" {
		cur, err := model.ParseMemberCursor(s)
		if err != nil {
			a.badRequest(c, "malformed cursor")
			return
		}
		after = &cur
	}

	members, err := a.relationships.ListGroupMembers(c.Request.Context(), groupID, pageSize, after)
	if err != nil {
		a.respondError(c, err)
		return
	}

	out := make([]memberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, memberDTO{UserID: m.UserID, Username: m.Username, JoinedAt: m.JoinedAt})
	}
	a.respondOK(c, gin.H{"members": out})
}

type messageDTO struct {
	MessageID      model.MessageID      `json:"message_id"`
	ConversationID model.ConversationID `json:"conversation_id"`
	MessageOffset  model.MessageOffset  `json:"message_offset"`
	Sender         model.UserID         `json:"sender"`
	Content        string               `json:"content"`
	CreatedAt      time.Time            `json:"created_at"`
}

func (a *API) conversationHistory(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		a.badRequest(c, "malformed conversation_id")
		return
	}
	pageSize := parsePageSize(c)
	var before *model.OffsetCursor
	if s := c.Query("before"); s != "" {
		cur, err := model.ParseOffsetCursor(s)
		if err != nil {
			a.badRequest(c, "malformed cursor")
			return
		}
		before = &cur
	}

	messages, err := a.conversations.GetHistory(c.Request.Context(), currentUser(c), conversationID, pageSize, before)
	if err != nil {
		a.respondError(c, err)
		return
	}

	out := make([]messageDTO, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageDTO{
			MessageID:      m.MessageID,
			ConversationID: m.ConversationID,
			MessageOffset:  m.MessageOffset,
			Sender:         m.Sender,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		})
	}
	a.respondOK(c, gin.H{"messages": out})
}

type recentConversationDTO struct {
	ConversationID model.ConversationID `json:"conversation_id"`
	Kind           int                  `json:"kind"`
	LastMsgOff     model.MessageOffset  `json:"last_msg_off"`
	LastMsgAt      time.Time            `json:"last_msg_at"`
	PeerUserID     *model.UserID        `json:"peer_user_id,omitempty"`
	PeerUsername   string               `json:"peer_username,omitempty"`
	GroupID        *model.GroupID       `json:"group_id,omitempty"`
	GroupName      string               `json:"group_name,omitempty"`
}

func (a *API) recentConversations(c *gin.Context) {
	pageSize := parsePageSize(c)
	var after *model.TimeCursor
	if s := c.Query("after"); s != "" {
		cur, err := model.ParseTimeCursor(s)
		if err != nil {
			a.badRequest(c, "malformed cursor")
			return
		}
		after = &cur
	}

	rcs, err := a.conversations.RecentConversations(c.Request.Context(), currentUser(c), pageSize, after)
	if err != nil {
		a.respondError(c, err)
		return
	}

	out := make([]recentConversationDTO, 0, len(rcs))
	for _, rc := range rcs {
		out = append(out, recentConversationDTO{
			ConversationID: rc.ConversationID,
			Kind:           int(rc.Kind),
			LastMsgOff:     rc.LastMsgOff,
			LastMsgAt:      rc.LastMsgAt,
			PeerUserID:     rc.PeerUserID,
			PeerUsername:   rc.PeerUsername,
			GroupID:        rc.GroupID,
			GroupName:      rc.GroupName,
		})
	}
	a.respondOK(c, gin.H{"conversations": out, "next": nextTimeCursor(rcs)})
}

func nextTimeCursor(rcs []model.RecentConversation) string {
	if len(rcs) == 0 {
		return ""
	}
	last := rcs[len(rcs)-1]
	return model.TimeCursor{LastMsgAt: last.LastMsgAt, ConversationID: last.ConversationID}.String()
}

// parsePageSize reads the page_size query parameter; anything absent
// or unparsable falls back to zero, which PageSize.Clamp() later
// replaces with the default.
func parsePageSize(c *gin.Context) model.PageSize {
	n, err := strconv.ParseUint(c.Query("page_size"), 10, 16)
	if err != nil {
		return 0
	}
	return model.PageSize(n)
}
