package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	commonauth "readsync/server/common/auth"
	"readsync/server/common/middleware"
	"readsync/server/common/transport/httpresp"
	"readsync/server/sessiond/domain"
	sessionservice "readsync/server/sessiond/service"
)

type Handler struct {
	users       *sessionservice.UserService
	sessions    *sessionservice.SessionService
	annotations *sessionservice.AnnotationService
	logs        *sessionservice.EventLogService
	auth        *commonauth.Service
}

func NewHandler(users *sessionservice.UserService, sessions *sessionservice.SessionService, annotations *sessionservice.AnnotationService, logs *sessionservice.EventLogService, auth *commonauth.Service) *Handler {
	return &Handler{users: users, sessions: sessions, annotations: annotations, logs: logs, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/api/v1/auth/register", h.register)
	r.POST("/api/v1/auth/login", h.login)

	rs := r.Group("/api/v1/reading-session")
	rs.Use(middleware.AuthOptional(h.auth))
	{
		rs.POST("/create", h.createSession)
		rs.POST("/join", h.joinSession)
		rs.DELETE("/delete", h.deleteSession)
		rs.GET("/get", h.getSession)
		rs.GET("/list", h.listSessions)
		rs.GET("/members", h.listMembers)
		rs.PATCH("/members/presence", h.updatePresence)

		rs.POST("/annotations/create", h.createAnnotation)
		rs.GET("/annotations/find", h.findAnnotation)
		rs.GET("/annotations/list", h.listAnnotations)
		rs.DELETE("/annotations/delete", h.deleteAnnotation)
		rs.DELETE("/annotations/delete-by-user", h.deleteUserAnnotations)

		rs.GET("/logs", h.listLogs)
		rs.POST("/logs", h.appendLog)

		rs.GET("/chat", h.listChat)
		rs.POST("/chat", h.sendChat)
		rs.DELETE("/chat", h.deleteChat)
	}
}

func actorFromContext(c *gin.Context) (domain.User, bool) {
	rawUserID, ok := c.Get("auth_user_id")
	if !ok {
		return domain.User{}, false
	}
	userID, ok := rawUserID.(string)
	if !ok || strings.TrimSpace(userID) == "" {
		return domain.User{}, false
	}
	user := domain.User{ID: userID}
	if rawEmail, ok := c.Get("auth_email"); ok {
		user.Email, _ = rawEmail.(string)
	}
	if rawName, ok := c.Get("auth_name"); ok {
		user.Name, _ = rawName.(string)
	}
	return user, true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, sessionservice.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, sessionservice.ErrHostOnly), errors.Is(err, sessionservice.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, sessionservice.ErrSessionNotFound),
		errors.Is(err, sessionservice.ErrInvalidInviteCode),
		errors.Is(err, sessionservice.ErrAnnotationNotFound),
		errors.Is(err, sessionservice.ErrChatNotFound):
		return http.StatusNotFound
	case errors.Is(err, sessionservice.ErrSessionFull):
		return http.StatusConflict
	case errors.Is(err, sessionservice.ErrSessionEnded):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), httpresp.NewErrorResponse(err.Error()))
}

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	user, err := h.users.Register(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	token, err := h.auth.GenerateToken(user.ID, user.Email, user.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, httpresp.NewTokenResponse(token, user.ID, user.Email, user.Name))
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := h.auth.GenerateToken(user.ID, user.Email, user.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewTokenResponse(token, user.ID, user.Email, user.Name))
}

type sessionMemberResponse struct {
	Session domain.Session `json:"session"`
	Member  domain.Member  `json:"member"`
}

func (h *Handler) createSession(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		DocumentID      string            `json:"document_id" binding:"required"`
		Title           string            `json:"title" binding:"required"`
		Visibility      domain.Visibility `json:"visibility"`
		MaxParticipants int               `json:"max_participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	session, member, err := h.sessions.Create(c.Request.Context(), actor, req.DocumentID, req.Title, req.Visibility, req.MaxParticipants)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionMemberResponse{Session: session, Member: member})
}

func (h *Handler) joinSession(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		InviteCode string `json:"invite_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	session, member, err := h.sessions.Join(c.Request.Context(), actor, req.InviteCode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionMemberResponse{Session: session, Member: member})
}

func (h *Handler) deleteSession(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id is required"))
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), sessionID, actor.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) getSession(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id is required"))
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) listSessions(c *gin.Context) {
	listType := strings.TrimSpace(c.Query("type"))
	actor, signedIn := actorFromContext(c)
	if !signedIn && listType != "public" && listType != "" {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	sessions, err := h.sessions.List(c.Request.Context(), listType, actor.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) listMembers(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id is required"))
		return
	}
	members, err := h.sessions.Members(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	if members == nil {
		members = []domain.Member{}
	}
	c.JSON(http.StatusOK, members)
}

func (h *Handler) updatePresence(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id is required"))
		return
	}
	var req struct {
		Online      bool `json:"online"`
		CurrentPage *int `json:"current_page"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	pageNumber := -1
	if req.CurrentPage != nil {
		pageNumber = *req.CurrentPage
	}
	if err := h.sessions.UpdatePresence(c.Request.Context(), sessionID, actor.ID, req.Online, pageNumber); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) createAnnotation(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		SessionID  string                   `json:"session_id" binding:"required"`
		DocumentID string                   `json:"document_id" binding:"required"`
		Payload    domain.AnnotationPayload `json:"payload"`
		PageNumber int                      `json:"page_number"`
		Visibility domain.Visibility        `json:"visibility"`
		HideAuthor bool                     `json:"hide_author"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	annotation, err := h.annotations.Create(c.Request.Context(), domain.SessionAnnotation{
		SessionID:  req.SessionID,
		UserID:     actor.ID,
		DocumentID: req.DocumentID,
		Payload:    req.Payload,
		PageNumber: req.PageNumber,
		Visibility: req.Visibility,
		HideAuthor: req.HideAuthor,
	})
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, annotation)
}

func (h *Handler) findAnnotation(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	key := strings.TrimSpace(c.Query("key"))
	if sessionID == "" || key == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id and key are required"))
		return
	}
	annotation, err := h.annotations.FindByKey(c.Request.Context(), sessionID, key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, annotation)
}

func (h *Handler) listAnnotations(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id is required"))
		return
	}
	var after time.Time
	if raw := strings.TrimSpace(c.Query("created_after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrCreatedAfterRFC3339))
			return
		}
		after = parsed
	}
	actor, _ := actorFromContext(c)
	annotations, err := h.annotations.ListCreatedAfter(c.Request.Context(), sessionID, after, actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if annotations == nil {
		annotations = []domain.SessionAnnotation{}
	}
	c.JSON(http.StatusOK, annotations)
}

func (h *Handler) deleteAnnotation(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	key := strings.TrimSpace(c.Query("key"))
	if sessionID == "" || key == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id and key are required"))
		return
	}
	if err := h.annotations.DeleteByKey(c.Request.Context(), sessionID, actor.ID, key); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) deleteUserAnnotations(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	targetUserID := strings.TrimSpace(c.Query("user_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id is required"))
		return
	}
	if targetUserID == "" {
		targetUserID = actor.ID
	}
	if err := h.annotations.DeleteByUser(c.Request.Context(), sessionID, targetUserID, actor.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) listLogs(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id is required"))
		return
	}
	if raw := strings.TrimSpace(c.Query("since_id")); raw != "" {
		sinceID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("since_id must be an integer"))
			return
		}
		entries, err := h.logs.ListSince(c.Request.Context(), sessionID, sinceID)
		if err != nil {
			respondError(c, err)
			return
		}
		if entries == nil {
			entries = []domain.EventLogEntry{}
		}
		c.JSON(http.StatusOK, entries)
		return
	}
	entries, err := h.logs.ListPage(c.Request.Context(), sessionID, parseInt(c.Query("page")), parseInt(c.Query("page_size")))
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.EventLogEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) appendLog(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		SessionID string           `json:"session_id" binding:"required"`
		Type      domain.EventType `json:"type" binding:"required"`
		Detail    map[string]any   `json:"detail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	entry, err := h.logs.Append(c.Request.Context(), domain.EventLogEntry{
		SessionID: req.SessionID,
		UserID:    actor.ID,
		Type:      req.Type,
		Detail:    req.Detail,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) listChat(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id is required"))
		return
	}
	if raw := strings.TrimSpace(c.Query("since_id")); raw != "" {
		sinceID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("since_id must be an integer"))
			return
		}
		messages, err := h.logs.ChatSince(c.Request.Context(), sessionID, sinceID)
		if err != nil {
			respondError(c, err)
			return
		}
		if messages == nil {
			messages = []domain.ChatMessage{}
		}
		c.JSON(http.StatusOK, messages)
		return
	}
	messages, err := h.logs.ListChatPage(c.Request.Context(), sessionID, parseInt(c.Query("page")), parseInt(c.Query("page_size")))
	if err != nil {
		respondError(c, err)
		return
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) sendChat(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Body      string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	message, err := h.logs.SendChat(c.Request.Context(), domain.ChatMessage{
		SessionID: req.SessionID,
		UserID:    actor.ID,
		Name:      actor.Name,
		Body:      req.Body,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *Handler) deleteChat(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	rawMessageID := strings.TrimSpace(c.Query("message_id"))
	if sessionID == "" || rawMessageID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("session_id and message_id are required"))
		return
	}
	messageID, err := strconv.ParseInt(rawMessageID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("message_id must be an integer"))
		return
	}
	if err := h.logs.DeleteChat(c.Request.Context(), sessionID, messageID, actor.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func parseInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
