package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zxresearch/reportgate/internal/api/middleware"
	"github.com/zxresearch/reportgate/internal/domain"
	"go.uber.org/zap"
)

// SessionStore is the slice of the store the session-management API uses.
type SessionStore interface {
	UpsertSession(ctx context.Context, sess *domain.ChatSession) error
	AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage, totalTokens *int) error
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	ListSessions(ctx context.Context, userID string, opts domain.ListSessionsOptions) (int64, []domain.ChatSession, error)
	SoftDeleteSession(ctx context.Context, sessionID string) error
	ListUsers(ctx context.Context, size int) ([]domain.UserSessionCount, error)
	SessionsByDateRange(ctx context.Context, start, end time.Time) (int64, []domain.StreamUsageRow, error)
	DepartmentStats(ctx context.Context, start, end time.Time) (map[string]map[string]int64, error)
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, jsonData string) error
}

// Handler handles the session-management API. Store failures here are
// deliberately converted into success=false envelopes with HTTP 200: the
// frontend stays usable when the store is degraded, at the cost of a
// soft failure signal.
type Handler struct {
	store          SessionStore
	systemPassword string
	logger         *zap.Logger
}

// NewHandler creates a chat session handler.
func NewHandler(store SessionStore, systemPassword string, logger *zap.Logger) *Handler {
	return &Handler{store: store, systemPassword: systemPassword, logger: logger}
}

// RegisterRoutes registers session-management routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth gin.HandlerFunc) {
	r.POST("/session", h.CreateOrUpdateSession)
	r.POST("/session/:session_id/message", h.AddMessage)
	r.GET("/session/:session_id", h.GetSession)
	r.DELETE("/session/:session_id", h.DeleteSession)
	r.GET("/user/sessions", auth, h.GetUserSessions)
	r.GET("/users", h.ListUsers)
	r.POST("/sessions/date-range", h.SessionsByDateRange)
	r.POST("/sessions/department-stats", h.DepartmentStats)
	r.GET("/prompt", h.GetSettings)
	r.POST("/prompt/save", h.SaveSettings)
}

// CreateOrUpdateSession upserts a session keyed by its id.
func (h *Handler) CreateOrUpdateSession(c *gin.Context) {
	var sess domain.ChatSession
	if err := c.ShouldBindJSON(&sess); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	if err := h.store.UpsertSession(c.Request.Context(), &sess); err != nil {
		h.logger.Error("failed to upsert session", zap.String("session_id", sess.SessionID), zap.Error(err))
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "chat session create failed", Data: sess})
		return
	}
	c.JSON(http.StatusOK, domain.APIResponse{Success: true, Message: "chat session created successfully", Data: sess})
}

// AddMessage appends one message to a session transcript.
func (h *Handler) AddMessage(c *gin.Context) {
	var msg domain.ChatMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	sessionID := c.Param("session_id")
	if err := h.store.AppendMessage(c.Request.Context(), sessionID, msg, nil); err != nil {
		h.logger.Error("failed to append message", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "message add failed", Data: msg})
		return
	}
	c.JSON(http.StatusOK, domain.APIResponse{Success: true, Message: "message added successfully", Data: msg})
}

// GetSession returns one session transcript.
func (h *Handler) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	sess, err := h.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "session not found"})
			return
		}
		h.logger.Error("failed to get session", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "session retrieve failed"})
		return
	}
	c.JSON(http.StatusOK, domain.APIResponse{Success: true, Message: "session retrieved successfully", Data: sess})
}

// GetUserSessions lists the caller's sessions, newest first. The system
// password widens the listing to soft-deleted sessions; a keyword narrows
// it to matching titles.
func (h *Handler) GetUserSessions(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	opts := domain.ListSessionsOptions{
		IncludeDeleted: h.systemPassword != "" && c.Query("password") == h.systemPassword,
		Keyword:        strings.TrimSpace(c.Query("keyword")),
		From:           (page - 1) * pageSize,
		Size:           pageSize,
	}

	total, sessions, err := h.store.ListSessions(c.Request.Context(), principal.UserID(), opts)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"total": 0, "sessions": []domain.ChatSession{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "sessions": sessions})
}

// DeleteSession soft-deletes a session.
func (h *Handler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.store.SoftDeleteSession(c.Request.Context(), sessionID); err != nil {
		h.logger.Error("failed to delete session", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "failed to mark session as deleted"})
		return
	}
	c.JSON(http.StatusOK, domain.APIResponse{Success: true, Message: "session marked as deleted successfully"})
}

// ListUsers returns all known user ids with their session counts.
// Requires the system password.
func (h *Handler) ListUsers(c *gin.Context) {
	if !h.checkPassword(c.Query("password")) {
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "unauthorized - invalid password", Data: gin.H{"users": []domain.UserSessionCount{}}})
		return
	}

	size, _ := strconv.Atoi(c.DefaultQuery("size", "10000"))
	if size < 1 {
		size = 10000
	}

	users, err := h.store.ListUsers(c.Request.Context(), size)
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "failed to retrieve user list", Data: gin.H{"users": []domain.UserSessionCount{}}})
		return
	}
	c.JSON(http.StatusOK, domain.APIResponse{
		Success: true,
		Message: "user list retrieved successfully",
		Data:    gin.H{"total": len(users), "users": users},
	})
}

// SessionsByDateRange reports the streaming exchanges inside a window.
// Requires the system password.
func (h *Handler) SessionsByDateRange(c *gin.Context) {
	req, ok := h.bindDateRange(c)
	if !ok {
		return
	}

	total, rows, err := h.store.SessionsByDateRange(c.Request.Context(), req.StartDate, req.EndDate)
	if err != nil {
		h.logger.Error("failed to retrieve sessions by date range", zap.Error(err))
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "failed to retrieve sessions"})
		return
	}
	c.JSON(http.StatusOK, domain.APIResponse{
		Success: true,
		Message: "sessions retrieved successfully",
		Data:    gin.H{"total": total, "sessions": rows},
	})
}

// DepartmentStats reports per-department usage counts inside a window.
// Requires the system password.
func (h *Handler) DepartmentStats(c *gin.Context) {
	req, ok := h.bindDateRange(c)
	if !ok {
		return
	}

	stats, err := h.store.DepartmentStats(c.Request.Context(), req.StartDate, req.EndDate)
	if err != nil {
		h.logger.Error("failed to retrieve department stats", zap.Error(err))
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "failed to retrieve department statistics"})
		return
	}
	c.JSON(http.StatusOK, domain.APIResponse{Success: true, Message: "department statistics retrieved successfully", Data: stats})
}

// GetSettings returns a settings blob. Requires the system password.
func (h *Handler) GetSettings(c *gin.Context) {
	if !h.checkPassword(c.Query("password")) {
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "unauthorized - invalid password"})
		return
	}

	settings, err := h.store.GetSetting(c.Request.Context(), c.Query("id"))
	if err != nil {
		h.logger.Error("failed to get settings", zap.Error(err))
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "failed to retrieve user settings"})
		return
	}
	c.JSON(http.StatusOK, domain.APIResponse{Success: true, Message: "user settings retrieved successfully", Data: settings})
}

// SaveSettings upserts a settings blob. Requires the system password.
func (h *Handler) SaveSettings(c *gin.Context) {
	var req domain.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if !h.checkPassword(req.Password) {
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "unauthorized - invalid password"})
		return
	}

	if err := h.store.PutSetting(c.Request.Context(), req.ID, req.JSONData); err != nil {
		h.logger.Error("failed to save settings", zap.String("id", req.ID), zap.Error(err))
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "failed to update user settings"})
		return
	}
	c.JSON(http.StatusOK, domain.APIResponse{Success: true, Message: "user settings updated successfully", Data: req.JSONData})
}

func (h *Handler) bindDateRange(c *gin.Context) (domain.DateRangeRequest, bool) {
	var req domain.DateRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return req, false
	}
	if !h.checkPassword(req.Password) {
		c.JSON(http.StatusOK, domain.APIResponse{Success: false, Message: "unauthorized - invalid password"})
		return req, false
	}
	return req, true
}

func (h *Handler) checkPassword(password string) bool {
	return h.systemPassword != "" && password == h.systemPassword
}
