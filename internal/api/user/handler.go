package user

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zxresearch/reportgate/internal/auth"
	"github.com/zxresearch/reportgate/internal/domain"
	"go.uber.org/zap"
)

const accessTokenTTL = 365 * 24 * time.Hour

// Handler handles user authentication.
type Handler struct {
	gate   *auth.Gate
	salt   string
	logger *zap.Logger
}

// NewHandler creates a user handler.
func NewHandler(gate *auth.Gate, salt string, logger *zap.Logger) *Handler {
	return &Handler{gate: gate, salt: salt, logger: logger}
}

// RegisterRoutes registers user routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/login", h.Login)
}

// Login checks a derived password and issues a long-lived access token.
func (h *Handler) Login(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	if !auth.VerifyPassword(req.Username, req.Password, h.salt) {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "incorrect username or password"})
		return
	}

	token, err := h.gate.IssueAccessToken(req.Username, accessTokenTTL)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.String("username", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username":     req.Username,
		"access_token": token,
	})
}
