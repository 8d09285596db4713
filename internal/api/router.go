package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/zxresearch/reportgate/internal/api/chat"
	"github.com/zxresearch/reportgate/internal/api/middleware"
	"github.com/zxresearch/reportgate/internal/api/report"
	"github.com/zxresearch/reportgate/internal/api/user"
	"github.com/zxresearch/reportgate/internal/auth"
	"github.com/zxresearch/reportgate/internal/config"
	"github.com/zxresearch/reportgate/internal/service"
	"go.uber.org/zap"
)

// SetupRouter sets up the Gin router
func SetupRouter(
	cfg *config.Config,
	gate *auth.Gate,
	streamService *service.StreamService,
	proxyService *service.ProxyService,
	sessionStore chat.SessionStore,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.Origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Static files (frontend build output)
	SetupStaticRoutes(r, cfg.Server.StaticDir)

	authRequired := middleware.Auth(gate)

	// Report API (streaming chat + document artifact proxies)
	reportHandler := report.NewHandler(streamService, proxyService, logger)
	reportGroup := r.Group("/api/report")
	reportHandler.RegisterRoutes(reportGroup, authRequired)

	// Chat session API
	chatHandler := chat.NewHandler(sessionStore, cfg.Auth.SystemPassword, logger)
	chatGroup := r.Group("/api/chat")
	chatHandler.RegisterRoutes(chatGroup, authRequired)

	// User API (login)
	userHandler := user.NewHandler(gate, cfg.Auth.PasswordSalt, logger)
	userGroup := r.Group("/api/user")
	userHandler.RegisterRoutes(userGroup)

	// Everything else falls through to the SPA
	r.NoRoute(SPAFallback(cfg.Server.StaticDir))

	return r
}
