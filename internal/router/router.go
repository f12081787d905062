package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/config"
	"github.com/stemsi/exstem-taker/internal/handler"
	"github.com/stemsi/exstem-taker/internal/middleware"
	"github.com/stemsi/exstem-taker/internal/response"
	"github.com/stemsi/exstem-taker/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Test    *handler.TestHandler
	Session *handler.SessionHandler
	Chat    *handler.ChatHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// A nil loginLimiter leaves the login route unthrottled.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	loginLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(response.RequestLogger(log.With().Str("component", "http").Logger()))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	authAPI := router.Group("/api/auth")
	if loginLimiter != nil {
		authAPI.Use(loginLimiter.Middleware())
	}
	{
		authAPI.POST("/login/", handlers.Auth.Login)
	}

	// ─── 2. Taker Group (JWT, never cached) ────────────────────────────
	api := router.Group("/api")
	api.Use(
		middleware.RequireJWT(authService),
		middleware.NoStore(),
	)
	{
		api.GET("/tests/", handlers.Test.ListTests)
		api.GET("/tests/:id/", handlers.Test.GetTest)

		api.POST("/enter-test/", handlers.Session.EnterTest)
		api.GET("/sessions/:id/", handlers.Session.GetState)
		api.POST("/sessions/:id/answers/", handlers.Session.RecordAnswer)
		api.POST("/sessions/:id/finish/", handlers.Session.Finish)
	}

	// ─── 3. WebSocket Group (Query Token Auth) ─────────────────────────
	ws := router.Group("/ws")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/chat/:course_id/", handlers.Chat.Stream)
	}

	return router
}
