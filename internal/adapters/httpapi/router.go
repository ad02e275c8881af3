package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/adapters/signal"
	"github.com/hallwaylabs/huddle/internal/config"
	"github.com/hallwaylabs/huddle/internal/domain"
)

// OriginFilter restricts browser callers to the configured origins. An
// empty list allows everything, which is only acceptable in dev.
func OriginFilter(allowed []string) gin.HandlerFunc {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (len(set) == 0 || set[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// guestLogin places a guest token into the cookie session so the
// meeting page and the websocket share one identity.
func guestLogin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ident, err := parseIdentity(secret, req.Token)
		if err != nil || !ident.Guest {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid guest token"})
			return
		}
		sess := sessions.Default(c)
		sess.Set(guestSessionKey, req.Token)
		if err := sess.Save(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": ident.ID, "user_name": ident.Name})
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, api *MeetingAPI, ctrl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(OriginFilter(cfg.AllowedOrigins))

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/api/guest/login", guestLogin(cfg.Secret))

	log.Info().Str("module", "adapters.httpapi").Msg("router setup")

	authed := r.Group("/api", Auth(cfg.Secret))

	meetings := authed.Group("/meetings")
	meetings.POST("", api.Create)
	meetings.GET("", RequireRole(domain.RoleAdmin), api.List)
	meetings.GET("/mine", api.MyMeetings)
	meetings.GET("/:id", api.Get)
	meetings.PUT("/:id", api.Update)
	meetings.DELETE("/:id", api.Delete)
	meetings.POST("/join/:token", api.Join)
	meetings.POST("/leave/:token", api.Leave)

	authed.GET("/admin/stats", RequireRole(domain.RoleAdmin), api.AdminStats)

	authed.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
