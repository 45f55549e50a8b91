package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"github.com/suPer8Hu/omi-jarvis/internal/config"
	"github.com/suPer8Hu/omi-jarvis/internal/httpapi/handlers"
	"github.com/suPer8Hu/omi-jarvis/internal/httpapi/middleware"
	"github.com/suPer8Hu/omi-jarvis/internal/logging"
	"github.com/suPer8Hu/omi-jarvis/internal/session"
	"github.com/suPer8Hu/omi-jarvis/internal/transcript"
)

func NewRouter(segments *transcript.Repo, sessions *session.Map, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(logging.GinLogger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(segments, sessions, cfg)

	r.GET("/", h.Health)
	r.GET("/ping", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// device webhook; the root path is accepted for older device configs
	r.POST("/webhook", h.Webhook)
	r.POST("/", h.Webhook)

	r.POST("/login", h.Login)

	read := r.Group("/")
	if cfg.Auth.AdminPasswordHash != "" {
		read.Use(middleware.AuthRequired(cfg.Auth.JWTSecret))
	}
	read.GET("/conversation", h.Conversation)
	read.GET("/sessions/:session_id", h.GetSession)
	return r
}
