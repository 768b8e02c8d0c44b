package http

import (
	"context"
	"net/http"

	"github.com/dkeye/VoiceGuide/internal/adapters/signal"
	"github.com/dkeye/VoiceGuide/internal/app/hub"
	"github.com/dkeye/VoiceGuide/internal/config"
	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/dkeye/VoiceGuide/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable client id kept in the
// signed session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// Deps are the application services the router exposes.
type Deps struct {
	Session core.SessionControl
	Hub     *hub.Hub
	Metrics *metrics.Collector
}

// SetupRouter wires static files, the REST control surface, the WebSocket
// endpoint and /metrics. ctx bounds every session start and WS client.
func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Secret
	if secret == "" {
		secret = genClientToken()
		log.Warn().Str("module", "adapters.http").Msg("no session secret configured, cookies will not survive a restart")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("VoiceGuideSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{ctx: ctx, session: deps.Session}
	api := r.Group("/api")
	api.POST("/session/start", h.start)
	api.POST("/session/stop", h.stop)
	api.GET("/session/status", h.status)
	api.GET("/session/audit", h.audit)

	ctrl := signal.NewSignalWSController(ctx, deps.Session, deps.Hub, signal.Options{
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
		IntentEvery: cfg.Signal.IntentEvery,
		IntentBurst: cfg.Signal.IntentBurst,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
