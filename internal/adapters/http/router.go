package http

import (
	"context"
	"net/http"

	"github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionCookie = "HuddleSessions"
	guestIDKey    = "guest_id"
	sessionMaxAge = 3600 * 24 * 7
)

func genGuestID() string {
	idStr := uuid.NewString()
	return idStr
}

// GuestSessionMiddleware pins a browser to a stable guest id kept in the
// signed session cookie. Must run after sessions.Sessions.
func GuestSessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		id, _ := session.Get(guestIDKey).(string)
		if id == "" {
			id = genGuestID()
			session.Set(guestIDKey, id)
			if err := session.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("failed to save guest session")
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
		}
		c.Set(signal.GuestIDKey, id)
		c.Next()
	}
}

// statusOf maps an error kind onto the closest HTTP status.
func statusOf(err error) int {
	switch core.KindOf(err) {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindInvalidState, core.KindConflict:
		return http.StatusConflict
	case core.KindUnsupported:
		return http.StatusUnprocessableEntity
	case core.KindBadRequest:
		return http.StatusBadRequest
	case core.KindUnauthenticated:
		return http.StatusUnauthorized
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{
		"error": gin.H{"kind": core.KindOf(err), "message": core.Message(err)},
	})
}

// SetupRouter wires the read-only REST surface, the signaling websocket,
// health and metrics. ctx bounds the lifetime of websocket sessions.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController, m *metrics.Metrics) *gin.Engine {
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
		secret = uuid.NewString()
		log.Warn().Str("module", "adapters.http").Msg("no session secret configured, using an ephemeral one")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: sessionMaxAge, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionCookie, store))
	r.Use(GuestSessionMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// GET /api/rooms lists ongoing rooms.
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.RoomListData{Rooms: o.ListRooms()})
	})

	// GET /api/rooms/:code returns one room with its roster, or its archived
	// record once it has been cleaned up.
	api.GET("/rooms/:code", func(c *gin.Context) {
		view, err := o.RoomDetails(c.Request.Context(), domain.RoomCode(c.Param("code")))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": view})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("guest", c.GetString(signal.GuestIDKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
