// Package httpapi exposes check-in and session registration over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"eventdesk/internal/attendance"
	"eventdesk/internal/auth"
	"eventdesk/internal/httpmiddleware"
	"eventdesk/internal/notify"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options configures the router.
type Options struct {
	ActorCookie    string
	SecureCookies  bool
	RequestTimeout time.Duration
	CORSOrigins    []string
	Limiter        httpmiddleware.Limiter
	Health         map[string]HealthCheck
	Metrics        http.Handler
}

// Server holds the handlers' collaborators.
type Server struct {
	checkIns  *attendance.CheckInEngine
	regs      *attendance.RegistrationEngine
	users     attendance.IdentityStore
	publisher *notify.Publisher
	actors    *auth.Issuer
	log       *slog.Logger
	opts      Options
}

// New creates a server. publisher may be nil, in which case nothing is
// queued; actors is required.
func New(
	store attendance.Store,
	obs attendance.Observer,
	publisher *notify.Publisher,
	actors *auth.Issuer,
	log *slog.Logger,
	opts Options,
) *Server {
	if opts.ActorCookie == "" {
		opts.ActorCookie = "eventdesk_actor"
	}
	return &Server{
		checkIns:  attendance.NewCheckInEngine(store, obs),
		regs:      attendance.NewRegistrationEngine(store, obs),
		users:     store,
		publisher: publisher,
		actors:    actors,
		log:       log,
		opts:      opts,
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log, "/healthz", "/metrics"))
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(securityHeaders())

	r.GET("/healthz", s.healthz)
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	v1 := r.Group("/v1")
	if s.opts.RequestTimeout > 0 {
		v1.Use(timeout(s.opts.RequestTimeout))
	}
	if s.opts.Limiter != nil {
		v1.Use(httpmiddleware.Gin(s.opts.Limiter, s.log))
	}
	v1.POST("/checkin", s.checkIn)
	v1.POST("/checkin/email", s.checkInByEmail)
	v1.GET("/users/lookup", s.lookupUser)
	v1.POST("/register", s.register)
	v1.GET("/sessions/:id", s.sessionSummary)
	v1.GET("/sessions/:id/registrations", s.sessionRegistrations)
	v1.GET("/me", auth.RequireActor(s.actors, s.opts.ActorCookie), s.me)
	return r
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.opts.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func requestLogger(log *slog.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if skipped[c.Request.URL.Path] {
			return
		}
		log.InfoContext(c.Request.Context(), "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}

// timeout bounds the storage work a handler may do.
func timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
