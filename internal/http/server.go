package http

import (
	"context"
	"net/http"
	"time"

	"github.com/duespark/dunning/internal/collection"
	"github.com/duespark/dunning/internal/collector"
	"github.com/duespark/dunning/internal/config"
	"github.com/duespark/dunning/internal/http/middleware"
	"github.com/duespark/dunning/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct{ e *echo.Echo }

// Deps bundles everything the HTTP surface needs. The lock-store client and
// gateway are constructed once in cmd and injected; nothing here owns a
// hidden singleton.
type Deps struct {
	Tenants      repository.TenantsRepository
	SentMessages repository.SentMessagesRepository
	Archive      repository.CHArchiveRepository
	Machine      *collection.Machine
	Collector    *collector.Collector
	Redis        *redis.Client
	Log          *zap.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// worker trigger (shared-secret bearer, called by the scheduler)
	e.POST("/internal/worker/run", triggerHandler(deps.Collector, cfg.Trigger.Secret))

	// provider delivery-status callbacks (HMAC-signed)
	e.POST("/webhooks/delivery", deliveryWebhookHandler(deps.SentMessages, cfg.Webhook.Secret, deps.Log))

	// tenant API
	authMW := middleware.APIKeyMiddleware(deps.Tenants)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          deps.Redis,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:tenant:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/collections/:id/pause", actionHandler(deps.Machine, actionPause))
	v1.POST("/collections/:id/resume", actionHandler(deps.Machine, actionResume))
	v1.POST("/collections/:id/complete", actionHandler(deps.Machine, actionComplete))
	v1.POST("/collections/:id/responded", actionHandler(deps.Machine, actionResponded))
	v1.GET("/reports/messages", listMessagesHandler(deps.Archive))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error            { return s.e.Start(addr) }
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// Echo exposes the router for handler tests.
func (s *Server) Echo() *echo.Echo { return s.e }
