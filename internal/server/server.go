// Package server wires the HTTP and websocket surface: REST handlers for
// workflows and executions, the realtime websocket endpoints, and the
// observability endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Janar2510/AgentFlow/internal/domain"
	"github.com/Janar2510/AgentFlow/internal/platform/config"
	"github.com/Janar2510/AgentFlow/internal/platform/correlation"
	"github.com/Janar2510/AgentFlow/internal/platform/errors"
	"github.com/Janar2510/AgentFlow/internal/realtime"
)

// Dependencies bundles everything the server needs.
type Dependencies struct {
	Config     *config.Config
	Manager    *realtime.Manager
	Workflows  domain.WorkflowRepository
	Executions domain.ExecutionRepository
	Publisher  domain.EventPublisher
	Postgres   postgresHealthChecker
	Redis      *goredis.Client // nil in single-instance deployments
}

type Server struct {
	echo       *echo.Echo
	config     *config.Config
	manager    *realtime.Manager
	workflows  domain.WorkflowRepository
	executions domain.ExecutionRepository
	publisher  domain.EventPublisher
	limits     *ConnectionLimits
	upgrader   websocket.Upgrader
	db         postgresHealthChecker
	redis      *goredis.Client
	startTime  time.Time
}

func NewServer(deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(correlationMiddleware())
	e.Use(errors.Middleware())

	cfg := deps.Config
	srv := &Server{
		echo:       e,
		config:     cfg,
		manager:    deps.Manager,
		workflows:  deps.Workflows,
		executions: deps.Executions,
		publisher:  deps.Publisher,
		limits: NewConnectionLimits(
			cfg.MaxWebSocketConnections,
			cfg.MaxConnectionsPerIP,
			cfg.ConnectionRatePerSecond,
			cfg.ConnectionRateBurst,
		),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		},
		db:        deps.Postgres,
		redis:     deps.Redis,
		startTime: time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// correlationMiddleware tags every request context with a correlation ID so
// all log lines of one request share an id. An inbound X-Correlation-ID is
// reused, otherwise a fresh one is minted; the response echoes it either way.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(correlation.Header)
			if id == "" {
				id = correlation.NewID()
			}
			ctx := correlation.WithID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set(correlation.Header, id)
			return next(c)
		}
	}
}
