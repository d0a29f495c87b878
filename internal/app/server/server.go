package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/KrunkLink/internal/app/command"
	"github.com/sifan077/KrunkLink/internal/app/repository"
	"github.com/sifan077/KrunkLink/internal/app/service"
	inthttp "github.com/sifan077/KrunkLink/internal/http/handler"
	"github.com/sifan077/KrunkLink/internal/http/middleware"
	"github.com/sifan077/KrunkLink/internal/http/util"
	"go.uber.org/zap"
)

var errNATSDisconnected = errors.New("nats connection is not established")

// Dependencies bundles infrastructure dependencies required by the HTTP server.
type Dependencies struct {
	Logger   *zap.Logger
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	NATS     *nats.Conn

	Verifier service.VerificationService
	Events   repository.VerificationEventRepository
	Commands *command.Router
	Pages    *util.PageLinks
	Signer   *util.TokenSigner

	MaxAttempts    int
	Limiter        middleware.Limiter
	RateLimit      int
	AllowedOrigins []string
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "krunklink",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.CORS(s.deps.AllowedOrigins))
}

func (s *Server) registerRoutes() {
	inthttp.NewHealthHandler(s.readinessChecks()).Register(s.app)

	var pages command.PageLinker
	if s.deps.Pages != nil {
		pages = s.deps.Pages
	}

	inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:    s.deps.Logger,
		Verifier:  s.deps.Verifier,
		Events:    s.deps.Events,
		Commands:  s.deps.Commands,
		Pages:     pages,
		Limiter:   s.deps.Limiter,
		RateLimit: s.deps.RateLimit,
	}).Register(s.app)

	inthttp.NewPageHandler(inthttp.PageDeps{
		Logger:      s.deps.Logger,
		Verifier:    s.deps.Verifier,
		Signer:      s.deps.Signer,
		MaxAttempts: s.deps.MaxAttempts,
	}).Register(s.app)
}

func (s *Server) readinessChecks() map[string]inthttp.Check {
	checks := make(map[string]inthttp.Check)
	if pool := s.deps.Postgres; pool != nil {
		checks["postgres"] = pool.Ping
	}
	if rdb := s.deps.Redis; rdb != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	if nc := s.deps.NATS; nc != nil {
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errNATSDisconnected
			}
			return nil
		}
	}
	return checks
}
