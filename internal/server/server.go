package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/chama-pay/chama_ledger/internal/config"
	"github.com/chama-pay/chama_ledger/internal/httperr"
	"github.com/chama-pay/chama_ledger/internal/metrics"
	"github.com/chama-pay/chama_ledger/internal/notification"
	"github.com/chama-pay/chama_ledger/internal/routes"
)

// Server wraps the Fiber application and the services behind it.
type Server struct {
	app      *fiber.App
	cfg      config.Config
	services *routes.Services
}

// Options carries the optional backends. Nil fields select in-memory
// implementations.
type Options struct {
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Metrics   *metrics.Metrics
	Publisher notification.Publisher
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, opts Options, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: httperr.Handler,
	})

	services, err := routes.Setup(app, routes.Deps{
		Cfg:       cfg,
		DB:        opts.DB,
		Cache:     opts.Cache,
		Logger:    logger,
		Metrics:   opts.Metrics,
		Publisher: opts.Publisher,
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, services: services}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Services returns the wired domain services.
func (s *Server) Services() *routes.Services {
	return s.services
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
