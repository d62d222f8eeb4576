// Package api contains the diagnostics HTTP API of the blocking engine.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/urlblock"
	"github.com/gofiber/fiber/v2"
)

// Config is the configuration structure for the [Server].
type Config struct {
	// Logger is used to log the API errors.  If nil, the logs are discarded.
	Logger *slog.Logger

	// Engine is the engine to inspect.  It must not be nil.
	Engine *urlblock.Engine
}

// Server is the diagnostics HTTP API server.
type Server struct {
	logger *slog.Logger
	engine *urlblock.Engine
	app    *fiber.App
}

// New returns a new API server.  c must not be nil.
func New(c *Config) (s *Server, err error) {
	if c.Engine == nil {
		return nil, fmt.Errorf("config: engine: %w", errors.ErrNoValue)
	}

	s = &Server{
		logger: c.Logger,
		engine: c.Engine,
		app: fiber.New(fiber.Config{
			AppName:               "urlblock",
			DisableStartupMessage: true,
			Immutable:             true,
		}),
	}

	if s.logger == nil {
		s.logger = slogutil.NewDiscardLogger()
	}

	s.Routes(s.app)

	return s, nil
}

// App returns the fiber application serving the API.
func (s *Server) App() (app *fiber.App) {
	return s.app
}

// Routes sets up the API routes on router.
func (s *Server) Routes(router fiber.Router) {
	router.Get("/stats", s.GetStats)
	router.Get("/check", s.Check)
	router.Post("/reload", s.Reload)
}

// Start starts serving on addr.  It returns once the listener is bound.
func (s *Server) Start(ctx context.Context, addr string) (err error) {
	lc := &net.ListenConfig{}
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}

	go func() {
		defer slogutil.RecoverAndLog(ctx, s.logger)

		if serveErr := s.app.Listener(l); serveErr != nil {
			s.logger.ErrorContext(ctx, "serving api", slogutil.KeyError, serveErr)
		}
	}()

	s.logger.InfoContext(ctx, "api server started", "addr", l.Addr())

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	return s.app.ShutdownWithContext(ctx)
}
