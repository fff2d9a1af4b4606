// Package httpserver exposes the WebSocket endpoint together with health,
// metrics and version routes.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

type Options struct {
	Port       string
	InstanceID string

	WebSocket http.Handler
	Metrics   http.Handler

	// Components make up the /health document; ReadyChecks gate /health/ready.
	Components  []Component
	ReadyChecks []HealthCheck

	HandshakeRatePerSecond float64
	HandshakeBurst         int

	Clock clockwork.Clock
}

type Server struct {
	echo      *echo.Echo
	opts      Options
	clock     clockwork.Clock
	startTime time.Time
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler

	srv := &Server{
		echo:      e,
		opts:      opts,
		clock:     opts.Clock,
		startTime: opts.Clock.Now(),
	}
	srv.registerRoutes()
	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks until the server stops. After Shutdown it returns http.ErrServerClosed.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.opts.Port, "instance_id", s.opts.InstanceID)
	if err := s.echo.Start(":" + s.opts.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
