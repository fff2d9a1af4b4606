package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/eventrelay/internal/platform/version"
)

const readinessProbeTimeout = 5 * time.Second

// Health statuses reported by components.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheck is a named readiness check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Component contributes one section to the /health document. Report returns the
// component status and the detail rendered under its name.
type Component struct {
	Name   string
	Report func() (status string, detail any)
}

type healthDocument struct {
	Status     string         `json:"status"`
	InstanceID string         `json:"instanceId"`
	Timestamp  int64          `json:"timestamp"`
	Uptime     float64        `json:"uptimeSeconds"`
	Version    version.Info   `json:"version"`
	Components map[string]any `json:"components"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleHealth aggregates component health. A degraded component keeps the
// process serving (200); anything else but healthy answers 503.
func (s *Server) handleHealth(c echo.Context) error {
	now := s.clock.Now()
	doc := healthDocument{
		Status:     StatusHealthy,
		InstanceID: s.opts.InstanceID,
		Timestamp:  now.UnixMilli(),
		Uptime:     now.Sub(s.startTime).Seconds(),
		Version:    version.Get(),
		Components: make(map[string]any, len(s.opts.Components)),
	}

	for _, comp := range s.opts.Components {
		status, detail := comp.Report()
		doc.Components[comp.Name] = detail
		doc.Status = worse(doc.Status, status)
	}

	code := http.StatusOK
	if doc.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	if err := c.JSON(code, doc); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

func worse(current, next string) string {
	switch {
	case current == StatusUnhealthy:
		return current
	case next == StatusHealthy:
		return current
	case next == StatusDegraded:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": s.clock.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	for _, hc := range s.opts.ReadyChecks {
		if err := hc.Check(ctx); err != nil {
			response := map[string]any{
				"status":       StatusUnhealthy,
				"failed_check": hc.Name,
				"error":        err.Error(),
			}
			if err := c.JSON(http.StatusServiceUnavailable, response); err != nil {
				return fmt.Errorf("failed to write readiness response: %w", err)
			}
			return nil
		}
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ready"}); err != nil {
		return fmt.Errorf("failed to write readiness response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
