package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter throttles WebSocket handshakes per client IP with a token bucket.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(ratePerSecond),
		Burst:     burst,
		ExpiresIn: rateLimiterExpiry,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			return apperrors.RateLimitedError("too many connection attempts").WithContext("ip", identifier)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apperrors.InternalError("rate limiter failed", err)
		},
	})
}
