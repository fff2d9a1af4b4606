package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/eventrelay/internal/platform/correlation"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
)

const correlationHeader = "X-Correlation-ID"

// correlationMiddleware adopts the caller's X-Correlation-ID or creates one and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, id := correlation.Ensure(c.Request().Context(), c.Request().Header.Get(correlationHeader))
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlationHeader, id)
		return next(c)
	}
}

// ErrorHandlingMiddleware renders structured errors returned by handlers as JSON.
// echo.HTTPErrors pass through to the router's error handler.
func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}
			return writeError(c, apperrors.AsStructuredError(err))
		}
	}
}

// httpErrorHandler gives router-level failures (unknown route, wrong method)
// the same JSON shape as handler errors.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	structured := apperrors.AsStructuredError(err)
	if errors.As(err, &httpErr) {
		structured = WrapHTTPError(httpErr)
	}
	if werr := writeError(c, structured); werr != nil {
		slog.Error("Failed to write error response", "error", werr)
	}
}

func writeError(c echo.Context, err *apperrors.Error) error {
	logError(c, err)
	if werr := c.JSON(err.HTTPStatus(), err.ToResponse()); werr != nil {
		return fmt.Errorf("failed to write error response: %w", werr)
	}
	return nil
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound, apperrors.TypeUnauthorized, apperrors.TypeForbidden:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Rate limited", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	}
}

// WrapHTTPError converts an echo.HTTPError into a structured error.
func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok && msg != "" {
		message = msg
	}
	if message == "" {
		message = "internal server error"
	}

	var errType apperrors.ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest, http.StatusMethodNotAllowed:
		errType = apperrors.TypeValidation
	case http.StatusUnauthorized:
		errType = apperrors.TypeUnauthorized
	case http.StatusForbidden:
		errType = apperrors.TypeForbidden
	case http.StatusNotFound:
		errType = apperrors.TypeNotFound
	case http.StatusTooManyRequests:
		errType = apperrors.TypeRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		errType = apperrors.TypeUnavailable
	default:
		errType = apperrors.TypeInternal
	}

	return &apperrors.Error{
		Type:    errType,
		Message: message,
		Cause:   httpErr.Internal,
	}
}
