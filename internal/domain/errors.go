package domain

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user is not active")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrUnknownChannel     = errors.New("unknown channel")
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrRateLimited        = errors.New("rate limited")
	ErrTooManyConnections = errors.New("too many connections")
)
