// Package domain defines the core event relay types and interfaces.
//
// This package contains concept-oriented files (channel.go, event.go, envelope.go, relay.go, user.go, etc.)
// with shared types and cross-cutting interfaces. No implementation code - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
