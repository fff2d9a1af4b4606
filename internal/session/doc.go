// Package session manages the WebSocket connections of one instance.
//
// A single actor goroutine owns the connection registry, room membership and
// the per-user rate-limit table; everything else talks to it through commands.
// Each connection has its own writer goroutine with a bounded send buffer.
package session
