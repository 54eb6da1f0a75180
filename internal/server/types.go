// Package server defines shared error values, delivery results, and utility
// helpers that are reused across client, hub, and relay logic.
package server

import (
	"errors"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

var (
	// ErrUnauthenticated is returned when a request carries no valid session.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when an authenticated user is not a room member.
	ErrForbidden = errors.New("not a member of this room")
	// ErrPersistence wraps storage failures on the message path.
	ErrPersistence = errors.New("message could not be persisted")
	// ErrHubClosed is returned by Register once Shutdown has begun.
	ErrHubClosed = errors.New("hub is shutting down")
)

// Delivery reports the outcome of one broadcast.
type Delivery struct {
	Delivered int
	// Dropped lists the client ids whose outbound queue was full.
	Dropped []string
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
