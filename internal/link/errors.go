package link

import "errors"

// Domain-specific errors for device link operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when a dial or handshake attempt fails.
	ErrConnectionFailed = errors.New("link: connection failed")

	// ErrNotConnected is returned when a command is issued while the link is
	// down. The supervisor schedules an immediate reconnect before returning it.
	ErrNotConnected = errors.New("link: not connected")

	// ErrConnectionLost is returned when the connection drops while a command
	// is waiting for its response. The command outcome is unknown.
	ErrConnectionLost = errors.New("link: connection lost")

	// ErrResponseTimeout is returned when no response arrives within the
	// response window. The connection is treated as suspect.
	ErrResponseTimeout = errors.New("link: response timeout")

	// ErrMalformedMessage is returned when an inbound frame is not valid JSON.
	// The read loop logs and drops these; it never terminates because of them.
	ErrMalformedMessage = errors.New("link: malformed message")

	// ErrShuttingDown is returned for operations issued after Shutdown.
	ErrShuttingDown = errors.New("link: shutting down")
)
