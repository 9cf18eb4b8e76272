package link

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport timeouts.
const (
	// defaultDialTimeout is the maximum time to wait for the WebSocket
	// handshake to complete.
	defaultDialTimeout = 10 * time.Second

	// defaultWriteTimeout bounds individual frame writes. A controller that
	// cannot accept a small JSON frame within this window is effectively gone.
	defaultWriteTimeout = 5 * time.Second
)

// Endpoint identifies a controller's listening socket. Immutable once built.
type Endpoint struct {
	Host string
	Port int
}

// URL returns the WebSocket URL for the endpoint.
func (e Endpoint) URL() string {
	return "ws://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String implements fmt.Stringer for log fields.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Channel is a duplex message pipe to one controller over a WebSocket.
//
// It hides the frame-level transport behind Send/Receive of Messages.
// Send is safe for concurrent use; Receive must be called from a single
// goroutine (the client's read loop).
type Channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	writeTimeout time.Duration
}

// DialChannel opens a WebSocket connection to the endpoint.
//
// Parameters:
//   - ctx: Bounds the handshake; a zero-value context gets defaultDialTimeout.
//   - ep: Controller endpoint.
//
// Returns:
//   - *Channel: Open channel ready for Send/Receive.
//   - error: Wraps ErrConnectionFailed when the dial or handshake fails.
func DialChannel(ctx context.Context, ep Endpoint) (*Channel, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, ep.URL(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close() //nolint:errcheck // Best effort cleanup on error path
		}
		return nil, fmt.Errorf("%w: dialing %s: %w", ErrConnectionFailed, ep, err)
	}

	return &Channel{
		conn:         conn,
		writeTimeout: defaultWriteTimeout,
	}, nil
}

// Send writes one message to the controller.
//
// Writes are serialized internally; gorilla/websocket permits only one
// concurrent writer. A write deadline keeps a wedged socket from blocking
// the caller forever.
func (ch *Channel) Send(ctx context.Context, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send cancelled: %w", err)
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()

	deadline := time.Now().Add(ch.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ch.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: setting write deadline: %w", ErrConnectionLost, err)
	}

	if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return nil
}

// Receive blocks until the next message arrives.
//
// Malformed frames return ErrMalformedMessage and leave the channel usable;
// any other error means the connection is gone.
func (ch *Channel) Receive() (Message, error) {
	_, data, err := ch.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return Decode(data)
}

// Close tears down the underlying socket. Safe to call more than once;
// subsequent closes return the transport's error and are ignored by callers.
func (ch *Channel) Close() error {
	return ch.conn.Close()
}
