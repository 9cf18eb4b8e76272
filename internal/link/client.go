package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Multiplexer defaults.
const (
	// defaultResponseTimeout is how long a command waits for its response.
	defaultResponseTimeout = 10 * time.Second

	// defaultKeepaliveInterval is the outbound noop cadence when the device
	// adapter does not specify one.
	defaultKeepaliveInterval = 30 * time.Second

	// broadcastQueueSize is the buffer size for the broadcast queue.
	// Overflow drops the newest message rather than blocking the read loop.
	broadcastQueueSize = 100

	// responseQueueSize bounds buffered responses. Commands are serialized,
	// so more than a handful of queued responses means the peer is replaying
	// or answering commands that already timed out.
	responseQueueSize = 8
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ClientConfig holds per-connection multiplexer settings.
type ClientConfig struct {
	// ResponseTimeout is how long Call waits for the next response-class
	// message. Default: 10 seconds.
	ResponseTimeout time.Duration

	// KeepaliveInterval is the outbound noop cadence. Zero applies the
	// default; a negative value disables the keepalive generator.
	KeepaliveInterval time.Duration

	// Logger receives connection events. Nil discards them.
	Logger Logger
}

// ClientStats holds operational statistics for one connection.
type ClientStats struct {
	MessagesTx        uint64
	MessagesRx        uint64
	BroadcastsDropped uint64 // Broadcasts dropped due to full queue
	MalformedTotal    uint64 // Frames dropped as unparseable
	LastActivity      time.Time
}

// Client multiplexes one live connection.
//
// A single read loop classifies every inbound message: response-class
// messages feed the queue Call waits on, broadcast-class messages feed the
// bounded broadcast queue, keepalives only refresh the liveness timestamp.
// A keepalive goroutine sends noops so the peer can see we are alive too.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Call is serialized internally: correlation is order-based, so at most
//     one command may be outstanding per connection.
type Client struct {
	ch  *Channel
	cfg ClientConfig

	// Single in-flight command (order-based correlation)
	callMu sync.Mutex

	// statusWanted marks an in-flight status query. Controllers answer
	// status commands with a status-typed frame, which would otherwise be
	// routed as a broadcast and leave the caller waiting forever.
	statusWanted atomic.Bool

	responses  chan Message
	broadcasts chan Message

	// Shutdown coordination. done is closed by Close() or by the read loop
	// when the connection drops, whichever happens first.
	done *closeOnce
	wg   sync.WaitGroup

	logger Logger

	// Statistics (atomic for performance)
	messagesTx        atomic.Uint64
	messagesRx        atomic.Uint64
	broadcastsDropped atomic.Uint64
	malformedTotal    atomic.Uint64
	lastActivity      atomic.Int64 // UnixNano; 0 means no traffic yet
}

// StartClient attaches a multiplexer to an open channel and starts its
// read and keepalive loops.
func StartClient(ch *Channel, cfg ClientConfig) *Client {
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	c := &Client{
		ch:         ch,
		cfg:        cfg,
		responses:  make(chan Message, responseQueueSize),
		broadcasts: make(chan Message, broadcastQueueSize),
		done:       newCloseOnce(),
		logger:     cfg.Logger,
	}

	c.wg.Add(1)
	go c.readLoop()

	if cfg.KeepaliveInterval > 0 {
		c.wg.Add(1)
		go c.keepaliveLoop()
	}

	return c
}

// Call sends a command and waits for the next response-class message.
//
// Correlation is order-based: the controller answers commands in arrival
// order, so calls are serialized and each one pairs with the next response.
// Stale responses left over from a timed-out predecessor are drained before
// sending. Status queries are answered with a status-typed frame rather
// than a response, so those are paired too while such a query is in flight.
//
// Parameters:
//   - ctx: Cancels the wait early.
//   - msg: Command to send; the device adapter owns its schema.
//
// Returns:
//   - Message: The response or error message from the controller.
//   - error: ErrResponseTimeout, ErrConnectionLost, or a send failure.
func (c *Client) Call(ctx context.Context, msg Message) (Message, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	select {
	case <-c.done.Done():
		return nil, ErrConnectionLost
	default:
	}

	// Drop responses that arrived after their command timed out; pairing
	// them with this command would answer it with stale data.
	for {
		select {
		case stale := <-c.responses:
			c.logger.Debug("discarding stale response", "type", stale.Type())
			continue
		default:
		}
		break
	}

	if msg.Type() == TypeStatus {
		c.statusWanted.Store(true)
		defer c.statusWanted.Store(false)
	}

	if err := c.ch.Send(ctx, msg); err != nil {
		c.done.Close()
		return nil, err
	}
	c.messagesTx.Add(1)

	timer := time.NewTimer(c.cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case resp := <-c.responses:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no response within %s", ErrResponseTimeout, c.cfg.ResponseTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("call cancelled: %w", ctx.Err())
	case <-c.done.Done():
		return nil, ErrConnectionLost
	}
}

// Broadcasts returns the queue of unsolicited state and metrics messages.
// The queue is bounded; when consumers fall behind, new broadcasts are
// dropped and counted rather than stalling the read loop.
func (c *Client) Broadcasts() <-chan Message {
	return c.broadcasts
}

// Done is closed when the connection is no longer usable, either because
// the read loop hit a transport error or because Close was called.
func (c *Client) Done() <-chan struct{} {
	return c.done.Done()
}

// LastActivity returns when the last inbound message of any kind arrived.
// The zero time means no traffic has been seen on this connection.
func (c *Client) LastActivity() time.Time {
	nanos := c.lastActivity.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Stats returns a snapshot of the connection's counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		MessagesTx:        c.messagesTx.Load(),
		MessagesRx:        c.messagesRx.Load(),
		BroadcastsDropped: c.broadcastsDropped.Load(),
		MalformedTotal:    c.malformedTotal.Load(),
		LastActivity:      c.LastActivity(),
	}
}

// Close tears down the connection and joins both loops. Idempotent.
func (c *Client) Close() error {
	c.done.Close()
	err := c.ch.Close()
	c.wg.Wait()
	return err
}

// abort marks the connection dead without waiting for the loops to exit.
// The owner observes Done and performs the full Close.
func (c *Client) abort() {
	c.done.Close()
}

// readLoop receives, classifies, and routes every inbound message.
// It exits only on transport failure or shutdown.
func (c *Client) readLoop() {
	defer c.wg.Done()
	// Whatever ends this loop ends the connection.
	defer c.done.Close()

	for {
		msg, err := c.ch.Receive()
		if err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				// Log and drop; one bad frame must not kill the stream.
				c.malformedTotal.Add(1)
				c.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			select {
			case <-c.done.Done():
				// Expected read error from our own Close.
			default:
				c.logger.Warn("read loop terminated", "error", err)
			}
			return
		}

		c.messagesRx.Add(1)
		c.lastActivity.Store(time.Now().UnixNano())

		switch msg.Class() {
		case ClassResponse:
			select {
			case c.responses <- msg:
			default:
				// No command is waiting and the buffer is full: the peer is
				// answering commands that already timed out.
				c.logger.Debug("discarding unpaired response", "type", msg.Type())
			}
		case ClassBroadcast:
			// A status frame answers an outstanding status query as well as
			// updating subscribers, so it feeds both queues.
			if msg.Type() == TypeStatus && c.statusWanted.Load() {
				select {
				case c.responses <- msg:
				default:
				}
			}
			select {
			case c.broadcasts <- msg:
			default:
				c.broadcastsDropped.Add(1)
				c.logger.Warn("broadcast queue full, dropping message", "type", msg.Type())
			}
		case ClassKeepalive:
			// Liveness timestamp already refreshed above.
		case ClassUnknown:
			c.logger.Debug("ignoring message of unknown type", "type", msg.Type())
		}
	}
}

// keepaliveLoop sends a noop every interval so the controller sees traffic
// from us even when no commands are flowing.
func (c *Client) keepaliveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
			if err := c.ch.Send(context.Background(), NewNoop()); err != nil {
				c.logger.Warn("keepalive send failed", "error", err)
				c.done.Close()
				return
			}
			c.messagesTx.Add(1)
		}
	}
}
