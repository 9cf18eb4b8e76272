package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Supervisor defaults.
const (
	// defaultReconnectDelay is the fixed pause before a reconnect attempt.
	defaultReconnectDelay = 5 * time.Second
)

// State is the supervisor's connection lifecycle state.
type State int

const (
	// StateIdle means no connection exists and none is being established.
	StateIdle State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means a live client exists.
	StateConnected

	// StateClosing means Shutdown has begun; no new connections are made.
	StateClosing
)

// String implements fmt.Stringer for log fields.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Subscriber receives state pushed up from a supervised connection.
//
// Both methods are invoked sequentially from supervisor goroutines and must
// not block for long; slow consumers cause broadcast drops upstream.
type Subscriber interface {
	// OnBroadcast delivers an unsolicited state or metrics message. After an
	// availability change the most recent broadcast is re-delivered so
	// consumers can re-render cached data against the new availability.
	OnBroadcast(msg Message)

	// OnAvailability delivers liveness transitions.
	OnAvailability(available bool)
}

// SupervisorConfig holds per-device connection management settings.
type SupervisorConfig struct {
	// Name identifies the device in logs and stats.
	Name string

	// Endpoint is the controller's listening socket.
	Endpoint Endpoint

	// ReconnectDelay is the fixed pause before reconnect attempts.
	// Default: 5 seconds.
	ReconnectDelay time.Duration

	// KeepaliveInterval is passed through to the connection's keepalive
	// generator. Zero applies the client default.
	KeepaliveInterval time.Duration

	// ResponseTimeout is passed through to the connection's multiplexer.
	// Zero applies the client default.
	ResponseTimeout time.Duration

	// AvailabilityWindow and AvailabilityInterval configure the liveness
	// monitor. Zero values apply the monitor defaults (30s / 10s).
	AvailabilityWindow   time.Duration
	AvailabilityInterval time.Duration

	// Logger receives lifecycle events. Nil discards them.
	Logger Logger
}

// SupervisorStats holds a snapshot of a supervisor's operational state.
type SupervisorStats struct {
	Name            string
	State           State
	Available       bool
	ConnectAttempts uint64
	ReconnectsTotal uint64 // Successful connections after the first
	Client          ClientStats
}

// Supervisor owns the connection lifecycle for one controller endpoint.
//
// It holds the two structural invariants of the layer: at most one live
// connection per endpoint, and at most one scheduled reconnect attempt.
// Consumers interact with the device only through Command and the
// Subscriber callbacks; they never see the underlying client change.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Supervisor struct {
	cfg SupervisorConfig
	sub Subscriber

	mu               sync.Mutex
	state            State
	client           *Client
	reconnectTimer   *time.Timer
	reconnectPending bool
	fastReconnect    bool // Skip the fixed delay on the next connection loss
	lastBroadcast    Message
	lastSeen         time.Time // High-water mark across connections

	monitor *Monitor

	done *closeOnce
	wg   sync.WaitGroup

	logger Logger

	connectAttempts atomic.Uint64
	reconnectsTotal atomic.Uint64

	// dial is swapped out by tests to avoid real sockets.
	dial func(ctx context.Context, ep Endpoint) (*Client, error)
}

// NewSupervisor creates a supervisor for one endpoint. Call Start to begin
// connecting; the constructor performs no I/O.
func NewSupervisor(cfg SupervisorConfig, sub Subscriber) *Supervisor {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	s := &Supervisor{
		cfg:    cfg,
		sub:    sub,
		state:  StateIdle,
		done:   newCloseOnce(),
		logger: cfg.Logger,
	}
	s.dial = func(ctx context.Context, ep Endpoint) (*Client, error) {
		ch, err := DialChannel(ctx, ep)
		if err != nil {
			return nil, err
		}
		return StartClient(ch, ClientConfig{
			ResponseTimeout:   cfg.ResponseTimeout,
			KeepaliveInterval: cfg.KeepaliveInterval,
			Logger:            cfg.Logger,
		}), nil
	}

	s.monitor = NewMonitor(MonitorConfig{
		Window:   cfg.AvailabilityWindow,
		Interval: cfg.AvailabilityInterval,
	}, s.lastTraffic, s.handleAvailabilityChange)

	return s
}

// Start begins connecting in the background and returns immediately.
// Startup must not block on unreachable devices; failures surface through
// availability, not through Start.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return
	}
	s.state = StateConnecting

	s.monitor.Start()

	s.wg.Add(1)
	go s.connect()
}

// Shutdown tears the connection down and joins every goroutine the
// supervisor started. Idempotent; repeat calls return immediately.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.state == StateClosing {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.done.Close()

	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
		s.reconnectPending = false
	}

	client := s.client
	s.client = nil
	s.mu.Unlock()

	s.monitor.Stop()

	if client != nil {
		client.Close() //nolint:errcheck // Socket teardown error is irrelevant on shutdown
	}

	s.wg.Wait()
	s.logger.Info("link supervisor stopped", "device", s.cfg.Name)
}

// Command sends a command over the live connection and returns its response.
//
// When the link is down it fails fast with ErrNotConnected after requesting
// an immediate reconnect, so a user-visible retry a moment later is likely
// to find the connection restored.
func (s *Supervisor) Command(ctx context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	client := s.client
	state := s.state
	s.mu.Unlock()

	if state == StateClosing {
		return nil, ErrShuttingDown
	}
	if client == nil {
		s.scheduleReconnect(0)
		return nil, ErrNotConnected
	}

	resp, err := client.Call(ctx, msg)
	if err != nil && (errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrResponseTimeout)) {
		// A peer that swallows a command without answering is as suspect as
		// a dropped socket. Tear the connection down and rebuild it without
		// the fixed delay.
		s.suspectConnection(client)
	}
	return resp, err
}

// suspectConnection abandons a connection that failed a command. The pump
// observes the aborted client and runs the normal loss path; fastReconnect
// downgrades that path's delay to zero so recovery is immediate.
func (s *Supervisor) suspectConnection(client *Client) {
	s.mu.Lock()
	if s.state == StateClosing {
		s.mu.Unlock()
		return
	}
	if s.client == client {
		s.fastReconnect = true
	}
	s.mu.Unlock()

	client.abort()
	s.scheduleReconnect(0)
}

// Connected reports whether a live connection exists right now. Prefer
// Available for consumer-facing liveness; sockets can look healthy long
// after the peer stopped talking.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// Available reports staleness-based liveness from the monitor.
func (s *Supervisor) Available() bool {
	return s.monitor.Available()
}

// Stats returns a snapshot of the supervisor's counters and state.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.Lock()
	client := s.client
	state := s.state
	s.mu.Unlock()

	stats := SupervisorStats{
		Name:            s.cfg.Name,
		State:           state,
		Available:       s.monitor.Available(),
		ConnectAttempts: s.connectAttempts.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
	}
	if client != nil {
		stats.Client = client.Stats()
	}
	return stats
}

// connect dials the endpoint and installs the resulting client.
// Runs in its own goroutine; state is already StateConnecting.
func (s *Supervisor) connect() {
	defer s.wg.Done()

	attempt := s.connectAttempts.Add(1)
	s.logger.Info("connecting to device",
		"device", s.cfg.Name,
		"endpoint", s.cfg.Endpoint.String(),
		"attempt", attempt,
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	client, err := s.dial(ctx, s.cfg.Endpoint)
	if err != nil {
		s.logger.Warn("connection attempt failed",
			"device", s.cfg.Name,
			"endpoint", s.cfg.Endpoint.String(),
			"error", err,
		)
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateIdle
		}
		s.mu.Unlock()
		s.scheduleReconnect(s.cfg.ReconnectDelay)
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Shutdown raced the dial; discard the fresh connection.
		s.mu.Unlock()
		client.Close() //nolint:errcheck // Connection is being discarded
		return
	}
	s.state = StateConnected
	s.client = client
	s.mu.Unlock()

	if attempt > 1 {
		s.reconnectsTotal.Add(1)
	}
	s.logger.Info("device connected",
		"device", s.cfg.Name,
		"endpoint", s.cfg.Endpoint.String(),
	)

	s.wg.Add(1)
	go s.pump(client)
}

// pump relays broadcasts from one client to the subscriber and handles the
// connection's end of life. One pump exists per live connection.
func (s *Supervisor) pump(client *Client) {
	defer s.wg.Done()

	for {
		select {
		case msg := <-client.Broadcasts():
			s.mu.Lock()
			s.lastBroadcast = msg
			s.mu.Unlock()
			if s.sub != nil {
				s.sub.OnBroadcast(msg)
			}
		case <-client.Done():
			s.handleConnectionLoss(client)
			return
		}
	}
}

// handleConnectionLoss moves the supervisor back to idle and schedules a
// reconnect, unless shutdown already owns the transition.
func (s *Supervisor) handleConnectionLoss(client *Client) {
	s.mu.Lock()
	if s.state == StateClosing || s.client != client {
		s.mu.Unlock()
		return
	}
	// Preserve the liveness high-water mark before dropping the client.
	if t := client.LastActivity(); t.After(s.lastSeen) {
		s.lastSeen = t
	}
	s.client = nil
	s.state = StateIdle
	fast := s.fastReconnect
	s.fastReconnect = false
	s.mu.Unlock()

	client.Close() //nolint:errcheck // Already dead; reclaim the goroutines

	s.logger.Warn("device connection lost",
		"device", s.cfg.Name,
		"endpoint", s.cfg.Endpoint.String(),
	)

	delay := s.cfg.ReconnectDelay
	if fast {
		delay = 0
	}
	s.scheduleReconnect(delay)
}

// scheduleReconnect arms the reconnect timer unless one is already pending
// or the supervisor is connected, connecting, or closing. This is the
// duplicate-suppression point: callers request freely, at most one attempt
// ever results.
func (s *Supervisor) scheduleReconnect(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle || s.reconnectPending {
		return
	}
	s.reconnectPending = true

	s.logger.Debug("reconnect scheduled",
		"device", s.cfg.Name,
		"delay", delay.String(),
	)

	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectPending = false
		s.reconnectTimer = nil
		if s.state != StateIdle {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.wg.Add(1)
		s.mu.Unlock()
		go s.connect()
	})
}

// lastTraffic feeds the availability monitor. It merges the live client's
// activity into a high-water mark so liveness never moves backwards when
// connections are replaced.
func (s *Supervisor) lastTraffic() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		if t := s.client.LastActivity(); t.After(s.lastSeen) {
			s.lastSeen = t
		}
	}
	return s.lastSeen
}

// handleAvailabilityChange fans an availability flip out to the subscriber
// and re-delivers the cached broadcast exactly once per flip, so consumers
// re-render their cached view against the new availability.
func (s *Supervisor) handleAvailabilityChange(available bool) {
	s.logger.Info("device availability changed",
		"device", s.cfg.Name,
		"available", available,
	)

	s.mu.Lock()
	cached := s.lastBroadcast
	s.mu.Unlock()

	if s.sub == nil {
		return
	}
	s.sub.OnAvailability(available)
	if cached != nil {
		s.sub.OnBroadcast(cached)
	}
}
