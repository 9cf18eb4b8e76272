package link

import (
	"sync"
	"time"
)

// Liveness defaults shared by every SHQ controller.
const (
	// defaultAvailabilityWindow is how recent traffic must be for the
	// device to count as available.
	defaultAvailabilityWindow = 30 * time.Second

	// defaultAvailabilityInterval is how often liveness is re-evaluated.
	defaultAvailabilityInterval = 10 * time.Second
)

// MonitorConfig holds liveness evaluation settings.
type MonitorConfig struct {
	// Window is the maximum traffic age for an available device.
	// Default: 30 seconds.
	Window time.Duration

	// Interval is the evaluation cadence. Default: 10 seconds.
	Interval time.Duration
}

// Monitor derives device availability from observed traffic age.
//
// Socket state is a poor liveness signal: a TCP connection can sit in a
// half-open state for minutes after the peer died. The monitor instead asks
// "when did we last hear anything?" — keepalives included — and flips an
// availability flag when the answer crosses the window.
//
// A device that has never produced traffic is unavailable; optimism about
// devices we have never heard from helps nobody.
type Monitor struct {
	cfg MonitorConfig

	lastTraffic func() time.Time
	onChange    func(available bool)

	mu        sync.Mutex
	available bool
	started   bool

	done *closeOnce
	wg   sync.WaitGroup

	// now is swapped out by tests for deterministic clocks.
	now func() time.Time
}

// NewMonitor creates a monitor. lastTraffic reports when traffic was last
// seen (zero time for never); onChange fires on every availability flip.
// Call Start to begin evaluation.
func NewMonitor(cfg MonitorConfig, lastTraffic func() time.Time, onChange func(bool)) *Monitor {
	if cfg.Window == 0 {
		cfg.Window = defaultAvailabilityWindow
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultAvailabilityInterval
	}
	return &Monitor{
		cfg:         cfg,
		lastTraffic: lastTraffic,
		onChange:    onChange,
		done:        newCloseOnce(),
		now:         time.Now,
	}
}

// Start launches the periodic evaluation loop. Safe to call once.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
}

// Stop ends evaluation and joins the loop. Idempotent.
func (m *Monitor) Stop() {
	m.done.Close()
	m.wg.Wait()
}

// Available returns the current liveness verdict without re-evaluating.
func (m *Monitor) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Check re-evaluates liveness immediately and fires onChange on a flip.
// The run loop calls this on every tick; tests call it directly.
func (m *Monitor) Check() bool {
	last := m.lastTraffic()

	available := false
	if !last.IsZero() {
		available = m.now().Sub(last) < m.cfg.Window
	}

	m.mu.Lock()
	changed := available != m.available
	m.available = available
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(available)
	}
	return available
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}
