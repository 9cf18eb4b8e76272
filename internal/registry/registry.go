package registry

import (
	"fmt"
	"strings"

	"github.com/nerrad567/shq-link/internal/command"
	"github.com/nerrad567/shq-link/internal/devices/climate"
	"github.com/nerrad567/shq-link/internal/devices/display"
	"github.com/nerrad567/shq-link/internal/devices/door"
	"github.com/nerrad567/shq-link/internal/infrastructure/config"
	"github.com/nerrad567/shq-link/internal/link"
)

// Deps holds the shared infrastructure the registry wires into every
// coordinator. History and Metrics may be nil when disabled.
type Deps struct {
	Publisher Publisher
	History   *History
	Metrics   MetricsSink
	Logger    Logger
}

// Registry owns the full set of device coordinators for a site.
//
// It is built once from configuration at startup and torn down in
// reverse order at shutdown.
type Registry struct {
	coordinators []*Coordinator
	climate      *ClimatePoller
	logger       Logger
}

// New builds coordinators for every configured device. No connections
// are made until Start.
func New(cfg *config.Config, deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Registry{logger: logger}
	qos := byte(cfg.MQTT.QoS) // #nosec G115 -- validated 0-2 at config load

	for _, d := range cfg.Devices.Doors {
		r.coordinators = append(r.coordinators,
			newDoorCoordinator(d, cfg, deps, qos))
	}
	for _, d := range cfg.Devices.Displays {
		r.coordinators = append(r.coordinators,
			newDisplayCoordinator(d, cfg, deps, qos))
	}

	if cfg.Devices.Climate.Enabled {
		r.climate = newClimatePoller(cfg, deps, qos)
	}

	return r
}

// Start brings up every coordinator. On failure, coordinators already
// started are shut down before returning.
func (r *Registry) Start() error {
	started := make([]*Coordinator, 0, len(r.coordinators))

	for _, c := range r.coordinators {
		if err := c.Start(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Shutdown()
			}
			return fmt.Errorf("starting %s: %w", c.id, err)
		}
		started = append(started, c)
	}

	if r.climate != nil {
		if err := r.climate.Start(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Shutdown()
			}
			return fmt.Errorf("starting %s: %w", r.climate.id, err)
		}
	}

	r.logger.Info("registry started",
		"linked_devices", len(r.coordinators),
		"climate", r.climate != nil,
	)
	return nil
}

// Shutdown stops every coordinator in reverse start order.
func (r *Registry) Shutdown() {
	if r.climate != nil {
		r.climate.Shutdown()
	}
	for i := len(r.coordinators) - 1; i >= 0; i-- {
		r.coordinators[i].Shutdown()
	}
	r.logger.Info("registry stopped")
}

// Stats returns a supervisor snapshot per linked device, for periodic
// telemetry flushes.
func (r *Registry) Stats() []link.SupervisorStats {
	stats := make([]link.SupervisorStats, 0, len(r.coordinators))
	for _, c := range r.coordinators {
		stats = append(stats, c.sup.Stats())
	}
	return stats
}

func newDoorCoordinator(d config.DoorDeviceConfig, cfg *config.Config, deps Deps, qos byte) *Coordinator {
	c := &Coordinator{
		id:      d.ID,
		kind:    "door",
		slots:   command.NewSlots(deps.Logger),
		pub:     deps.Publisher,
		history: deps.History,
		metrics: deps.Metrics,
		logger:  orNoop(deps.Logger),
		qos:     qos,
	}

	c.sup = link.NewSupervisor(link.SupervisorConfig{
		Name:                 d.ID,
		Endpoint:             link.Endpoint{Host: d.Host, Port: d.Port},
		ReconnectDelay:       cfg.GetReconnectDelay(),
		KeepaliveInterval:    door.KeepaliveInterval,
		ResponseTimeout:      cfg.GetResponseTimeout(),
		AvailabilityWindow:   cfg.GetAvailabilityWindow(),
		AvailabilityInterval: cfg.GetAvailabilityInterval(),
		Logger:               deps.Logger,
	}, c)

	ctrl := door.New(c.sup)
	c.dispatch = doorDispatcher(ctrl)
	c.translate = doorTranslate
	c.gauges = doorGauges
	c.intent = doorIntent
	return c
}

func newDisplayCoordinator(d config.DisplayDeviceConfig, cfg *config.Config, deps Deps, qos byte) *Coordinator {
	c := &Coordinator{
		id:      d.ID,
		kind:    "display",
		slots:   command.NewSlots(deps.Logger),
		pub:     deps.Publisher,
		history: deps.History,
		metrics: deps.Metrics,
		logger:  orNoop(deps.Logger),
		qos:     qos,
	}

	c.sup = link.NewSupervisor(link.SupervisorConfig{
		Name:                 d.ID,
		Endpoint:             link.Endpoint{Host: d.Host, Port: d.Port},
		ReconnectDelay:       cfg.GetReconnectDelay(),
		KeepaliveInterval:    display.KeepaliveInterval,
		ResponseTimeout:      cfg.GetResponseTimeout(),
		AvailabilityWindow:   cfg.GetAvailabilityWindow(),
		AvailabilityInterval: cfg.GetAvailabilityInterval(),
		Logger:               deps.Logger,
	}, c)

	ctrl := display.New(c.sup)
	c.dispatch = displayDispatcher(ctrl)
	c.translate = displayTranslate
	c.gauges = displayGauges
	c.intent = displayIntent
	return c
}

func newClimatePoller(cfg *config.Config, deps Deps, qos byte) *ClimatePoller {
	cc := cfg.Devices.Climate

	client := climate.New(climate.Config{
		BaseURL:      cc.BaseURL,
		RefreshToken: cc.RefreshToken,
		ClientID:     cc.ClientID,
		Logger:       deps.Logger,
	})

	return NewClimatePoller(ClimatePollerConfig{
		DeviceID: climateDeviceID(cc.Serial),
		Serial:   cc.Serial,
		Client:   client,
		Interval: cfg.GetClimatePollInterval(),
		Pub:      deps.Publisher,
		History:  deps.History,
		Metrics:  deps.Metrics,
		QoS:      qos,
		Logger:   deps.Logger,
	})
}

// climateDeviceID derives a stable MQTT device id from the system serial.
func climateDeviceID(serial string) string {
	return "climate-" + strings.ToLower(serial)
}

func orNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
