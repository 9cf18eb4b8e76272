package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/shq-link/internal/command"
	"github.com/nerrad567/shq-link/internal/devices/climate"
	"github.com/nerrad567/shq-link/internal/infrastructure/mqtt"
)

// ClimatePoller bridges the cloud climate API onto the MQTT surface.
//
// Unlike linked devices there is no persistent connection to supervise:
// state is polled on an interval and availability follows poll success.
// Commands arrive on the same command topic scheme as linked devices,
// serialize through per-setting slots, and trigger an immediate refresh
// on completion.
type ClimatePoller struct {
	id     string
	serial string

	client   *climate.Client
	interval time.Duration
	slots    *command.Slots
	pub      Publisher
	history  *History
	metrics  MetricsSink
	logger   Logger
	topics   mqtt.Topics
	qos      byte

	mu        sync.Mutex
	available bool
	announced bool
	closing   bool
	lastState map[string]any

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ClimatePollerConfig holds the poller's dependencies.
type ClimatePollerConfig struct {
	DeviceID string
	Serial   string
	Client   *climate.Client
	Interval time.Duration
	Pub      Publisher
	History  *History
	Metrics  MetricsSink
	QoS      byte
	Logger   Logger
}

// NewClimatePoller creates a poller. Call Start to begin polling.
func NewClimatePoller(cfg ClimatePollerConfig) *ClimatePoller {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &ClimatePoller{
		id:       cfg.DeviceID,
		serial:   cfg.Serial,
		client:   cfg.Client,
		interval: interval,
		slots:    command.NewSlots(cfg.Logger),
		pub:      cfg.Pub,
		history:  cfg.History,
		metrics:  cfg.Metrics,
		logger:   logger,
		qos:      cfg.QoS,
		kick:     make(chan struct{}, 1),
	}
}

// Start subscribes to the command topic and begins the poll loop.
func (p *ClimatePoller) Start() error {
	p.ctx, p.cancel = context.WithCancel(context.Background())

	topic := p.topics.DeviceCommand(p.id)
	if err := p.pub.Subscribe(topic, p.qos, p.handleCommand); err != nil {
		p.cancel()
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	p.wg.Add(1)
	go p.run()

	p.logger.Info("climate poller started", "device", p.id, "interval", p.interval)
	return nil
}

// Shutdown stops polling and marks the device offline. The command
// subscription is removed first so no new work can race the teardown.
func (p *ClimatePoller) Shutdown() {
	if err := p.pub.Unsubscribe(p.topics.DeviceCommand(p.id)); err != nil {
		p.logger.Warn("unsubscribing command topic", "device", p.id, "error", err)
	}
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	p.cancel()
	p.slots.CancelAll()
	p.wg.Wait()
	p.setAvailable(false)
	p.logger.Info("climate poller stopped", "device", p.id)
}

func (p *ClimatePoller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Prime the retained state before the first tick.
	p.poll()

	for {
		select {
		case <-ticker.C:
			p.poll()
		case <-p.kick:
			p.poll()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *ClimatePoller) poll() {
	status, err := p.client.Status(p.ctx, p.serial)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.logger.Warn("climate poll failed", "device", p.id, "error", err)
		p.setAvailable(false)
		return
	}

	p.setAvailable(true)
	p.publishState(climateStateDoc(status))
}

// requestRefresh schedules an immediate poll without waiting for the
// next tick. Coalesces when a refresh is already pending.
func (p *ClimatePoller) requestRefresh() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *ClimatePoller) handleCommand(_ string, payload []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("parsing command payload: %w", err)
	}

	action, _ := raw["action"].(string)
	if action == "" {
		return fmt.Errorf("command payload missing action")
	}
	delete(raw, "action")

	// Refuse stragglers delivered in the unsubscribe window during Shutdown.
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return fmt.Errorf("device %s is shutting down", p.id)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.runCommand(action, raw)
	return nil
}

// climateIntent keys the cancel-and-replace slot per setting, so rapid
// changes to one setting coalesce without cancelling unrelated ones. Zone
// commands contend per zone.
func climateIntent(action string, params map[string]any) string {
	switch action {
	case "set_temperature":
		return "temperature"
	case "set_mode":
		return "mode"
	case "set_fan_mode":
		return "fan"
	case "set_away_mode":
		return "away"
	case "set_quiet_mode":
		return "quiet"
	case "enable_zone", "set_zone_temperature":
		if zone, ok := intParam(params, "zone"); ok {
			return fmt.Sprintf("zone-%d", zone)
		}
		return "zone"
	default:
		return action
	}
}

func (p *ClimatePoller) runCommand(action string, params map[string]any) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(p.ctx, commandTimeout)
	defer cancel()

	// Zone toggles are applied optimistically so the retained state reacts
	// before the cloud round trip; a failure rolls the document back.
	var rollback func()
	if action == "enable_zone" {
		rollback = p.applyOptimisticZone(params)
	}

	key := p.id + ":" + climateIntent(action, params)
	outcome, err := p.slots.Execute(ctx, key, func(ctx context.Context) error {
		return p.dispatch(ctx, action, params)
	})

	switch outcome {
	case command.OutcomeCompleted:
		p.logger.Info("climate command completed", "device", p.id, "action", action)
		p.requestRefresh()
	case command.OutcomeSuperseded:
		p.logger.Info("climate command superseded", "device", p.id, "action", action)
	case command.OutcomeCancelled:
		p.logger.Info("climate command cancelled", "device", p.id, "action", action)
	case command.OutcomeFailed:
		p.logger.Warn("climate command failed", "device", p.id, "action", action, "error", err)
		if rollback != nil {
			rollback()
		}
	}

	result := map[string]any{
		"action":  action,
		"outcome": outcome.String(),
	}
	if err != nil {
		result["error"] = err.Error()
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		p.logger.Error("marshalling command result", "device", p.id, "error", marshalErr)
		return
	}
	if pubErr := p.pub.Publish(p.topics.DeviceCommandResult(p.id), payload, p.qos, false); pubErr != nil {
		p.logger.Warn("publishing command result", "device", p.id, "error", pubErr)
	}
}

// applyOptimisticZone publishes the retained state with the zone flag
// already flipped and returns a rollback that restores the previous
// document. Returns nil when the command is malformed or no state has been
// polled yet; validation then happens on the dispatch path as usual.
func (p *ClimatePoller) applyOptimisticZone(params map[string]any) func() {
	zone, zoneOK := intParam(params, "zone")
	enabled, enabledOK := boolParam(params, "enabled")
	if !zoneOK || !enabledOK {
		return nil
	}

	p.mu.Lock()
	prev := p.lastState
	p.mu.Unlock()
	if prev == nil {
		return nil
	}

	next := cloneState(prev)
	zones, _ := next["zones"].([]any)
	if zone < 0 || zone >= len(zones) {
		return nil
	}
	doc, _ := zones[zone].(map[string]any)
	if doc == nil {
		return nil
	}
	doc["enabled"] = enabled

	p.publishStateDoc(next)
	return func() {
		p.logger.Warn("rolling back optimistic zone state", "device", p.id, "zone", zone)
		p.publishStateDoc(prev)
	}
}

// cloneState deep-copies a state document via a JSON round trip.
func cloneState(state map[string]any) map[string]any {
	data, err := json.Marshal(state)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func (p *ClimatePoller) dispatch(ctx context.Context, action string, params map[string]any) error {
	switch action {
	case "set_mode":
		mode, ok := params["mode"].(string)
		if !ok {
			return fmt.Errorf("set_mode requires a string mode")
		}
		return p.client.SetMode(ctx, p.serial, mode)
	case "set_temperature":
		temp, ok := floatParam(params, "temperature")
		if !ok {
			return fmt.Errorf("set_temperature requires a numeric temperature")
		}
		return p.client.SetTemperature(ctx, p.serial, temp)
	case "set_fan_mode":
		mode, ok := params["mode"].(string)
		if !ok {
			return fmt.Errorf("set_fan_mode requires a string mode")
		}
		return p.client.SetFanMode(ctx, p.serial, mode)
	case "set_away_mode":
		enabled, ok := boolParam(params, "enabled")
		if !ok {
			return fmt.Errorf("set_away_mode requires a boolean enabled")
		}
		return p.client.SetAwayMode(ctx, p.serial, enabled)
	case "set_quiet_mode":
		enabled, ok := boolParam(params, "enabled")
		if !ok {
			return fmt.Errorf("set_quiet_mode requires a boolean enabled")
		}
		return p.client.SetQuietMode(ctx, p.serial, enabled)
	case "enable_zone":
		zone, ok := intParam(params, "zone")
		if !ok {
			return fmt.Errorf("enable_zone requires an integer zone")
		}
		enabled, ok := boolParam(params, "enabled")
		if !ok {
			return fmt.Errorf("enable_zone requires a boolean enabled")
		}
		return p.client.EnableZone(ctx, p.serial, zone, enabled)
	case "set_zone_temperature":
		zone, ok := intParam(params, "zone")
		if !ok {
			return fmt.Errorf("set_zone_temperature requires an integer zone")
		}
		temp, ok := floatParam(params, "temperature")
		if !ok {
			return fmt.Errorf("set_zone_temperature requires a numeric temperature")
		}
		return p.client.SetZoneTemperature(ctx, p.serial, zone, temp)
	default:
		return fmt.Errorf("unknown climate action %q", action)
	}
}

// publishState publishes a confirmed state document and records it. The
// document is remembered as the base for optimistic zone previews.
func (p *ClimatePoller) publishState(state map[string]any) {
	p.mu.Lock()
	p.lastState = state
	p.mu.Unlock()

	p.publishStateDoc(state)

	if p.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := p.history.Record(ctx, p.id, state, SourcePoll); err != nil {
			p.logger.Warn("recording state history", "device", p.id, "error", err)
		}
		cancel()
	}

	if p.metrics != nil {
		if v, ok := state["target_temp"].(float64); ok {
			p.metrics.WriteDeviceMetric(p.id, "target_temp", v)
		}
	}
}

// publishStateDoc pushes a state document to the retained topic without
// recording it. Optimistic previews and their rollbacks use this directly.
func (p *ClimatePoller) publishStateDoc(state map[string]any) {
	payload, err := json.Marshal(state)
	if err != nil {
		p.logger.Error("marshalling state", "device", p.id, "error", err)
		return
	}
	if err := p.pub.Publish(p.topics.DeviceState(p.id), payload, p.qos, true); err != nil {
		p.logger.Warn("publishing state", "device", p.id, "error", err)
	}
}

// setAvailable publishes the availability flag when it changes. The first
// verdict is always published so the retained flag exists.
func (p *ClimatePoller) setAvailable(available bool) {
	p.mu.Lock()
	changed := !p.announced || p.available != available
	p.available = available
	p.announced = true
	p.mu.Unlock()

	if !changed {
		return
	}

	payload := "offline"
	if available {
		payload = "online"
	}
	if err := p.pub.Publish(p.topics.DeviceAvailability(p.id), []byte(payload), p.qos, true); err != nil {
		p.logger.Warn("publishing availability", "device", p.id, "error", err)
	}
	if p.metrics != nil {
		p.metrics.WriteAvailability(p.id, available)
	}
}

func climateStateDoc(status climate.Status) map[string]any {
	zones := make([]map[string]any, 0, len(status.Zones))
	for _, z := range status.Zones {
		zones = append(zones, map[string]any{
			"name":         z.Name,
			"enabled":      z.Enabled,
			"current_temp": z.CurrentTemp,
			"target_temp":  z.TargetTemp,
		})
	}
	return map[string]any{
		"mode":        status.Mode,
		"on":          status.On,
		"target_temp": status.TargetTemp,
		"fan_mode":    status.FanMode,
		"zones":       zones,
	}
}
