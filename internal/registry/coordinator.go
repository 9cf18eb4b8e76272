package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/shq-link/internal/command"
	"github.com/nerrad567/shq-link/internal/infrastructure/mqtt"
	"github.com/nerrad567/shq-link/internal/link"
)

const (
	// commandTimeout bounds one dispatched command end to end. Individual
	// link calls time out sooner; this is the safety net around the slot.
	commandTimeout = 30 * time.Second

	// recordTimeout bounds the history insert on the broadcast path.
	recordTimeout = 5 * time.Second
)

// Publisher is the slice of the MQTT client the registry needs.
// *mqtt.Client satisfies it; tests substitute a fake.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MetricsSink receives numeric telemetry. *influxdb.Client satisfies it.
type MetricsSink interface {
	WriteDeviceMetric(deviceID string, measurement string, value float64)
	WriteAvailability(deviceID string, online bool)
}

// Logger is the registry's logging dependency.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// dispatchFunc executes one command action against a device. A non-nil
// state document is published and recorded with SourceCommand after the
// action completes.
type dispatchFunc func(ctx context.Context, action string, params map[string]any) (map[string]any, error)

// translateFunc converts an unsolicited link broadcast into a state
// document, or reports false for messages that are not state.
type translateFunc func(msg link.Message) (map[string]any, bool)

// gaugesFunc extracts numeric gauges from a state document for telemetry.
type gaugesFunc func(state map[string]any) map[string]float64

// Coordinator binds one linked device to the MQTT surface.
//
// It owns the device's supervisor, serialises commands through a slot,
// publishes state and availability retained, and records transitions to
// the history store. It is the link.Subscriber for its supervisor.
type Coordinator struct {
	id   string
	kind string

	sup     *link.Supervisor
	slots   *command.Slots
	pub     Publisher
	history *History
	metrics MetricsSink
	logger  Logger
	topics  mqtt.Topics
	qos     byte

	dispatch  dispatchFunc
	translate translateFunc
	gauges    gaugesFunc

	// intent maps an action to the slot it contends for, so a newer command
	// only cancels an in-flight one when the two actually conflict.
	intent func(action string) string

	mu      sync.Mutex
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start subscribes to the device's command topic and begins supervising
// the connection. Call Shutdown to release resources.
func (c *Coordinator) Start() error {
	c.ctx, c.cancel = context.WithCancel(context.Background())

	topic := c.topics.DeviceCommand(c.id)
	if err := c.pub.Subscribe(topic, c.qos, c.handleCommand); err != nil {
		c.cancel()
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	c.sup.Start()
	c.logger.Info("coordinator started", "device", c.id, "kind", c.kind)
	return nil
}

// Shutdown stops the coordinator: the command subscription is removed so no
// new work can arrive, in-flight commands are cancelled, the supervised
// connection is torn down, and the device is marked offline.
func (c *Coordinator) Shutdown() {
	// Stop the inflow before waiting: a command landing mid-teardown must
	// not race the WaitGroup or publish after the final offline flag.
	if err := c.pub.Unsubscribe(c.topics.DeviceCommand(c.id)); err != nil {
		c.logger.Warn("unsubscribing command topic", "device", c.id, "error", err)
	}
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	c.cancel()
	c.slots.CancelAll()
	c.sup.Shutdown()
	c.wg.Wait()

	// Leave a clean retained flag for late subscribers.
	c.publishAvailability(false)
	c.logger.Info("coordinator stopped", "device", c.id)
}

// Supervisor exposes the underlying link supervisor, mainly for stats.
func (c *Coordinator) Supervisor() *link.Supervisor {
	return c.sup
}

// OnBroadcast implements link.Subscriber. State broadcasts are published
// retained, recorded, and mirrored to the metrics sink.
func (c *Coordinator) OnBroadcast(msg link.Message) {
	state, ok := c.translate(msg)
	if !ok {
		c.logger.Debug("ignoring broadcast", "device", c.id, "type", msg.Type())
		return
	}
	c.publishState(state, SourceBroadcast)
}

// OnAvailability implements link.Subscriber.
func (c *Coordinator) OnAvailability(available bool) {
	c.publishAvailability(available)
	if c.metrics != nil {
		c.metrics.WriteAvailability(c.id, available)
	}
}

// handleCommand parses one MQTT command and dispatches it through the
// device's slot. The handler returns immediately; execution and result
// publication happen on a worker goroutine.
func (c *Coordinator) handleCommand(_ string, payload []byte) error {
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
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return fmt.Errorf("device %s is shutting down", c.id)
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.runCommand(action, raw)
	return nil
}

// slotKey scopes the cancel-and-replace slot to the device and, when an
// intent mapping exists, to the group of actions that conflict.
func (c *Coordinator) slotKey(action string) string {
	if c.intent == nil {
		return c.id
	}
	return c.id + ":" + c.intent(action)
}

func (c *Coordinator) runCommand(action string, params map[string]any) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	var state map[string]any
	outcome, err := c.slots.Execute(ctx, c.slotKey(action), func(ctx context.Context) error {
		var opErr error
		state, opErr = c.dispatch(ctx, action, params)
		return opErr
	})

	switch outcome {
	case command.OutcomeCompleted:
		c.logger.Info("command completed", "device", c.id, "action", action)
		if state != nil {
			c.publishState(state, SourceCommand)
		}
	case command.OutcomeSuperseded:
		c.logger.Info("command superseded", "device", c.id, "action", action)
	case command.OutcomeCancelled:
		c.logger.Info("command cancelled", "device", c.id, "action", action)
	case command.OutcomeFailed:
		c.logger.Warn("command failed", "device", c.id, "action", action, "error", err)
	}

	c.publishResult(action, outcome, err)
}

func (c *Coordinator) publishState(state map[string]any, source string) {
	payload, err := json.Marshal(state)
	if err != nil {
		c.logger.Error("marshalling state", "device", c.id, "error", err)
		return
	}

	if err := c.pub.Publish(c.topics.DeviceState(c.id), payload, c.qos, true); err != nil {
		c.logger.Warn("publishing state", "device", c.id, "error", err)
	}

	if c.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := c.history.Record(ctx, c.id, state, source); err != nil {
			c.logger.Warn("recording state history", "device", c.id, "error", err)
		}
		cancel()
	}

	if c.metrics != nil && c.gauges != nil {
		for name, value := range c.gauges(state) {
			c.metrics.WriteDeviceMetric(c.id, name, value)
		}
	}
}

func (c *Coordinator) publishAvailability(available bool) {
	payload := "offline"
	if available {
		payload = "online"
	}
	if err := c.pub.Publish(c.topics.DeviceAvailability(c.id), []byte(payload), c.qos, true); err != nil {
		c.logger.Warn("publishing availability", "device", c.id, "error", err)
	}
}

func (c *Coordinator) publishResult(action string, outcome command.Outcome, err error) {
	result := map[string]any{
		"action":  action,
		"outcome": outcome.String(),
	}
	if err != nil {
		result["error"] = err.Error()
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		c.logger.Error("marshalling command result", "device", c.id, "error", marshalErr)
		return
	}

	if pubErr := c.pub.Publish(c.topics.DeviceCommandResult(c.id), payload, c.qos, false); pubErr != nil {
		c.logger.Warn("publishing command result", "device", c.id, "error", pubErr)
	}
}

// floatParam reads a numeric parameter from a decoded JSON object.
func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key].(float64)
	return v, ok
}

// boolParam reads a boolean parameter from a decoded JSON object.
func boolParam(params map[string]any, key string) (bool, bool) {
	v, ok := params[key].(bool)
	return v, ok
}

// intParam reads an integer parameter from a decoded JSON object.
// JSON numbers decode as float64; fractional values are rejected.
func intParam(params map[string]any, key string) (int, bool) {
	f, ok := params[key].(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
