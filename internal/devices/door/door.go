// Package door adapts the door-automation controller's command vocabulary
// onto the supervised link. The controller drives a CNC-style door motor
// and reports position, motion state, and fault conditions.
package door

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/shq-link/internal/link"
)

// Controller wire constants.
const (
	// DefaultPort is the controller's WebSocket listening port.
	DefaultPort = 8766

	// KeepaliveInterval matches the controller's idle-disconnect budget.
	KeepaliveInterval = 30 * time.Second
)

// State is the door's reported motion state.
type State string

// Door states as reported by the controller.
const (
	StateClosed       State = "closed"
	StateOpen         State = "open"
	StateOpening      State = "opening"
	StateClosing      State = "closing"
	StateIntermediate State = "intermediate"
	StateHalting      State = "halting"
	StateHoming       State = "homing"
	StatePending      State = "pending"
	StateFault        State = "fault"
	StateAlarm        State = "alarm"
)

// Moving reports whether the door is in motion. Homing counts as motion;
// halting is deceleration and still motion.
func (s State) Moving() bool {
	switch s {
	case StateOpening, StateClosing, StateHalting, StateHoming:
		return true
	default:
		return false
	}
}

// Status is the door's reported state snapshot.
type Status struct {
	State        State
	PositionPct  float64
	PositionMM   float64
	FaultMessage string
	AlarmCode    string
}

// Commander is the slice of the supervised link the adapter needs.
// *link.Supervisor satisfies it; tests substitute a fake.
type Commander interface {
	Command(ctx context.Context, msg link.Message) (link.Message, error)
}

// Controller issues typed commands to one door controller.
type Controller struct {
	link Commander
}

// New wraps a supervised link in the door vocabulary.
func New(l Commander) *Controller {
	return &Controller{link: l}
}

// Open starts opening the door fully.
func (c *Controller) Open(ctx context.Context) error {
	return c.simple(ctx, "open")
}

// Close starts closing the door fully.
func (c *Controller) Close(ctx context.Context) error {
	return c.simple(ctx, "close")
}

// MoveTo drives the door to a position percentage (0 closed, 100 open).
func (c *Controller) MoveTo(ctx context.Context, percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("door: position %.1f out of range 0-100", percent)
	}
	return c.send(ctx, link.Message{"type": "move", "percent": percent})
}

// Jog moves the door by a relative distance in millimetres. A non-zero
// feedRate overrides the controller's default feed.
func (c *Controller) Jog(ctx context.Context, distanceMM, feedRate float64) error {
	msg := link.Message{"type": "jog", "distance": distanceMM}
	if feedRate != 0 {
		msg["feed_rate"] = feedRate
	}
	return c.send(ctx, msg)
}

// Home runs the homing cycle to re-establish the position reference.
func (c *Controller) Home(ctx context.Context) error {
	return c.simple(ctx, "home")
}

// Zero declares the current position as the zero reference.
func (c *Controller) Zero(ctx context.Context) error {
	return c.simple(ctx, "zero")
}

// ClearAlarm clears a latched motor-controller alarm.
func (c *Controller) ClearAlarm(ctx context.Context) error {
	return c.simple(ctx, "clear_alarm")
}

// Stop halts motion immediately.
func (c *Controller) Stop(ctx context.Context) error {
	return c.simple(ctx, "stop")
}

// Status requests a fresh state snapshot from the controller.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	resp, err := c.link.Command(ctx, link.Message{"type": "status"})
	if err != nil {
		return Status{}, err
	}
	status, ok := ParseStatus(resp)
	if !ok {
		return Status{}, fmt.Errorf("door: unexpected reply of type %q to status request", resp.Type())
	}
	return status, nil
}

func (c *Controller) simple(ctx context.Context, cmd string) error {
	return c.send(ctx, link.Message{"type": cmd})
}

func (c *Controller) send(ctx context.Context, msg link.Message) error {
	resp, err := c.link.Command(ctx, msg)
	if err != nil {
		return err
	}
	if !resp.Success() {
		reason := resp.Str("message")
		if reason == "" {
			reason = "no reason given"
		}
		return fmt.Errorf("door: %s rejected: %s", msg.Str("type"), reason)
	}
	return nil
}

// ParseStatus extracts a door snapshot from a status message. Returns
// false when the message is not a door status broadcast.
func ParseStatus(msg link.Message) (Status, bool) {
	if msg.Type() != link.TypeStatus {
		return Status{}, false
	}
	door := msg.Object("door")
	if door == nil {
		return Status{}, false
	}

	status := Status{
		State:        State(door.Str("state")),
		FaultMessage: door.Str("fault_message"),
		AlarmCode:    door.Str("alarm_code"),
	}
	if pct, ok := door.Float("position_percent"); ok {
		status.PositionPct = pct
	}
	if mm, ok := door.Float("position_mm"); ok {
		status.PositionMM = mm
	}
	return status, true
}
