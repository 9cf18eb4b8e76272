// Package display adapts the kiosk-display controller's command vocabulary
// onto the supervised link. The controller manages a wall-mounted panel:
// backlight level, sleep/wake, and the dashboard URL it renders.
package display

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/shq-link/internal/link"
)

// Controller wire constants.
const (
	// DefaultPort is the controller's WebSocket listening port.
	DefaultPort = 8765

	// KeepaliveInterval matches the controller's idle-disconnect budget.
	// Displays drop idle peers faster than the door controllers do.
	KeepaliveInterval = 15 * time.Second

	// MaxBrightness is the top of the panel's backlight scale.
	MaxBrightness = 10
)

// Metrics is the display's reported state snapshot, delivered both as
// periodic broadcasts and as the reply to an explicit metrics request.
type Metrics struct {
	Version    string
	URL        string
	Brightness int
	DisplayOn  bool
}

// AutoDimConfig holds the panel's idle dimming behaviour. Nil fields are
// left unchanged on the controller.
type AutoDimConfig struct {
	DimLevel    *int // Backlight level after AutoDimTime idle seconds
	BrightLevel *int // Backlight level restored on wake
	AutoDimTime *int // Seconds of idle before dimming
	AutoOffTime *int // Seconds of idle before the panel turns off
}

// Commander is the slice of the supervised link the adapter needs.
type Commander interface {
	Command(ctx context.Context, msg link.Message) (link.Message, error)
}

// Controller issues typed commands to one kiosk display.
type Controller struct {
	link Commander
}

// New wraps a supervised link in the display vocabulary.
func New(l Commander) *Controller {
	return &Controller{link: l}
}

// Metrics requests a fresh state snapshot from the display.
func (c *Controller) Metrics(ctx context.Context) (Metrics, error) {
	resp, err := c.command(ctx, link.Message{"type": "get_metrics"})
	if err != nil {
		return Metrics{}, err
	}
	return parseMetricsFields(resp), nil
}

// SetBrightness sets the backlight level (0 to MaxBrightness).
func (c *Controller) SetBrightness(ctx context.Context, level int) error {
	if level < 0 || level > MaxBrightness {
		return fmt.Errorf("display: brightness %d out of range 0-%d", level, MaxBrightness)
	}
	_, err := c.command(ctx, link.Message{"type": "set_brightness", "brightness": level})
	return err
}

// SetDisplay turns the panel on or off.
func (c *Controller) SetDisplay(ctx context.Context, on bool) error {
	_, err := c.command(ctx, link.Message{"type": "set_display", "state": on})
	return err
}

// Wake restores the panel to its bright level.
func (c *Controller) Wake(ctx context.Context) error {
	_, err := c.command(ctx, link.Message{"type": "wake"})
	return err
}

// Sleep turns the panel off until woken.
func (c *Controller) Sleep(ctx context.Context) error {
	_, err := c.command(ctx, link.Message{"type": "sleep"})
	return err
}

// SetAutoDim updates the idle dimming configuration. Only non-nil fields
// are sent; the controller keeps its current values for the rest.
func (c *Controller) SetAutoDim(ctx context.Context, cfg AutoDimConfig) error {
	msg := link.Message{"type": "set_auto_dim_config"}
	if cfg.DimLevel != nil {
		msg["dim_level"] = *cfg.DimLevel
	}
	if cfg.BrightLevel != nil {
		msg["bright_level"] = *cfg.BrightLevel
	}
	if cfg.AutoDimTime != nil {
		msg["auto_dim_time"] = *cfg.AutoDimTime
	}
	if cfg.AutoOffTime != nil {
		msg["auto_off_time"] = *cfg.AutoOffTime
	}
	_, err := c.command(ctx, msg)
	return err
}

// AutoDim fetches the current idle dimming configuration.
func (c *Controller) AutoDim(ctx context.Context) (AutoDimConfig, error) {
	resp, err := c.command(ctx, link.Message{"type": "get_auto_dim_config"})
	if err != nil {
		return AutoDimConfig{}, err
	}

	var cfg AutoDimConfig
	obj := resp.Object("config")
	if obj == nil {
		return cfg, nil
	}
	cfg.DimLevel = intField(obj, "dim_level")
	cfg.BrightLevel = intField(obj, "bright_level")
	cfg.AutoDimTime = intField(obj, "auto_dim_time")
	cfg.AutoOffTime = intField(obj, "auto_off_time")
	return cfg, nil
}

// command sends one message and enforces the success flag.
func (c *Controller) command(ctx context.Context, msg link.Message) (link.Message, error) {
	resp, err := c.link.Command(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		reason := resp.Str("message")
		if reason == "" {
			reason = "no reason given"
		}
		return nil, fmt.Errorf("display: %s rejected: %s", msg.Str("type"), reason)
	}
	return resp, nil
}

// ParseMetrics extracts a display snapshot from a metrics broadcast.
// Returns false when the message is not one.
func ParseMetrics(msg link.Message) (Metrics, bool) {
	if msg.Type() != link.TypeMetrics {
		return Metrics{}, false
	}
	return parseMetricsFields(msg), true
}

func parseMetricsFields(msg link.Message) Metrics {
	m := Metrics{
		Version: msg.Str("version"),
		URL:     msg.Str("url"),
	}
	if b, ok := msg.Float("brightness"); ok {
		m.Brightness = int(b)
	}
	if on, ok := msg["display_on"].(bool); ok {
		m.DisplayOn = on
	}
	return m
}

func intField(msg link.Message, key string) *int {
	if f, ok := msg.Float(key); ok {
		v := int(f)
		return &v
	}
	return nil
}
