package registry

import (
	"context"
	"testing"

	"github.com/nerrad567/shq-link/internal/devices/display"
	"github.com/nerrad567/shq-link/internal/devices/door"
	"github.com/nerrad567/shq-link/internal/link"
)

// fakeCommander stands in for a supervised link under the device adapters.
type fakeCommander struct {
	sent []link.Message
	resp link.Message
}

func (f *fakeCommander) Command(_ context.Context, msg link.Message) (link.Message, error) {
	f.sent = append(f.sent, msg)
	return f.resp, nil
}

func TestDoorDispatcherActions(t *testing.T) {
	tests := []struct {
		action string
		params map[string]any
		want   string // Expected wire command type
	}{
		{"open", nil, "open"},
		{"close", nil, "close"},
		{"stop", nil, "stop"},
		{"home", nil, "home"},
		{"zero", nil, "zero"},
		{"clear_alarm", nil, "clear_alarm"},
		{"move", map[string]any{"percent": 50.0}, "move"},
		{"jog", map[string]any{"distance": -25.0}, "jog"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			fc := &fakeCommander{resp: link.Message{"type": link.TypeResponse, "success": true}}
			dispatch := doorDispatcher(door.New(fc))

			state, err := dispatch(context.Background(), tt.action, tt.params)
			if err != nil {
				t.Fatalf("dispatch(%s) error = %v", tt.action, err)
			}
			if state != nil {
				t.Errorf("dispatch(%s) state = %v, want nil (broadcast carries the change)", tt.action, state)
			}
			if len(fc.sent) != 1 || fc.sent[0].Type() != tt.want {
				t.Errorf("sent = %v, want single %q command", fc.sent, tt.want)
			}
		})
	}
}

func TestDoorDispatcherStatus(t *testing.T) {
	fc := &fakeCommander{resp: link.Message{
		"type": link.TypeStatus,
		"door": map[string]any{
			"state":            "closed",
			"position_percent": 0.0,
			"position_mm":      0.0,
		},
	}}
	dispatch := doorDispatcher(door.New(fc))

	state, err := dispatch(context.Background(), "status", nil)
	if err != nil {
		t.Fatalf("dispatch(status) error = %v", err)
	}
	if state["state"] != "closed" || state["moving"] != false {
		t.Errorf("state = %v, want closed and not moving", state)
	}
}

func TestDoorDispatcherValidation(t *testing.T) {
	fc := &fakeCommander{resp: link.Message{"type": link.TypeResponse, "success": true}}
	dispatch := doorDispatcher(door.New(fc))

	tests := []struct {
		name   string
		action string
		params map[string]any
	}{
		{"unknown action", "launch", nil},
		{"move without percent", "move", nil},
		{"move with string percent", "move", map[string]any{"percent": "half"}},
		{"jog without distance", "jog", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dispatch(context.Background(), tt.action, tt.params); err == nil {
				t.Errorf("dispatch(%s) error = nil, want error", tt.action)
			}
		})
	}
	if len(fc.sent) != 0 {
		t.Errorf("sent = %v, want nothing for rejected commands", fc.sent)
	}
}

func TestDoorTranslate(t *testing.T) {
	state, ok := doorTranslate(link.Message{
		"type": link.TypeStatus,
		"door": map[string]any{
			"state":            "fault",
			"fault_message":    "motor stall",
			"position_percent": 30.0,
		},
	})
	if !ok {
		t.Fatal("doorTranslate() ok = false for a door status")
	}
	if state["state"] != "fault" || state["fault_message"] != "motor stall" {
		t.Errorf("state = %v", state)
	}

	if _, ok := doorTranslate(link.Message{"type": link.TypeResponse}); ok {
		t.Error("doorTranslate() ok = true for a response message")
	}
}

// metricsResponse is what the display answers to any command, including the
// follow-up get_metrics that mutating actions issue.
var metricsResponse = link.Message{
	"type":       link.TypeResponse,
	"success":    true,
	"version":    "2.4.1",
	"url":        "http://dash.local",
	"brightness": 6.0,
	"display_on": true,
}

func TestDisplayDispatcherMutatingActionsRefresh(t *testing.T) {
	tests := []struct {
		action string
		params map[string]any
		want   string
	}{
		{"set_brightness", map[string]any{"brightness": 6.0}, "set_brightness"},
		{"set_display", map[string]any{"on": true}, "set_display"},
		{"wake", nil, "wake"},
		{"sleep", nil, "sleep"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			fc := &fakeCommander{resp: metricsResponse}
			dispatch := displayDispatcher(display.New(fc))

			state, err := dispatch(context.Background(), tt.action, tt.params)
			if err != nil {
				t.Fatalf("dispatch(%s) error = %v", tt.action, err)
			}

			// The mutation is followed by a metrics fetch so the retained
			// state reflects the change immediately.
			if len(fc.sent) != 2 {
				t.Fatalf("sent %d commands, want mutation + get_metrics", len(fc.sent))
			}
			if fc.sent[0].Type() != tt.want || fc.sent[1].Type() != "get_metrics" {
				t.Errorf("sent types = %q, %q", fc.sent[0].Type(), fc.sent[1].Type())
			}
			if state == nil || state["brightness"] != 6 {
				t.Errorf("state = %v, want refreshed metrics", state)
			}
		})
	}
}

func TestDisplayDispatcherSetAutoDim(t *testing.T) {
	fc := &fakeCommander{resp: link.Message{"type": link.TypeResponse, "success": true}}
	dispatch := displayDispatcher(display.New(fc))

	state, err := dispatch(context.Background(), "set_auto_dim", map[string]any{
		"dim_level":     2.0,
		"auto_dim_time": 120.0,
	})
	if err != nil {
		t.Fatalf("dispatch(set_auto_dim) error = %v", err)
	}
	if state != nil {
		t.Errorf("state = %v, want nil", state)
	}

	msg := fc.sent[0]
	if msg.Type() != "set_auto_dim_config" {
		t.Errorf("sent type = %q", msg.Type())
	}
	if msg["dim_level"] != 2 || msg["auto_dim_time"] != 120 {
		t.Errorf("sent = %v, want dim_level 2 and auto_dim_time 120", msg)
	}
	if _, ok := msg["bright_level"]; ok {
		t.Errorf("sent = %v, want bright_level omitted", msg)
	}
}

func TestDisplayDispatcherValidation(t *testing.T) {
	fc := &fakeCommander{resp: metricsResponse}
	dispatch := displayDispatcher(display.New(fc))

	tests := []struct {
		name   string
		action string
		params map[string]any
	}{
		{"unknown action", "reboot", nil},
		{"set_brightness without level", "set_brightness", nil},
		{"set_brightness fractional", "set_brightness", map[string]any{"brightness": 5.5}},
		{"set_display without flag", "set_display", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dispatch(context.Background(), tt.action, tt.params); err == nil {
				t.Errorf("dispatch(%s) error = nil, want error", tt.action)
			}
		})
	}
	if len(fc.sent) != 0 {
		t.Errorf("sent = %v, want nothing for rejected commands", fc.sent)
	}
}

func TestDisplayTranslate(t *testing.T) {
	state, ok := displayTranslate(link.Message{
		"type":       link.TypeMetrics,
		"version":    "2.4.1",
		"url":        "http://dash.local",
		"brightness": 3.0,
		"display_on": false,
	})
	if !ok {
		t.Fatal("displayTranslate() ok = false for a metrics broadcast")
	}
	if state["brightness"] != 3 || state["display_on"] != false {
		t.Errorf("state = %v", state)
	}

	if _, ok := displayTranslate(link.Message{"type": link.TypeStatus}); ok {
		t.Error("displayTranslate() ok = true for a door status")
	}
}

func TestDisplayGauges(t *testing.T) {
	gauges := displayGauges(map[string]any{
		"brightness": 7,
		"display_on": true,
	})
	if gauges["brightness"] != 7 || gauges["display_on"] != 1 {
		t.Errorf("gauges = %v, want brightness 7 and display_on 1", gauges)
	}

	// After a JSON round trip brightness arrives as float64.
	gauges = displayGauges(map[string]any{
		"brightness": 4.0,
		"display_on": false,
	})
	if gauges["brightness"] != 4 || gauges["display_on"] != 0 {
		t.Errorf("gauges = %v, want brightness 4 and display_on 0", gauges)
	}
}

func TestIntentGrouping(t *testing.T) {
	tests := []struct {
		name   string
		intent func(string) string
		action string
		want   string
	}{
		{"door open", doorIntent, "open", "motion"},
		{"door move", doorIntent, "move", "motion"},
		{"door stop", doorIntent, "stop", "motion"},
		{"door clear_alarm standalone", doorIntent, "clear_alarm", "clear_alarm"},
		{"door status standalone", doorIntent, "status", "status"},
		{"display brightness", displayIntent, "set_brightness", "backlight"},
		{"display sleep", displayIntent, "sleep", "backlight"},
		{"display auto dim standalone", displayIntent, "set_auto_dim", "set_auto_dim"},
		{"display metrics standalone", displayIntent, "get_metrics", "get_metrics"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.intent(tt.action); got != tt.want {
				t.Errorf("intent(%s) = %q, want %q", tt.action, got, tt.want)
			}
		})
	}
}

func TestClimateIntent(t *testing.T) {
	tests := []struct {
		action string
		params map[string]any
		want   string
	}{
		{"set_temperature", nil, "temperature"},
		{"set_mode", nil, "mode"},
		{"set_fan_mode", nil, "fan"},
		{"enable_zone", map[string]any{"zone": 2.0}, "zone-2"},
		{"set_zone_temperature", map[string]any{"zone": 0.0}, "zone-0"},
		{"enable_zone", nil, "zone"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := climateIntent(tt.action, tt.params); got != tt.want {
				t.Errorf("climateIntent(%s) = %q, want %q", tt.action, got, tt.want)
			}
		})
	}
}

func TestClimateDeviceID(t *testing.T) {
	if got := climateDeviceID("ABC123XY"); got != "climate-abc123xy" {
		t.Errorf("climateDeviceID() = %q, want climate-abc123xy", got)
	}
}
