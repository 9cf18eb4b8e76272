package registry

import (
	"context"
	"fmt"

	"github.com/nerrad567/shq-link/internal/devices/display"
	"github.com/nerrad567/shq-link/internal/link"
)

// Display command actions accepted on the MQTT command topic.
//
//	{"action": "set_brightness", "brightness": 8}
//	{"action": "set_auto_dim", "dim_level": 2, "auto_dim_time": 120}
//
// Mutating actions return a fresh metrics snapshot so the retained state
// reflects the change without waiting for the next broadcast.
func displayDispatcher(ctrl *display.Controller) dispatchFunc {
	return func(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
		switch action {
		case "set_brightness":
			level, ok := intParam(params, "brightness")
			if !ok {
				return nil, fmt.Errorf("set_brightness requires an integer brightness")
			}
			if err := ctrl.SetBrightness(ctx, level); err != nil {
				return nil, err
			}
			return refreshMetrics(ctx, ctrl)
		case "set_display":
			on, ok := boolParam(params, "on")
			if !ok {
				return nil, fmt.Errorf("set_display requires a boolean on")
			}
			if err := ctrl.SetDisplay(ctx, on); err != nil {
				return nil, err
			}
			return refreshMetrics(ctx, ctrl)
		case "wake":
			if err := ctrl.Wake(ctx); err != nil {
				return nil, err
			}
			return refreshMetrics(ctx, ctrl)
		case "sleep":
			if err := ctrl.Sleep(ctx); err != nil {
				return nil, err
			}
			return refreshMetrics(ctx, ctrl)
		case "set_auto_dim":
			cfg := display.AutoDimConfig{
				DimLevel:    intParamPtr(params, "dim_level"),
				BrightLevel: intParamPtr(params, "bright_level"),
				AutoDimTime: intParamPtr(params, "auto_dim_time"),
				AutoOffTime: intParamPtr(params, "auto_off_time"),
			}
			return nil, ctrl.SetAutoDim(ctx, cfg)
		case "get_metrics":
			return refreshMetrics(ctx, ctrl)
		default:
			return nil, fmt.Errorf("unknown display action %q", action)
		}
	}
}

// displayIntent groups the actions that fight over the backlight. Auto-dim
// configuration and metric reads are independent of backlight changes and
// keep their own slots.
func displayIntent(action string) string {
	switch action {
	case "set_brightness", "set_display", "wake", "sleep":
		return "backlight"
	default:
		return action
	}
}

func refreshMetrics(ctx context.Context, ctrl *display.Controller) (map[string]any, error) {
	metrics, err := ctrl.Metrics(ctx)
	if err != nil {
		return nil, err
	}
	return displayStateDoc(metrics), nil
}

func displayTranslate(msg link.Message) (map[string]any, bool) {
	metrics, ok := display.ParseMetrics(msg)
	if !ok {
		return nil, false
	}
	return displayStateDoc(metrics), true
}

func displayStateDoc(metrics display.Metrics) map[string]any {
	return map[string]any{
		"version":    metrics.Version,
		"url":        metrics.URL,
		"brightness": metrics.Brightness,
		"display_on": metrics.DisplayOn,
	}
}

func displayGauges(state map[string]any) map[string]float64 {
	gauges := make(map[string]float64)
	switch v := state["brightness"].(type) {
	case int:
		gauges["brightness"] = float64(v)
	case float64:
		gauges["brightness"] = v
	}
	if on, ok := state["display_on"].(bool); ok {
		value := 0.0
		if on {
			value = 1.0
		}
		gauges["display_on"] = value
	}
	return gauges
}

func intParamPtr(params map[string]any, key string) *int {
	if v, ok := intParam(params, key); ok {
		return &v
	}
	return nil
}
