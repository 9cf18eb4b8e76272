package registry

import (
	"context"
	"fmt"

	"github.com/nerrad567/shq-link/internal/devices/door"
	"github.com/nerrad567/shq-link/internal/link"
)

// Door command actions accepted on the MQTT command topic.
//
//	{"action": "open"}
//	{"action": "move", "percent": 75}
//	{"action": "jog", "distance": -50, "feed_rate": 500}
func doorDispatcher(ctrl *door.Controller) dispatchFunc {
	return func(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
		switch action {
		case "open":
			return nil, ctrl.Open(ctx)
		case "close":
			return nil, ctrl.Close(ctx)
		case "stop":
			return nil, ctrl.Stop(ctx)
		case "move":
			percent, ok := floatParam(params, "percent")
			if !ok {
				return nil, fmt.Errorf("move requires a numeric percent")
			}
			return nil, ctrl.MoveTo(ctx, percent)
		case "jog":
			distance, ok := floatParam(params, "distance")
			if !ok {
				return nil, fmt.Errorf("jog requires a numeric distance")
			}
			feedRate, _ := floatParam(params, "feed_rate")
			return nil, ctrl.Jog(ctx, distance, feedRate)
		case "home":
			return nil, ctrl.Home(ctx)
		case "zero":
			return nil, ctrl.Zero(ctx)
		case "clear_alarm":
			return nil, ctrl.ClearAlarm(ctx)
		case "status":
			status, err := ctrl.Status(ctx)
			if err != nil {
				return nil, err
			}
			return doorStateDoc(status), nil
		default:
			return nil, fmt.Errorf("unknown door action %q", action)
		}
	}
}

// doorIntent groups the actions that contend for the door's motion. A newer
// motion command supersedes the one in flight; alarm clearing and status
// queries run on their own slots.
func doorIntent(action string) string {
	switch action {
	case "open", "close", "stop", "move", "jog", "home", "zero":
		return "motion"
	default:
		return action
	}
}

func doorTranslate(msg link.Message) (map[string]any, bool) {
	status, ok := door.ParseStatus(msg)
	if !ok {
		return nil, false
	}
	return doorStateDoc(status), true
}

func doorStateDoc(status door.Status) map[string]any {
	doc := map[string]any{
		"state":            string(status.State),
		"position_percent": status.PositionPct,
		"position_mm":      status.PositionMM,
		"moving":           status.State.Moving(),
	}
	if status.FaultMessage != "" {
		doc["fault_message"] = status.FaultMessage
	}
	if status.AlarmCode != "" {
		doc["alarm_code"] = status.AlarmCode
	}
	return doc
}

func doorGauges(state map[string]any) map[string]float64 {
	gauges := make(map[string]float64)
	if v, ok := state["position_percent"].(float64); ok {
		gauges["position_percent"] = v
	}
	if v, ok := state["position_mm"].(float64); ok {
		gauges["position_mm"] = v
	}
	return gauges
}
