package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// record queues one point. Dropped silently when the client is closed or
// metrics are disabled; telemetry is best effort by design.
func (c *Client) record(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// WriteDeviceMetric records one numeric gauge for a device, tagged so a
// dashboard can slice by device and by gauge name:
//
//	client.WriteDeviceMetric("door-garage", "position_percent", 75)
//	client.WriteDeviceMetric("display-kitchen", "brightness", 8)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	c.record("device_metrics",
		map[string]string{"device_id": deviceID, "measurement": measurement},
		map[string]any{"value": value})
}

// WriteAvailability records a device liveness transition as 0/1, which
// charts connection stability over time.
func (c *Client) WriteAvailability(deviceID string, online bool) {
	value := 0.0
	if online {
		value = 1.0
	}
	c.record("availability",
		map[string]string{"device_id": deviceID},
		map[string]any{"online": value})
}

// WriteLinkStats records the cumulative connection counters for one
// device link: reconnect churn and frames in each direction.
func (c *Client) WriteLinkStats(deviceID string, reconnects, messagesSent, messagesReceived uint64) {
	c.record("link_stats",
		map[string]string{"device_id": deviceID},
		map[string]any{
			"reconnects":        float64(reconnects),
			"messages_sent":     float64(messagesSent),
			"messages_received": float64(messagesReceived),
		})
}
