// Package influxdb ships device telemetry to InfluxDB v2.
//
// Coordinators record numeric gauges (door position, display brightness,
// climate temperatures), availability transitions and link counters as
// they happen; the non-blocking write API batches points and flushes on
// an interval so none of that touches the command path. The whole
// integration is optional: when disabled in config the service runs
// without it and Connect returns ErrDisabled.
package influxdb
