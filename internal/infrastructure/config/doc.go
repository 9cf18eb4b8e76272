// Package config loads config.yaml, applies SHQLINK_* environment
// overrides, and validates the result before anything connects.
//
// Secrets never live in the file: the MQTT password, InfluxDB token and
// climate cloud credentials come only from SHQLINK_MQTT_PASSWORD,
// SHQLINK_INFLUXDB_TOKEN, SHQLINK_CLIMATE_REFRESH_TOKEN and
// SHQLINK_CLIMATE_CLIENT_ID. Everything else is plain YAML, read once
// at startup.
package config
