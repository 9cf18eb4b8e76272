// Package registry assembles configured devices into running coordinators.
//
// Each linked device (door, display) gets a Coordinator: a supervised
// WebSocket link, a command slot that serialises and supersedes motion
// commands, and glue that mirrors state onto the MQTT surface:
//
//	shq/command/{id}       -> dispatched to the device controller
//	shq/result/{id}        <- command outcome (completed/superseded/...)
//	shq/state/{id}         <- retained state snapshots
//	shq/availability/{id}  <- retained "online"/"offline"
//
// The cloud climate system has no persistent link; a ClimatePoller fetches
// status on an interval and availability follows poll success.
//
// State transitions are additionally recorded to the SQLite state_history
// table and mirrored to InfluxDB when telemetry is enabled.
package registry
