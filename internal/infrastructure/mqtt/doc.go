// Package mqtt is the broker session shared by every device coordinator.
//
// The host automation framework talks to this service exclusively over
// MQTT: device state and availability are published retained under
// shq/state/{id} and shq/availability/{id}, commands arrive on
// shq/command/{id}, and their results go out on shq/result/{id}. The
// retained service status on shq/system/status flips to offline via the
// Last Will if the process dies without a clean Close.
//
// The client rides on paho's auto-reconnect and replays its tracked
// subscriptions on every new session, so coordinators subscribe once and
// forget about broker restarts.
package mqtt
