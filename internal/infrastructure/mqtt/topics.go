package mqtt

import "fmt"

// Topic prefixes for the SHQ Link MQTT surface.
//
// The host automation framework consumes device state and availability from
// these topics and issues commands on the command topics. All topics use the
// flat scheme: shq/{category}/{device_id}
const (
	// TopicPrefix is the base for all SHQ Link topics.
	TopicPrefix = "shq"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "shq/system"
)

// Topics provides builders for SHQ Link MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("door-garage")
//	// Returns: "shq/state/door-garage"
type Topics struct{}

// DeviceState returns the topic for a device's state snapshots.
// Published retained so late subscribers see the last known state.
//
// Example: shq/state/door-garage
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// DeviceAvailability returns the topic for a device's liveness flag.
// Payload is "online" or "offline", published retained.
//
// Example: shq/availability/door-garage
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, deviceID)
}

// DeviceCommand returns the topic the host framework issues commands on.
//
// Example: shq/command/door-garage
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceCommandResult returns the topic command outcomes are reported on.
//
// Example: shq/result/door-garage
func (Topics) DeviceCommandResult(deviceID string) string {
	return fmt.Sprintf("%s/result/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the service status topic, used for the LWT and
// online/offline announcements.
//
// Example: shq/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceCommands returns a pattern matching every command topic.
//
// Pattern: shq/command/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching every state topic.
//
// Pattern: shq/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}
