package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the relay uses.
const TopicPrefix = "atomberg"

// Topics builds relay topics:
//
//	atomberg/device/{device_id}/state         retained merged state
//	atomberg/device/{device_id}/availability  retained "online" / "offline"
//	atomberg/device/{device_id}/command       inbound commands
//	atomberg/account/{account_id}/status      retained account status
//	atomberg/system/status                    retained service status + LWT
type Topics struct{}

// DeviceState returns the state topic of a fan.
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, deviceID)
}

// DeviceAvailability returns the availability topic of a fan.
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/availability", TopicPrefix, deviceID)
}

// DeviceCommand returns the command topic of a fan.
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/command", TopicPrefix, deviceID)
}

// AccountStatus returns the status topic of an account.
func (Topics) AccountStatus(accountID string) string {
	return fmt.Sprintf("%s/account/%s/status", TopicPrefix, accountID)
}

// SystemStatus returns the service status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllDeviceCommands matches the command topic of every fan.
func (Topics) AllDeviceCommands() string {
	return TopicPrefix + "/device/+/command"
}

// AllTopics matches everything under the prefix.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseDeviceTopic splits "atomberg/device/{id}/{kind}" into id and kind.
func ParseDeviceTopic(topic string) (deviceID, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "device" || parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
