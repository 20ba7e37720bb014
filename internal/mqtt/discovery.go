//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"strings"

	"github.com/KongGithubDev/LightLink/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/switch/lightlink_kitchen/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is the discovery payload of one switch.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	PayloadOn         string   `json:"payload_on"`
	PayloadOff        string   `json:"payload_off"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

const (
	discoveryPrefix = "homeassistant"
	payloadOn       = "ON"
	payloadOff      = "OFF"
)

// lightTopicName returns the topic segment for a light: lowercase, with
// anything outside [a-z0-9_-] replaced by '_'.
func lightTopicName(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(name))
}

func lightUniqueID(name string) string {
	return "lightlink_" + lightTopicName(name)
}

func discoveryTopic(name string) string {
	return discoveryPrefix + "/switch/" + lightUniqueID(name) + "/config"
}

// buildDiscovery generates the HA discovery message for a catalog light.
func buildDiscovery(l store.Light, prefix string) discoveryMsg {
	base := prefix + "/light/" + lightTopicName(l.Name)
	payload, _ := json.Marshal(haDiscovery{
		Name:              l.Name,
		UniqueID:          lightUniqueID(l.Name),
		StateTopic:        base + "/state",
		CommandTopic:      base + "/set",
		AvailabilityTopic: prefix + "/bridge/state",
		PayloadOn:         payloadOn,
		PayloadOff:        payloadOff,
		Icon:              "mdi:lightbulb",
		Device: haDevice{
			Identifiers:  []string{"lightlink_" + lightTopicName(prefix)},
			Manufacturer: "LightLink",
			Model:        "ESP32 switch board",
			Name:         "LightLink",
		},
	})
	return discoveryMsg{Topic: discoveryTopic(l.Name), Payload: payload}
}

// buildRemoveDiscovery clears the retained discovery entry of a light.
func buildRemoveDiscovery(name string) discoveryMsg {
	return discoveryMsg{Topic: discoveryTopic(name), Payload: []byte{}}
}

func statePayload(on bool) []byte {
	if on {
		return []byte(payloadOn)
	}
	return []byte(payloadOff)
}
