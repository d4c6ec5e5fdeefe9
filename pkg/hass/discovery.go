// Package hass publishes device readings to Home Assistant using MQTT discovery.
//
// For every entity of a device, a retained discovery message is published to
// <prefix>/<platform>/<unique_id>/config. Readings are published as one JSON document per device,
// and each entity extracts its value with a template. Availability is tracked both for the bridge
// as a whole and for each device.
package hass

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/entity"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

const manufacturer = "RATOC Systems"

type Availability struct {
	Topic string `json:"topic"`
}

type DeviceInfo struct {
	Identifiers  []string    `json:"identifiers"`
	Connections  [][2]string `json:"connections,omitempty"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
}

// Config is the discovery payload of one entity.
type Config struct {
	Name             string         `json:"name"`
	UniqueID         string         `json:"unique_id"`
	ObjectID         string         `json:"object_id"`
	StateTopic       string         `json:"state_topic"`
	ValueTemplate    string         `json:"value_template"`
	Availability     []Availability `json:"availability"`
	AvailabilityMode string         `json:"availability_mode"`
	DeviceClass      string         `json:"device_class,omitempty"`
	StateClass       string         `json:"state_class,omitempty"`
	Unit             string         `json:"unit_of_measurement,omitempty"`
	Icon             string         `json:"icon,omitempty"`
	DisplayPrecision *int           `json:"suggested_display_precision,omitempty"`
	PayloadOn        string         `json:"payload_on,omitempty"`
	PayloadOff       string         `json:"payload_off,omitempty"`
	Device           DeviceInfo     `json:"device"`
}

// topicSafe strips characters that Home Assistant does not accept in discovery topics.
func topicSafe(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, id)
}

func (o *Options) deviceTopic(address, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", o.BaseTopic, device.UniqueID(address), suffix)
}

// StateTopic returns the topic that carries the readings of the device at address.
func (o *Options) StateTopic(address string) string {
	return o.deviceTopic(address, "state")
}

// AvailabilityTopic returns the topic that carries "online" or "offline" for the device at address.
func (o *Options) AvailabilityTopic(address string) string {
	return o.deviceTopic(address, "availability")
}

// ConfigTopic returns the discovery topic of e on the device at address.
func (o *Options) ConfigTopic(model frame.Model, address string, e entity.Entity) string {
	uniqueID := topicSafe(entity.UniqueID(model, address, e))
	return fmt.Sprintf("%s/%s/%s/config", o.DiscoveryPrefix, e.Platform(), uniqueID)
}

// DiscoveryConfig builds the discovery payload of e on a device.
func (o *Options) DiscoveryConfig(model frame.Model, address, name string, e entity.Entity) Config {
	uniqueID := entity.UniqueID(model, address, e)
	c := Config{
		Name:          e.Name(),
		UniqueID:      uniqueID,
		ObjectID:      topicSafe(strings.ToLower(strings.ReplaceAll(name, " ", "_")) + "_" + e.Key()),
		StateTopic:    o.StateTopic(address),
		ValueTemplate: fmt.Sprintf("{{ value_json.%s }}", e.Key()),
		Availability: []Availability{
			{Topic: o.StatusTopic()},
			{Topic: o.AvailabilityTopic(address)},
		},
		AvailabilityMode: "all",
		DeviceClass:      e.DeviceClass(),
		Unit:             e.Unit(),
		Icon:             e.Icon(),
		Device: DeviceInfo{
			Identifiers:  []string{"ratocsystems_" + device.UniqueID(address)},
			Connections:  [][2]string{{"bluetooth", address}},
			Name:         name,
			Manufacturer: manufacturer,
			Model:        model.ProductName(),
		},
	}
	if p := e.Precision(); p != entity.NoPrecision {
		c.DisplayPrecision = &p
	}
	switch e := e.(type) {
	case *entity.Sensor:
		c.StateClass = e.StateClass()
	case *entity.BinarySensor:
		c.PayloadOn = "ON"
		c.PayloadOff = "OFF"
	}
	return c
}

// State returns the JSON state document of reading. Entities that reading does not carry are
// omitted.
func State(model frame.Model, reading frame.Reading) ([]byte, error) {
	values := make(map[string]any)
	for _, e := range entity.ForModel(model) {
		if v, ok := e.ProducesValue(reading); ok {
			values[e.Key()] = v
		}
	}
	return json.Marshal(values)
}
