// Package entity describes the values a device exposes to Home Assistant.
//
// Each [Entity] extracts one value from a [frame.Reading] and carries the metadata Home Assistant
// needs to display it. Entities are stateless; availability and the latest reading are tracked by
// the coordinator.
package entity

import (
	"fmt"

	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

// Platform is the Home Assistant entity platform an Entity belongs to.
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
)

// NoPrecision is returned by [Entity.Precision] when Home Assistant should pick the display
// precision.
const NoPrecision = -1

// Entity is a single value exposed by a device.
type Entity interface {
	// Key identifies the Entity within its device, e.g. "power".
	Key() string
	Name() string
	Platform() Platform
	// DeviceClass returns the Home Assistant device class, or an empty string if there is none.
	DeviceClass() string
	// Unit returns the unit of measurement, or an empty string for unitless values.
	Unit() string
	Icon() string
	Precision() int
	// ProducesValue extracts the Entity's value from r. It returns false if r does not carry the
	// value, either because r belongs to another model or because the firmware omitted the field.
	ProducesValue(r frame.Reading) (any, bool)
}

// Sensor is a numeric measurement.
type Sensor struct {
	key         string
	name        string
	deviceClass string
	unit        string
	icon        string
	precision   int
	value       func(frame.Reading) (any, bool)
}

func (s *Sensor) Key() string { return s.key }
func (s *Sensor) Name() string { return s.name }
func (s *Sensor) Platform() Platform { return PlatformSensor }
func (s *Sensor) DeviceClass() string { return s.deviceClass }
func (s *Sensor) Unit() string { return s.unit }
func (s *Sensor) Icon() string { return s.icon }
func (s *Sensor) Precision() int { return s.precision }

// StateClass is always "measurement": every sensor reports an instantaneous value.
func (s *Sensor) StateClass() string { return "measurement" }

func (s *Sensor) ProducesValue(r frame.Reading) (any, bool) {
	if r == nil {
		return nil, false
	}
	return s.value(r)
}

// BinarySensor is an on/off state.
type BinarySensor struct {
	key         string
	name        string
	deviceClass string
	icon        string
	state       func(frame.Reading) (bool, bool)
}

func (b *BinarySensor) Key() string { return b.key }
func (b *BinarySensor) Name() string { return b.name }
func (b *BinarySensor) Platform() Platform { return PlatformBinarySensor }
func (b *BinarySensor) DeviceClass() string { return b.deviceClass }
func (b *BinarySensor) Unit() string { return "" }
func (b *BinarySensor) Icon() string { return b.icon }
func (b *BinarySensor) Precision() int { return NoPrecision }

// ProducesValue returns "ON" or "OFF".
func (b *BinarySensor) ProducesValue(r frame.Reading) (any, bool) {
	if r == nil {
		return nil, false
	}
	on, ok := b.state(r)
	if !ok {
		return nil, false
	}
	if on {
		return "ON", true
	}
	return "OFF", true
}

// UniqueID returns the identifier Home Assistant uses to track e across restarts. RS-BTWATTCH2
// entities omit the model so that identifiers stay stable for installations that predate support
// for other models.
func UniqueID(model frame.Model, address string, e Entity) string {
	if model == frame.ModelBTWATTCH2 || model == "" {
		return fmt.Sprintf("%s_%s", address, e.Key())
	}
	return fmt.Sprintf("%s_%s_%s", model, address, e.Key())
}

// ForModel returns the entities exposed by devices of the given model, sensors first.
func ForModel(model frame.Model) []Entity {
	switch model {
	case frame.ModelBTWATTCH2, "":
		return wattEntities
	case frame.ModelBTEVS1:
		return airQualityEntities
	}
	return nil
}
