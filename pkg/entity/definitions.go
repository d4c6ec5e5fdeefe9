package entity

import (
	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

func measurement(f func(frame.Measurement) any) func(frame.Reading) (any, bool) {
	return func(r frame.Reading) (any, bool) {
		m, ok := r.(frame.Measurement)
		if !ok {
			return nil, false
		}
		return f(m), true
	}
}

func airQuality(f func(frame.AirQuality) any) func(frame.Reading) (any, bool) {
	return func(r frame.Reading) (any, bool) {
		a, ok := r.(frame.AirQuality)
		if !ok {
			return nil, false
		}
		v := f(a)
		switch p := v.(type) {
		case *int:
			if p == nil {
				return nil, false
			}
			return *p, true
		case *float64:
			if p == nil {
				return nil, false
			}
			return *p, true
		}
		return v, true
	}
}

var (
	Power = &Sensor{
		key:         "power",
		name:        "Power",
		deviceClass: "power",
		unit:        "W",
		icon:        "mdi:flash",
		precision:   3,
		value:       measurement(func(m frame.Measurement) any { return m.Power }),
	}
	Voltage = &Sensor{
		key:         "voltage",
		name:        "Voltage",
		deviceClass: "voltage",
		unit:        "V",
		icon:        "mdi:sine-wave",
		precision:   1,
		value:       measurement(func(m frame.Measurement) any { return m.Voltage }),
	}
	Current = &Sensor{
		key:         "current",
		name:        "Current",
		deviceClass: "current",
		unit:        "mA",
		icon:        "mdi:current-ac",
		precision:   NoPrecision,
		value:       measurement(func(m frame.Measurement) any { return m.Current }),
	}
	Relay = &BinarySensor{
		key:         "relay",
		name:        "Relay",
		deviceClass: "power",
		icon:        "mdi:power-plug",
		state: func(r frame.Reading) (bool, bool) {
			m, ok := r.(frame.Measurement)
			return m.RelayOn, ok
		},
	}

	wattEntities = []Entity{Power, Voltage, Current, Relay}
)

var airQualityEntities = []Entity{
	&Sensor{
		key:         "co2",
		name:        "CO2",
		deviceClass: "carbon_dioxide",
		unit:        "ppm",
		icon:        "mdi:molecule-co2",
		precision:   NoPrecision,
		value:       airQuality(func(a frame.AirQuality) any { return a.CO2 }),
	},
	&Sensor{
		key:         "temperature",
		name:        "Temperature",
		deviceClass: "temperature",
		unit:        "°C",
		icon:        "mdi:thermometer",
		precision:   1,
		value:       airQuality(func(a frame.AirQuality) any { return a.Temperature }),
	},
	&Sensor{
		key:         "humidity",
		name:        "Humidity",
		deviceClass: "humidity",
		unit:        "%",
		icon:        "mdi:water-percent",
		precision:   NoPrecision,
		value:       airQuality(func(a frame.AirQuality) any { return a.Humidity }),
	},
	&Sensor{
		key:       "pm1_0",
		name:      "PM1.0",
		unit:      "µg/m³",
		icon:      "mdi:blur",
		precision: NoPrecision,
		value:     airQuality(func(a frame.AirQuality) any { return a.PM1_0 }),
	},
	&Sensor{
		key:         "pm2_5",
		name:        "PM2.5",
		deviceClass: "pm25",
		unit:        "µg/m³",
		icon:        "mdi:blur",
		precision:   NoPrecision,
		value:       airQuality(func(a frame.AirQuality) any { return a.PM2_5 }),
	},
	&Sensor{
		key:       "pm4_0",
		name:      "PM4.0",
		unit:      "µg/m³",
		icon:      "mdi:blur",
		precision: NoPrecision,
		value:     airQuality(func(a frame.AirQuality) any { return a.PM4_0 }),
	},
	&Sensor{
		key:         "pm10",
		name:        "PM10.0",
		deviceClass: "pm10",
		unit:        "µg/m³",
		icon:        "mdi:blur",
		precision:   NoPrecision,
		value:       airQuality(func(a frame.AirQuality) any { return a.PM10 }),
	},
	&Sensor{
		key:         "tvoc",
		name:        "TVOC",
		deviceClass: "volatile_organic_compounds_parts",
		unit:        "ppb",
		icon:        "mdi:chemical-weapon",
		precision:   NoPrecision,
		value:       airQuality(func(a frame.AirQuality) any { return a.TVOC }),
	},
	&Sensor{
		key:         "battery_voltage",
		name:        "Battery Voltage",
		deviceClass: "voltage",
		unit:        "V",
		icon:        "mdi:battery",
		precision:   2,
		value:       airQuality(func(a frame.AirQuality) any { return a.BatteryVoltage }),
	},
}
