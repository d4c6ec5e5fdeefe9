// Package frame decodes the telemetry frames that RATOC Systems devices broadcast in the
// manufacturer-specific data of their BLE advertisements.
//
// Decoding is pure: the same payload always yields the same value, and a payload that does not
// match the vendor layout yields a *protocol.DecodeError and no partial result.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/btwattch/rs-btwattch2/pkg/protocol"
)

// ManufacturerID is the Bluetooth SIG company identifier assigned to RATOC Systems.
const ManufacturerID uint16 = 0x0B60

// WattFrameLength is the size of an RS-BTWATTCH2 payload, excluding the company identifier.
const WattFrameLength = 8

const (
	voltageScale = 10   // 0.1 V per unit
	powerScale   = 1000 // 1 mW per unit
)

// Reading is a decoded frame of any supported model.
type Reading interface {
	Model() Model
}

// Measurement is one RS-BTWATTCH2 sample.
type Measurement struct {
	Power   float64 // W
	Voltage float64 // V
	Current float64 // mA
	RelayOn bool
}

func (m Measurement) Model() Model {
	return ModelBTWATTCH2
}

func (m Measurement) String() string {
	return fmt.Sprintf("relay=%v voltage=%.1fV current=%.0fmA power=%.3fW", m.RelayOn, m.Voltage, m.Current, m.Power)
}

// Decode parses an RS-BTWATTCH2 payload.
//
// Layout (little endian):
//
//	[0]    relay state, 1 = on
//	[1:3]  voltage in 0.1 V
//	[3:5]  current in mA
//	[5:8]  power in mW (24 bit)
func Decode(data []byte) (Measurement, error) {
	if len(data) != WattFrameLength {
		return Measurement{}, protocol.NewDecodeError(len(data), "expected %d bytes", WattFrameLength)
	}
	voltage := binary.LittleEndian.Uint16(data[1:3])
	current := binary.LittleEndian.Uint16(data[3:5])
	power := uint32(data[5]) | uint32(data[6])<<8 | uint32(data[7])<<16

	return Measurement{
		RelayOn: data[0] == 1,
		Voltage: float64(voltage) / voltageScale,
		Current: float64(current),
		Power:   float64(power) / powerScale,
	}, nil
}
