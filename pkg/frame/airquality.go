package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/btwattch/rs-btwattch2/pkg/protocol"
)

const (
	airQualityShortLength = 9
	airQualityLongLength  = 15
)

// AirQuality is one RS-BTEVS1 sample. Fields that the broadcasting firmware does not include are
// nil.
type AirQuality struct {
	CO2            int      // ppm
	PM1_0          int      // µg/m³
	PM2_5          int      // µg/m³
	PM4_0          *int     // µg/m³
	PM10           int      // µg/m³
	Temperature    float64  // °C
	Humidity       int      // %
	TVOC           *int     // ppb
	BatteryVoltage *float64 // V
}

func (a AirQuality) Model() Model {
	return ModelBTEVS1
}

func (a AirQuality) String() string {
	return fmt.Sprintf("co2=%dppm temperature=%.1fC humidity=%d%%", a.CO2, a.Temperature, a.Humidity)
}

// DecodeAirQuality parses an RS-BTEVS1 payload. Two firmware layouts exist: a 9-byte frame with
// 8-bit particulate values including PM4.0, and a frame of at least 15 bytes with 16-bit
// particulate values, TVOC and battery voltage. Bytes beyond the 15th are ignored.
func DecodeAirQuality(data []byte) (AirQuality, error) {
	switch {
	case len(data) == airQualityShortLength:
		pm4 := int(data[4])
		return AirQuality{
			CO2:         int(binary.LittleEndian.Uint16(data[0:2])),
			PM1_0:       int(data[2]),
			PM2_5:       int(data[3]),
			PM4_0:       &pm4,
			PM10:        int(data[5]),
			Temperature: float64(int16(binary.LittleEndian.Uint16(data[6:8]))) / 10,
			Humidity:    int(data[8]),
		}, nil
	case len(data) >= airQualityLongLength:
		tvoc := int(binary.LittleEndian.Uint16(data[11:13]))
		battery := float64(binary.LittleEndian.Uint16(data[13:15])) / 100
		return AirQuality{
			CO2:            int(binary.LittleEndian.Uint16(data[0:2])),
			PM1_0:          int(binary.LittleEndian.Uint16(data[2:4])),
			PM2_5:          int(binary.LittleEndian.Uint16(data[4:6])),
			Temperature:    float64(int16(binary.LittleEndian.Uint16(data[6:8]))) / 10,
			Humidity:       int(data[8]),
			PM10:           int(binary.LittleEndian.Uint16(data[9:11])),
			TVOC:           &tvoc,
			BatteryVoltage: &battery,
		}, nil
	}
	return AirQuality{}, protocol.NewDecodeError(len(data), "expected %d or at least %d bytes", airQualityShortLength, airQualityLongLength)
}
