package frame

import (
	"testing"

	"github.com/btwattch/rs-btwattch2/pkg/protocol"
)

func TestDecodeAirQualityShort(t *testing.T) {
	// CO2 612 ppm, PM 3/5/7/9, -2.5 C, 48 %
	data := []byte{0x64, 0x02, 3, 5, 7, 9, 0xe7, 0xff, 48}
	a, err := DecodeAirQuality(data)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if a.CO2 != 612 || a.PM1_0 != 3 || a.PM2_5 != 5 || a.PM10 != 9 || a.Humidity != 48 {
		t.Errorf("unexpected values: %+v", a)
	}
	if a.PM4_0 == nil || *a.PM4_0 != 7 {
		t.Errorf("expected PM4.0 = 7, got %v", a.PM4_0)
	}
	if a.Temperature != -2.5 {
		t.Errorf("expected -2.5 C, got %v", a.Temperature)
	}
	if a.TVOC != nil || a.BatteryVoltage != nil {
		t.Errorf("short frame should not carry TVOC or battery: %+v", a)
	}
}

func TestDecodeAirQualityLong(t *testing.T) {
	data := []byte{
		0x20, 0x03, // CO2 800
		0x0a, 0x00, // PM1.0 10
		0x0c, 0x00, // PM2.5 12
		0xe1, 0x00, // 22.5 C
		55,         // humidity
		0x14, 0x00, // PM10 20
		0x2c, 0x01, // TVOC 300
		0x2c, 0x01, // 3.00 V
		0xaa,       // trailing byte is ignored
	}
	a, err := DecodeAirQuality(data)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if a.CO2 != 800 || a.PM1_0 != 10 || a.PM2_5 != 12 || a.PM10 != 20 || a.Humidity != 55 {
		t.Errorf("unexpected values: %+v", a)
	}
	if a.Temperature != 22.5 {
		t.Errorf("expected 22.5 C, got %v", a.Temperature)
	}
	if a.PM4_0 != nil {
		t.Errorf("long frame should not carry PM4.0")
	}
	if a.TVOC == nil || *a.TVOC != 300 {
		t.Errorf("expected TVOC = 300, got %v", a.TVOC)
	}
	if a.BatteryVoltage == nil || *a.BatteryVoltage != 3.0 {
		t.Errorf("expected battery = 3.0 V, got %v", a.BatteryVoltage)
	}
}

func TestDecodeAirQualityLongNegativeTemperature(t *testing.T) {
	data := []byte{
		0x90, 0x01, // CO2 400
		0x01, 0x00, // PM1.0 1
		0x02, 0x00, // PM2.5 2
		0xce, 0xff, // -5.0 C
		80,         // humidity
		0x03, 0x00, // PM10 3
		0x00, 0x00, // TVOC 0
		0x18, 0x01, // 2.80 V
	}
	a, err := DecodeAirQuality(data)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if a.Temperature != -5.0 {
		t.Errorf("expected -5.0 C, got %v", a.Temperature)
	}
	if a.CO2 != 400 || a.Humidity != 80 || a.PM10 != 3 {
		t.Errorf("unexpected values: %+v", a)
	}
}

func TestDecodeAirQualityRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 2, 8, 10, 14} {
		if _, err := DecodeAirQuality(make([]byte, n)); !protocol.IsDecodeError(err) {
			t.Errorf("%d-byte frame gave %v, expected a DecodeError", n, err)
		}
	}
}
