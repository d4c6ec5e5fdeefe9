package goble

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

const bleTimeout = 20 * time.Second

// RATOC devices advertise roughly once per second, so a modest duty cycle is enough.
var scanParams = cmd.LESetScanParameters{
	LEScanType:           0,      // Passive scanning
	LEScanInterval:       0x0060, // 60ms
	LEScanWindow:         0x0030, // 30ms
	OwnAddressType:       0,      // Static
	ScanningFilterPolicy: 0,      // Accept all
}

func newDevice(id string) (goble.Device, error) {
	opts := []goble.Option{
		goble.OptListenerTimeout(bleTimeout),
		goble.OptDialerTimeout(bleTimeout),
		goble.OptScanParams(scanParams),
	}
	if id != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(id, "hci"))
		if err != nil || n < 0 {
			return nil, ErrAdapterInvalidID
		}
		opts = append(opts, goble.OptDeviceID(n))
	}
	device, err := linux.NewDevice(opts...)
	if err != nil {
		return nil, fmt.Errorf("ble: failed to open HCI device: %w", err)
	}
	return device, nil
}

func IsAdapterError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "operation not permitted") || strings.Contains(msg, "no devices available")
}

func AdapterErrorHelpMessage(err error) string {
	return "Failed to initialize BLE adapter: \n\t" + err.Error() + "\n" +
		"The HCI backend needs CAP_NET_ADMIN and CAP_NET_RAW. Try:\n\n" +
		"\tsudo setcap 'cap_net_raw,cap_net_admin=eip' \"$(which btwattch-bridge)\"\n\n" +
		"or use the BlueZ backend (-ble-backend tinygo)."
}
