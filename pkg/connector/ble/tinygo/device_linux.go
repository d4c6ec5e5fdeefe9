package tinygo

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

// Substrings of BlueZ and D-Bus errors that indicate a host setup problem rather than a radio
// failure.
var adapterErrors = []string{
	"The name org.bluez was not provided by any .service files", // bluetoothd not running
	"org.bluez.Error.NotReady",                                  // adapter powered off
	"org.bluez.Error.NotPermitted",
	"org.freedesktop.DBus.Error.AccessDenied",
}

func IsAdapterError(err error) bool {
	msg := err.Error()
	// D-Bus socket missing
	if strings.Contains(msg, "dbus") && strings.HasSuffix(msg, "no such file or directory") {
		return true
	}
	for _, s := range adapterErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func AdapterErrorHelpMessage(err error) string {
	return "Failed to initialize BLE adapter: \n\t" + err.Error() + "\n" +
		"Make sure bluez and dbus are installed and running, and that the adapter is powered on\n" +
		"(bluetoothctl power on). The user must be allowed to talk to org.bluez over the system bus.\n" +
		"If running in a container, mount the host's D-Bus socket (e.g. -v /var/run/dbus:/var/run/dbus)."
}

// newAdapter returns the BlueZ adapter with the given ID, such as "hci1", or the default adapter.
func newAdapter(id string) (*bluetooth.Adapter, error) {
	if id == "" {
		return bluetooth.DefaultAdapter, nil
	}
	if !strings.HasPrefix(id, "hci") {
		return nil, ErrAdapterInvalidID
	}
	return bluetooth.NewAdapter(id), nil
}
