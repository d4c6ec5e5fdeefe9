//go:build !linux

package tinygo

import (
	"tinygo.org/x/bluetooth"
)

func IsAdapterError(_ error) bool {
	// TODO: Detect CoreBluetooth permission errors on Darwin.
	return false
}

func AdapterErrorHelpMessage(err error) string {
	return err.Error()
}

func newAdapter(id string) (*bluetooth.Adapter, error) {
	if id != "" {
		return nil, ErrAdapterInvalidID
	}

	return bluetooth.DefaultAdapter, nil
}
