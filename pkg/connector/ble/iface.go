package ble

import (
	"context"
)

// Advertisement is a backend-neutral view of one BLE advertisement.
type Advertisement struct {
	Address          string
	LocalName        string
	RSSI             int16
	Connectable      bool
	ManufacturerData map[uint16][]byte // Keyed by company identifier.
}

// Adapter is a Bluetooth radio capable of observing advertisements.
type Adapter interface {
	// Scan delivers advertisements to handler until ctx is done or the radio fails. Scan returns
	// ctx.Err() (possibly wrapped) when stopped through ctx.
	Scan(ctx context.Context, handler func(Advertisement)) error
	Close() error
}
