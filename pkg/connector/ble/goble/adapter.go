// Package goble implements ble.Adapter on top of github.com/go-ble/ble, which talks to the HCI
// socket directly and does not need BlueZ. It is only functional on Linux.
package goble

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	goble "github.com/go-ble/ble"

	"github.com/btwattch/rs-btwattch2/pkg/connector/ble"
	"github.com/btwattch/rs-btwattch2/pkg/protocol"
)

var ErrAdapterInvalidID = protocol.NewConnectionError("the bluetooth adapter ID is invalid", nil)

// NewAdapter opens the HCI device named by id ("hci0", "1", ...). An empty id selects the first
// available device.
func NewAdapter(id string) (ble.Adapter, error) {
	device, err := newDevice(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrAdapterUnavailable, err)
	}

	return &adapter{
		device: device,
	}, nil
}

type adapter struct {
	device goble.Device
}

func (s *adapter) Scan(ctx context.Context, handler func(ble.Advertisement)) error {
	// Duplicates must be allowed: every advertisement carries a fresh reading.
	return s.device.Scan(ctx, true, func(a goble.Advertisement) {
		handler(advertisementFromGoble(a))
	})
}

func (s *adapter) Close() error {
	if s.device == nil {
		return nil
	}

	device := s.device
	s.device = nil
	return device.Stop()
}

func advertisementFromGoble(a goble.Advertisement) ble.Advertisement {
	adv := ble.Advertisement{
		Address:     strings.ToUpper(a.Addr().String()),
		LocalName:   a.LocalName(),
		RSSI:        int16(a.RSSI()),
		Connectable: a.Connectable(),
	}
	// go-ble returns the raw AD structure, which starts with the company identifier.
	if data := a.ManufacturerData(); len(data) >= 2 {
		adv.ManufacturerData = map[uint16][]byte{
			binary.LittleEndian.Uint16(data[:2]): data[2:],
		}
	}
	return adv
}
