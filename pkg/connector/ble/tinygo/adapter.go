// Package tinygo implements ble.Adapter on top of tinygo.org/x/bluetooth, which uses BlueZ over
// D-Bus on Linux, CoreBluetooth on macOS and WinRT on Windows.
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/connector/ble"
	"github.com/btwattch/rs-btwattch2/pkg/protocol"
)

var ErrAdapterInvalidID = protocol.NewConnectionError("the bluetooth adapter ID is invalid", nil)

// stopRetryInterval bounds how long Scan waits for StopScan to take effect. StopScan can race with
// a Scan that has not started yet; see https://github.com/tinygo-org/bluetooth/issues/339.
const stopRetryInterval = 100 * time.Millisecond

func NewAdapter(id string) (ble.Adapter, error) {
	device, err := newAdapter(id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create device: %w", protocol.ErrAdapterUnavailable, err)
	}
	if err = device.Enable(); err != nil {
		return nil, fmt.Errorf("%w: failed to enable device: %w", protocol.ErrAdapterUnavailable, err)
	}

	return &adapter{
		device: device,
	}, nil
}

type adapter struct {
	device *bluetooth.Adapter
}

func (s *adapter) Scan(ctx context.Context, handler func(ble.Advertisement)) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	scanFinished := make(chan struct{})
	errorCh := make(chan error, 1)

	// Scan is blocking and has no context support, so run it in a goroutine.
	go func() {
		defer close(scanFinished)
		errorCh <- s.device.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			handler(advertisementFromResult(result))
		})
	}()

	select {
	case err := <-errorCh:
		return err
	case <-ctx.Done():
	}

	for {
		if err := s.device.StopScan(); err != nil && !strings.Contains(err.Error(), "no scan in progress") {
			log.Warning("ble: failed to stop scan: %s", err)
		}
		select {
		case <-scanFinished:
			return ctx.Err()
		case <-time.After(stopRetryInterval):
		}
	}
}

func (s *adapter) Close() error {
	s.device = nil
	return nil
}

func advertisementFromResult(result bluetooth.ScanResult) ble.Advertisement {
	adv := ble.Advertisement{
		Address:     strings.ToUpper(result.Address.String()),
		LocalName:   result.LocalName(),
		RSSI:        result.RSSI,
		Connectable: true,
	}
	for _, element := range result.ManufacturerData() {
		if adv.ManufacturerData == nil {
			adv.ManufacturerData = make(map[uint16][]byte)
		}
		adv.ManufacturerData[element.CompanyID] = element.Data
	}
	return adv
}
