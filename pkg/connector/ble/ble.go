// Package ble shares one Bluetooth adapter between any number of device sessions.
//
// A BLE radio can only run one scan at a time, and on Linux opening the HCI device twice fails. A
// [Scanner] therefore owns the adapter, runs a single scan, and fans advertisements out to the
// [connector.Connector] handles returned by [Scanner.Listen].
package ble

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/connector"
	"github.com/btwattch/rs-btwattch2/pkg/protocol"
)

var ErrAlreadyScanning = errors.New("ble: scanner is already running")

type Scanner struct {
	adapter Adapter

	lock      sync.Mutex
	listeners map[*listener]struct{}
	running   bool
	lastErr   error
}

func NewScanner(adapter Adapter) *Scanner {
	return &Scanner{
		adapter:   adapter,
		listeners: make(map[*listener]struct{}),
	}
}

// Listen registers a new Connector. Listeners may be registered before or while the scanner runs.
func (s *Scanner) Listen(filter connector.Filter) (connector.Connector, error) {
	l := &listener{
		filter:  filter,
		inbox:   make(chan connector.Payload, connector.BufferSize),
		scanner: s,
	}
	l.filter.Address = strings.ToUpper(filter.Address)

	s.lock.Lock()
	defer s.lock.Unlock()
	s.listeners[l] = struct{}{}
	log.Debug("ble: listener added (%d active)", len(s.listeners))
	return l, nil
}

// Listeners returns the number of registered listeners.
func (s *Scanner) Listeners() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.listeners)
}

// Err returns the error that ended the most recent scan, or nil.
func (s *Scanner) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastErr
}

// Run scans until ctx is done or the adapter fails. When the scan ends, every registered listener
// is closed with a *protocol.ConnectionError. Run may be called again after it returns.
func (s *Scanner) Run(ctx context.Context) error {
	s.lock.Lock()
	if s.running {
		s.lock.Unlock()
		return ErrAlreadyScanning
	}
	s.running = true
	s.lastErr = nil
	s.lock.Unlock()

	log.Info("ble: scanning for advertisements")
	err := s.adapter.Scan(ctx, s.dispatch)
	cause := pkgerrors.Cause(err)
	if ctx.Err() != nil && (err == nil || cause == context.Canceled || cause == context.DeadlineExceeded) {
		log.Debug("ble: scan stopped")
		err = protocol.ErrScannerStopped
	} else if err == nil {
		err = protocol.NewConnectionError("ble: scan ended unexpectedly", nil)
	} else {
		log.Warning("ble: scan failed: %s", err)
		err = protocol.NewConnectionError("ble: scan failed", err)
	}

	s.lock.Lock()
	s.running = false
	s.lastErr = err
	listeners := s.listeners
	s.listeners = make(map[*listener]struct{})
	s.lock.Unlock()

	for l := range listeners {
		l.shutdown(err)
	}

	if errors.Is(err, protocol.ErrScannerStopped) {
		return nil
	}
	return err
}

// Close releases the adapter.
func (s *Scanner) Close() error {
	return s.adapter.Close()
}

func (s *Scanner) remove(l *listener) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.listeners, l)
	log.Debug("ble: listener removed (%d active)", len(s.listeners))
}

func (s *Scanner) dispatch(a Advertisement) {
	if len(a.ManufacturerData) == 0 {
		return
	}
	address := strings.ToUpper(a.Address)
	now := time.Now()

	s.lock.Lock()
	defer s.lock.Unlock()
	for l := range s.listeners {
		if l.filter.Address != "" && l.filter.Address != address {
			continue
		}
		data, ok := a.ManufacturerData[l.filter.ManufacturerID]
		if !ok {
			continue
		}
		l.deliver(connector.Payload{
			Address:    address,
			LocalName:  a.LocalName,
			RSSI:       a.RSSI,
			Data:       append([]byte(nil), data...),
			ReceivedAt: now,
		})
	}
}

type listener struct {
	filter  connector.Filter
	inbox   chan connector.Payload
	scanner *Scanner

	lock   sync.Mutex
	closed bool
	err    error
}

func (l *listener) Receive() <-chan connector.Payload {
	return l.inbox
}

func (l *listener) Err() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.err
}

func (l *listener) Close() {
	l.scanner.remove(l)
	l.shutdown(nil)
}

func (l *listener) shutdown(err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.err = err
	close(l.inbox)
}

func (l *listener) deliver(p connector.Payload) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return
	}
	for {
		select {
		case l.inbox <- p:
			return
		default:
		}
		// Drop the oldest payload to make room.
		select {
		case <-l.inbox:
		default:
		}
	}
}
