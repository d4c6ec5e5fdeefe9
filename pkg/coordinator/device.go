package coordinator

import (
	"sync"
	"time"

	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

// Device is the latest known state of one physical device.
type Device struct {
	Address string
	Name    string

	lock       sync.Mutex
	model      frame.Model
	data       frame.Reading
	err        error
	available  bool
	lastUpdate time.Time
	listeners  map[int]func(*Device)
	nextID     int
}

func newDevice(address, name string, model frame.Model) *Device {
	return &Device{
		Address:   address,
		Name:      name,
		model:     model,
		listeners: make(map[int]func(*Device)),
	}
}

func (d *Device) Model() frame.Model {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.model
}

// Data returns the most recent reading, or nil if none has been received yet.
func (d *Device) Data() frame.Reading {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.data
}

// Available returns true if the latest frame decoded successfully and is not stale.
func (d *Device) Available() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.available
}

// Err returns the reason the device became unavailable.
func (d *Device) Err() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.err
}

func (d *Device) LastUpdate() time.Time {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.lastUpdate
}

// AddListener registers f to be called after every update or availability change. The returned
// function removes the listener.
func (d *Device) AddListener(f func(*Device)) func() {
	d.lock.Lock()
	defer d.lock.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = f
	return func() {
		d.lock.Lock()
		defer d.lock.Unlock()
		delete(d.listeners, id)
	}
}

func (d *Device) update(reading frame.Reading, at time.Time) {
	d.lock.Lock()
	d.data = reading
	d.model = reading.Model()
	d.err = nil
	d.available = true
	d.lastUpdate = at
	d.lock.Unlock()
	d.notify()
}

// markUnavailable records err and notifies listeners if the device was available.
func (d *Device) markUnavailable(err error) {
	d.lock.Lock()
	wasAvailable := d.available
	d.available = false
	d.err = err
	d.lock.Unlock()
	if wasAvailable {
		d.notify()
	}
}

func (d *Device) stale(now time.Time, after time.Duration) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.available && now.Sub(d.lastUpdate) > after
}

func (d *Device) notify() {
	d.lock.Lock()
	listeners := make([]func(*Device), 0, len(d.listeners))
	for _, f := range d.listeners {
		listeners = append(listeners, f)
	}
	d.lock.Unlock()
	for _, f := range listeners {
		f(d)
	}
}

// Snapshot is a consistent copy of a Device's state.
type Snapshot struct {
	Address    string
	Name       string
	Model      frame.Model
	Data       frame.Reading
	Available  bool
	Err        error
	LastUpdate time.Time
}

func (d *Device) Snapshot() Snapshot {
	d.lock.Lock()
	defer d.lock.Unlock()
	return Snapshot{
		Address:    d.Address,
		Name:       d.Name,
		Model:      d.model,
		Data:       d.data,
		Available:  d.available,
		Err:        d.err,
		LastUpdate: d.lastUpdate,
	}
}
