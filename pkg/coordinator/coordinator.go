// Package coordinator keeps the latest readings of configured devices and decides when they are
// available.
//
// A Coordinator runs in one of two modes. In single-device mode it follows one [device.Target]
// through a [session.Session]. In auto-discover mode it tracks every RATOC Systems advertiser in
// range and announces new devices through callbacks. Either way, a device whose frames fail to
// decode or stop arriving is reported unavailable without affecting any other device.
//
// The Coordinator owns the update cadence: when the transport fails it waits RetryInterval and
// subscribes again. Sessions themselves never retry.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/connector"
	"github.com/btwattch/rs-btwattch2/pkg/connector/ble"
	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
	"github.com/btwattch/rs-btwattch2/pkg/protocol"
	"github.com/btwattch/rs-btwattch2/pkg/session"
)

// DefaultStaleAfter is how long a device may stay silent before it is reported unavailable.
// RS-BTWATTCH2 plugs advertise roughly once per second.
const DefaultStaleAfter = 5 * time.Minute

var ErrStale = errors.New("no frame received recently")

type Config struct {
	// AutoDiscover tracks every RATOC Systems device in range. Target is ignored when set.
	AutoDiscover bool
	Target       device.Target
	// Ignore lists addresses that auto-discover mode must not track, typically because another
	// Coordinator follows them.
	Ignore []string

	// StaleAfter defaults to DefaultStaleAfter. Negative values disable staleness checks.
	StaleAfter time.Duration
	// RetryInterval defaults to connector.RetryInterval.
	RetryInterval time.Duration
}

type Coordinator struct {
	sessions *session.Context
	session  *session.Session
	config   Config
	now      func() time.Time

	ignored map[string]bool

	lock      sync.Mutex
	devices   map[string]*Device
	order     []string
	callbacks map[int]func(*Device)
	nextID    int
}

func New(c *session.Context, config Config) (*Coordinator, error) {
	if c == nil || c.Dialer == nil {
		return nil, session.ErrNoDialer
	}
	if config.StaleAfter == 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = connector.RetryInterval
	}

	co := &Coordinator{
		sessions:  c,
		config:    config,
		now:       time.Now,
		devices:   make(map[string]*Device),
		callbacks: make(map[int]func(*Device)),
		ignored:   make(map[string]bool),
	}
	for _, address := range config.Ignore {
		co.ignored[device.NormalizeMAC(address)] = true
	}

	if !config.AutoDiscover {
		config.Target.Address = device.NormalizeMAC(config.Target.Address)
		co.config = config
		s, err := session.New(c, config.Target)
		if err != nil {
			return nil, err
		}
		co.session = s
		t := config.Target
		co.add(newDevice(t.Address, t.DisplayName(), t.Model))
	}
	return co, nil
}

// AutoDiscover returns true if the Coordinator tracks every device in range.
func (c *Coordinator) AutoDiscover() bool {
	return c.config.AutoDiscover
}

// Device returns the device with the given address.
func (c *Coordinator) Device(address string) (*Device, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	d, ok := c.devices[device.NormalizeMAC(address)]
	return d, ok
}

// Devices returns all known devices in the order they were first seen.
func (c *Coordinator) Devices() []*Device {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([]*Device, 0, len(c.order))
	for _, address := range c.order {
		out = append(out, c.devices[address])
	}
	return out
}

// AddNewDeviceCallback registers f to be called, after the first successful decode, for every
// device discovered in auto-discover mode. The returned function removes the callback.
func (c *Coordinator) AddNewDeviceCallback(f func(*Device)) func() {
	c.lock.Lock()
	defer c.lock.Unlock()
	id := c.nextID
	c.nextID++
	c.callbacks[id] = f
	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		delete(c.callbacks, id)
	}
}

// Run tracks devices until ctx is cancelled. Transport failures mark every device unavailable and
// are retried after RetryInterval.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.config.AutoDiscover {
		log.Info("coordinator: started in auto-discover mode")
	} else {
		log.Info("coordinator: started in single device mode (%s)", c.config.Target.Address)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	if c.config.StaleAfter > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.watchStale(ctx)
		}()
	}

	for {
		var err error
		if c.config.AutoDiscover {
			err = c.discover(ctx)
		} else {
			err = c.follow(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Warning("coordinator: %s", err)
		c.markAllUnavailable(err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.config.RetryInterval):
		}
	}
}

func (c *Coordinator) follow(ctx context.Context) error {
	d, _ := c.Device(c.config.Target.Address)
	return c.session.Subscribe(ctx, func(reading frame.Reading, err error) {
		if err != nil {
			log.Debug("[%s] %s", d.Address, err)
			d.markUnavailable(err)
			return
		}
		d.update(reading, c.now())
	})
}

func (c *Coordinator) discover(ctx context.Context) error {
	conn, err := c.sessions.Dialer.Listen(connector.Filter{ManufacturerID: frame.ManufacturerID})
	if err != nil {
		return protocol.NewConnectionError("coordinator: failed to listen", err)
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-conn.Receive():
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return protocol.NewConnectionError("coordinator: connection closed", nil)
			}
			c.handle(payload)
		}
	}
}

// handle applies an advertisement received in auto-discover mode.
func (c *Coordinator) handle(payload connector.Payload) {
	address := device.NormalizeMAC(payload.Address)
	if c.ignored[address] {
		return
	}
	d, known := c.Device(address)

	model, ok := frame.Identify(payload.LocalName, payload.Data)
	if !ok {
		if !known {
			log.Debug("[%s] could not identify device model", address)
			return
		}
		model = d.Model()
		log.Debug("[%s] could not identify device model, using stored model %s", address, model)
	}

	reading, err := frame.Parse(model, payload.Data)
	if err != nil {
		log.Debug("[%s] %s", address, err)
		if known {
			d.markUnavailable(err)
		}
		return
	}

	if !known {
		name := payload.LocalName
		if name == "" {
			name = device.DefaultName(model, address)
		}
		d = newDevice(address, name, model)
		c.add(d)
		log.Info("coordinator: discovered new %s device: %s (%s)", model.ProductName(), address, name)
	}

	at := payload.ReceivedAt
	if at.IsZero() {
		at = c.now()
	}
	d.update(reading, at)
	log.Debug("[%s] %v", address, reading)

	if !known {
		for _, f := range c.newDeviceCallbacks() {
			f(d)
		}
	}
}

func (c *Coordinator) add(d *Device) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.devices[d.Address] = d
	c.order = append(c.order, d.Address)
}

func (c *Coordinator) newDeviceCallbacks() []func(*Device) {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([]func(*Device), 0, len(c.callbacks))
	for _, f := range c.callbacks {
		out = append(out, f)
	}
	return out
}

func (c *Coordinator) markAllUnavailable(err error) {
	for _, d := range c.Devices() {
		d.markUnavailable(err)
	}
}

func (c *Coordinator) watchStale(ctx context.Context) {
	interval := c.config.StaleAfter / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.expire(c.now())
		}
	}
}

// expire marks devices that have been silent for longer than StaleAfter as unavailable.
func (c *Coordinator) expire(now time.Time) {
	for _, d := range c.Devices() {
		if d.stale(now, c.config.StaleAfter) {
			log.Info("[%s] no frame for %s, marking unavailable", d.Address, c.config.StaleAfter)
			d.markUnavailable(ErrStale)
		}
	}
}

// KeepScanning runs s until ctx is cancelled, restarting it RetryInterval after each failure.
func KeepScanning(ctx context.Context, s *ble.Scanner, retryInterval time.Duration) error {
	if retryInterval <= 0 {
		retryInterval = connector.RetryInterval
	}
	for {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ble.ErrAlreadyScanning) {
			return err
		}
		log.Warning("coordinator: scanner stopped: %s; restarting in %s", err, retryInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryInterval):
		}
	}
}
