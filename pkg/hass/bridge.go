package hass

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/coordinator"
	"github.com/btwattch/rs-btwattch2/pkg/entity"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

// DefaultStateInterval limits how often the readings of one device are published. Devices
// advertise about once per second, which is more than Home Assistant needs to record.
const DefaultStateInterval = 5 * time.Second

// Bridge mirrors coordinator devices into Home Assistant.
type Bridge struct {
	publisher Publisher
	options   Options

	lock    sync.Mutex
	devices map[string]*deviceState
}

type deviceState struct {
	announced frame.Model
	available bool
	online    bool // availability published at least once
	limiter   *rate.Limiter
}

func NewBridge(publisher Publisher, options Options) *Bridge {
	options.setDefaults()
	return &Bridge{
		publisher: publisher,
		options:   options,
		devices:   make(map[string]*deviceState),
	}
}

// Attach publishes the devices of c and keeps them up to date. The returned function detaches the
// Bridge from c.
func (b *Bridge) Attach(c *coordinator.Coordinator) func() {
	var (
		lock    sync.Mutex
		removes []func()
	)
	track := func(d *coordinator.Device) {
		remove := d.AddListener(func(d *coordinator.Device) {
			if err := b.Update(d.Snapshot()); err != nil {
				log.Warning("[%s] failed to publish: %s", d.Address, err)
			}
		})
		lock.Lock()
		removes = append(removes, remove)
		lock.Unlock()
		if err := b.Update(d.Snapshot()); err != nil {
			log.Warning("[%s] failed to publish: %s", d.Address, err)
		}
	}

	for _, d := range c.Devices() {
		track(d)
	}
	if c.AutoDiscover() {
		removeCallback := c.AddNewDeviceCallback(track)
		lock.Lock()
		removes = append(removes, removeCallback)
		lock.Unlock()
	}

	return func() {
		lock.Lock()
		defer lock.Unlock()
		for _, remove := range removes {
			remove()
		}
		removes = nil
	}
}

// Update publishes the state of d. Discovery messages are published the first time a device is seen
// and again if its model changes. Availability changes are always published; readings are
// throttled to one per StateInterval.
func (b *Bridge) Update(d coordinator.Snapshot) error {
	model := d.Model
	if model == "" {
		model = frame.ModelBTWATTCH2
	}
	reading := d.Data
	available := d.Available && reading != nil

	b.lock.Lock()
	defer b.lock.Unlock()
	state, ok := b.devices[d.Address]
	if !ok {
		state = &deviceState{
			limiter: rate.NewLimiter(rate.Every(b.options.StateInterval), 1),
		}
		b.devices[d.Address] = state
	}

	if state.announced != model {
		if state.announced != "" {
			if err := b.clear(state.announced, d.Address); err != nil {
				return err
			}
		}
		if err := b.announce(model, d.Address, d.Name); err != nil {
			return err
		}
		state.announced = model
	}

	changed := !state.online || state.available != available
	allowed := available && state.limiter.Allow()
	if available && (changed || allowed) {
		payload, err := State(model, reading)
		if err != nil {
			return fmt.Errorf("hass: failed to encode state: %w", err)
		}
		if err := b.publisher.Publish(b.options.StateTopic(d.Address), true, payload); err != nil {
			return err
		}
	}
	if changed {
		payload := payloadOffline
		if available {
			payload = payloadOnline
		}
		if err := b.publisher.Publish(b.options.AvailabilityTopic(d.Address), true, []byte(payload)); err != nil {
			return err
		}
		state.online = true
		state.available = available
		log.Debug("[%s] %s", d.Address, payload)
	}
	return nil
}

func (b *Bridge) announce(model frame.Model, address, name string) error {
	for _, e := range entity.ForModel(model) {
		payload, err := json.Marshal(b.options.DiscoveryConfig(model, address, name, e))
		if err != nil {
			return fmt.Errorf("hass: failed to encode discovery config: %w", err)
		}
		if err := b.publisher.Publish(b.options.ConfigTopic(model, address, e), true, payload); err != nil {
			return err
		}
	}
	log.Info("[%s] announced %s as %s", address, model.ProductName(), name)
	return nil
}

// Forget removes the discovery messages of the device at address, which deletes its entities from
// Home Assistant.
func (b *Bridge) Forget(model frame.Model, address string) error {
	if model == "" {
		model = frame.ModelBTWATTCH2
	}
	if err := b.clear(model, address); err != nil {
		return err
	}
	b.lock.Lock()
	delete(b.devices, address)
	b.lock.Unlock()
	return nil
}

// clear publishes empty retained discovery messages for the entities of model.
func (b *Bridge) clear(model frame.Model, address string) error {
	for _, e := range entity.ForModel(model) {
		if err := b.publisher.Publish(b.options.ConfigTopic(model, address, e), true, nil); err != nil {
			return err
		}
	}
	return nil
}
