package entry

import (
	"fmt"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/cache"
	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

// AbortError ends a flow without creating an entry.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return "entry: aborted: " + e.Reason
}

var (
	ErrAlreadyConfigured      = &AbortError{Reason: "already_configured"}
	ErrAutoDiscoverConfigured = &AbortError{Reason: "auto_discover_already_configured"}
	ErrNoDevicesFound         = &AbortError{Reason: "no_devices_found"}
	ErrInvalidMAC             = &AbortError{Reason: "invalid_mac"}
)

// Step is a way of adding an entry.
type Step string

const (
	StepAutoDiscover Step = "auto_discover"
	StepPickDevice   Step = "pick_device"
	StepManual       Step = "manual"
)

// Steps returns the flows currently available. Auto-discovery is offered only once.
func (s *Store) Steps() []Step {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.autoDiscoverConfigured() {
		return []Step{StepPickDevice, StepManual}
	}
	return []Step{StepAutoDiscover, StepPickDevice, StepManual}
}

// AutoDiscover adds an entry that exposes every device in range.
func (s *Store) AutoDiscover() (Entry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.autoDiscoverConfigured() {
		return Entry{}, ErrAutoDiscoverConfigured
	}
	e, err := s.add(Entry{
		Title:        frame.ModelBTWATTCH2.ProductName() + " (auto-discover)",
		AutoDiscover: true,
	})
	if err == nil {
		log.Info("entry: added auto-discover entry %s", e.ID)
	}
	return e, err
}

// Candidates returns the devices in c that are not configured yet, most recently seen first.
func (s *Store) Candidates(c *cache.DeviceCache) []cache.Entry {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out []cache.Entry
	for _, e := range c.List() {
		if !s.configured(device.UniqueID(e.Address)) {
			out = append(out, e)
		}
	}
	return out
}

// PickDevice adds an entry for a device chosen from the candidates in c. An empty name selects the
// advertised name, or a default derived from the model and address.
func (s *Store) PickDevice(c *cache.DeviceCache, address, name string) (Entry, error) {
	candidates := s.Candidates(c)
	if len(candidates) == 0 {
		return Entry{}, ErrNoDevicesFound
	}
	address = device.NormalizeMAC(address)
	for _, candidate := range candidates {
		if candidate.Address != address {
			continue
		}
		if name == "" {
			name = candidate.DisplayName()
		}
		return s.single(address, name, candidate.Model)
	}
	if _, ok := c.Get(address); ok {
		return Entry{}, ErrAlreadyConfigured
	}
	return Entry{}, fmt.Errorf("entry: %s was not discovered: %w", address, ErrNoDevicesFound)
}

// Manual adds an entry for a device identified by a user-supplied MAC address. Any separator
// between hex digit pairs is accepted.
func (s *Store) Manual(address, name string, model frame.Model) (Entry, error) {
	address = device.NormalizeMAC(address)
	if !device.ValidMAC(address) {
		return Entry{}, ErrInvalidMAC
	}
	if name == "" {
		name = device.DefaultName(model, address)
	}
	return s.single(address, name, model)
}

// Discovered adds an entry for a device that announced itself, confirming the advertised name
// unless name overrides it.
func (s *Store) Discovered(advertised cache.Entry, name string) (Entry, error) {
	if name == "" {
		name = advertised.DisplayName()
	}
	return s.single(device.NormalizeMAC(advertised.Address), name, advertised.Model)
}

func (s *Store) single(address, name string, model frame.Model) (Entry, error) {
	if !device.ValidMAC(address) {
		return Entry{}, ErrInvalidMAC
	}
	if model == "" {
		model = frame.ModelBTWATTCH2
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.configured(device.UniqueID(address)) {
		return Entry{}, ErrAlreadyConfigured
	}
	e, err := s.add(Entry{
		Title:   name,
		Address: address,
		Name:    name,
		Model:   model,
	})
	if err == nil {
		log.Info("entry: added %s (%s)", name, address)
	}
	return e, err
}
