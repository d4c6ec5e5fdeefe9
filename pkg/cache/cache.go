package cache

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/btwattch/rs-btwattch2/pkg/connector"
	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

// Entry describes a device observed during a scan.
type Entry struct {
	Address  string      `json:"address"`
	Name     string      `json:"name,omitempty"`
	Model    frame.Model `json:"model,omitempty"`
	RSSI     int16       `json:"rssi"`
	LastSeen time.Time   `json:"last_seen"`
}

// DisplayName returns the advertised local name, or a default derived from the model and address.
func (e Entry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return device.DefaultName(e.Model, e.Address)
}

type DeviceCache struct {
	MaxEntries int              `json:"max_entries"`
	Devices    map[string]Entry `json:"devices"`
	lock       sync.Mutex
}

// New returns a DeviceCache that holds up to maxEntries devices.
//
// Set maxEntries to zero for an unbounded cache.
func New(maxEntries int) *DeviceCache {
	return &DeviceCache{
		MaxEntries: maxEntries,
		Devices:    make(map[string]Entry),
	}
}

// Import a DeviceCache using data in r.
// The data should previously have been generated using [DeviceCache.Export].
func Import(r io.Reader) (*DeviceCache, error) {
	var cache DeviceCache
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cache); err != nil {
		return nil, err
	}
	devices := make(map[string]Entry, len(cache.Devices))
	for _, e := range cache.Devices {
		e.Address = device.NormalizeMAC(e.Address)
		devices[e.Address] = e
	}
	cache.Devices = devices
	return &cache, nil
}

// ImportFromFile reads a DeviceCache from disk.
func ImportFromFile(filename string) (*DeviceCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized DeviceCache to w.
func (c *DeviceCache) Export(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return json.NewEncoder(w).Encode(c)
}

// ExportToFile writes a DeviceCache to disk.
func (c *DeviceCache) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.Export(file)
}

// Observe records the advertiser of p. The model is identified from the advertisement when
// possible; otherwise a previously identified model is kept.
func (c *DeviceCache) Observe(p connector.Payload) Entry {
	entry := Entry{
		Address:  device.NormalizeMAC(p.Address),
		Name:     p.LocalName,
		RSSI:     p.RSSI,
		LastSeen: p.ReceivedAt,
	}
	if entry.LastSeen.IsZero() {
		entry.LastSeen = time.Now()
	}
	if model, ok := frame.Identify(p.LocalName, p.Data); ok {
		entry.Model = model
	}
	c.Update(entry)

	entry, _ = c.Get(entry.Address)
	return entry
}

// Update the DeviceCache's entry for a device.
func (c *DeviceCache) Update(entry Entry) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry.Address = device.NormalizeMAC(entry.Address)

	if previous, ok := c.Devices[entry.Address]; ok {
		if entry.Name == "" {
			entry.Name = previous.Name
		}
		if entry.Model == "" {
			entry.Model = previous.Model
		}
	}
	c.Devices[entry.Address] = entry
	if c.MaxEntries > 0 && len(c.Devices) > c.MaxEntries {
		oldestAddress := entry.Address
		oldestSeen := entry.LastSeen
		for address, e := range c.Devices {
			if e.LastSeen.Before(oldestSeen) {
				oldestAddress = address
				oldestSeen = e.LastSeen
			}
		}
		delete(c.Devices, oldestAddress)
	}
}

// Get returns the entry for address.
func (c *DeviceCache) Get(address string) (Entry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.Devices[device.NormalizeMAC(address)]
	return entry, ok
}

// Remove deletes the entry for address.
func (c *DeviceCache) Remove(address string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.Devices, device.NormalizeMAC(address))
}

// List returns all entries, most recently seen first.
func (c *DeviceCache) List() []Entry {
	c.lock.Lock()
	defer c.lock.Unlock()

	entries := make([]Entry, 0, len(c.Devices))
	for _, e := range c.Devices {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].Address < entries[j].Address
		}
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}
