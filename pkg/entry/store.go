// Package entry stores which devices the bridge exposes and implements the flows that add them.
//
// An [Entry] either names one device by MAC address or enables auto-discovery of every RATOC
// Systems device in range. Entries are persisted as YAML by a [Store].
package entry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/btwattch/rs-btwattch2/pkg/coordinator"
	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

var ErrNotFound = errors.New("entry: not found")

type Entry struct {
	ID           string      `yaml:"id"`
	Title        string      `yaml:"title"`
	AutoDiscover bool        `yaml:"auto_discover,omitempty"`
	Address      string      `yaml:"address,omitempty"`
	Name         string      `yaml:"name,omitempty"`
	Model        frame.Model `yaml:"model,omitempty"`
}

// UniqueID returns the identifier used to reject duplicate entries for the same device. It is empty
// for auto-discover entries.
func (e Entry) UniqueID() string {
	if e.AutoDiscover {
		return ""
	}
	return device.UniqueID(e.Address)
}

// Target returns the device e refers to. It fails for auto-discover entries.
func (e Entry) Target() (device.Target, error) {
	if e.AutoDiscover {
		return device.Target{}, fmt.Errorf("entry %s: auto-discover entries have no target", e.ID)
	}
	model := e.Model
	if model == "" {
		model = frame.ModelBTWATTCH2
	}
	return device.NewTarget(e.Address, e.Name, model)
}

// CoordinatorConfig returns the configuration of the coordinator that serves e.
func (e Entry) CoordinatorConfig() (coordinator.Config, error) {
	if e.AutoDiscover {
		return coordinator.Config{AutoDiscover: true}, nil
	}
	target, err := e.Target()
	if err != nil {
		return coordinator.Config{}, err
	}
	return coordinator.Config{Target: target}, nil
}

type storeFile struct {
	Entries []Entry `yaml:"entries"`
}

// Store is a set of entries backed by a YAML file.
type Store struct {
	path    string
	lock    sync.Mutex
	entries []Entry
}

// Open loads the Store at path. A missing file yields an empty Store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var f storeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("entry: failed to parse %s: %w", path, err)
	}
	s.entries = f.Entries
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// List returns a copy of all entries.
func (s *Store) List() []Entry {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Entry(nil), s.entries...)
}

func (s *Store) Get(id string) (Entry, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Remove deletes the entry with the given ID, or the single-device entry for the given address.
func (s *Store) Remove(idOrAddress string) (Entry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	uniqueID := device.UniqueID(device.NormalizeMAC(idOrAddress))
	for i, e := range s.entries {
		if e.ID == idOrAddress || (!e.AutoDiscover && e.UniqueID() == uniqueID) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return e, s.save()
		}
	}
	return Entry{}, ErrNotFound
}

func (s *Store) configured(uniqueID string) bool {
	for _, e := range s.entries {
		if !e.AutoDiscover && e.UniqueID() == uniqueID {
			return true
		}
	}
	return false
}

func (s *Store) autoDiscoverConfigured() bool {
	for _, e := range s.entries {
		if e.AutoDiscover {
			return true
		}
	}
	return false
}

// add appends e and persists the Store. The caller must hold s.lock.
func (s *Store) add(e Entry) (Entry, error) {
	e.ID = uuid.NewString()
	s.entries = append(s.entries, e)
	if err := s.save(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return Entry{}, err
	}
	return e, nil
}

// save writes the Store to disk. The caller must hold s.lock.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(storeFile{Entries: s.entries})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
