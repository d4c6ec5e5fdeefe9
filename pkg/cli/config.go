/*
Package cli facilitates building command-line applications that bridge RATOC Systems devices to
Home Assistant. It defines a [Config] type that can be used to register common command-line flags
(using the Golang flag package) and environment variable equivalents.

The package uses [keyring]'s platform-agnostic interface for storing the MQTT broker password in an
OS-dependent credential store.

# Examples

	import flag

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for BLE, MQTT, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	if err := config.ApplyLogLevel(); err != nil {
		panic(err)
	}

	scanner, err := config.NewScanner() // Opens the configured Bluetooth adapter.
	if err != nil {
		panic(err)
	}
	defer scanner.Close()

	entries, err := config.Entries()   // Loads the configured devices.
	options, err := config.MQTTOptions() // Prompts for the keyring password if needed.

Alternatively, you can use a [Flag] mask to control what [Config] fields are populated. Note that
config.Flags must be set before calling [flag.Parse] or [Config.ReadFromEnvironment]:

	config, err = NewConfig(FlagBLE | FlagStore) // A command that scans but never publishes.
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/99designs/keyring"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/cache"
	"github.com/btwattch/rs-btwattch2/pkg/connector/ble"
	"github.com/btwattch/rs-btwattch2/pkg/connector/ble/goble"
	"github.com/btwattch/rs-btwattch2/pkg/connector/ble/tinygo"
	"github.com/btwattch/rs-btwattch2/pkg/entry"
	"github.com/btwattch/rs-btwattch2/pkg/hass"
)

// Environment variable names are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvBLEBackend    = "BTWATTCH_BLE_BACKEND"
	EnvBtAdapter     = "BTWATTCH_BT_ADAPTER"
	EnvEntriesFile   = "BTWATTCH_ENTRIES_FILE"
	EnvCacheFile     = "BTWATTCH_CACHE_FILE"
	EnvLogLevel      = "BTWATTCH_LOG_LEVEL"
	EnvMQTTBroker    = "BTWATTCH_MQTT_BROKER"
	EnvMQTTUsername  = "BTWATTCH_MQTT_USERNAME"
	EnvMQTTPassword  = "BTWATTCH_MQTT_PASSWORD"
	EnvMQTTBaseTopic = "BTWATTCH_MQTT_BASE_TOPIC"
	EnvMQTTDiscovery = "BTWATTCH_DISCOVERY_PREFIX"
	EnvKeyringType   = "BTWATTCH_KEYRING_TYPE"
	EnvKeyringPass   = "BTWATTCH_KEYRING_PASSWORD"
	EnvKeyringPath   = "BTWATTCH_KEYRING_PATH"
	EnvKeyringDebug  = "BTWATTCH_KEYRING_DEBUG"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagBLE   Flag = 1 // Enable Bluetooth adapter options.
	FlagMQTT  Flag = 2 // Enable MQTT broker and keyring options.
	FlagStore Flag = 4 // Enable entry store and device cache options.
	FlagAll   Flag = FlagBLE | FlagMQTT | FlagStore
)

const (
	defaultBackend     = BackendTinyGo
	defaultBroker      = "tcp://localhost:1883"
	defaultConfigDir   = "btwattch2"
	defaultEntriesFile = "entries.yaml"
	defaultCacheFile   = "devices.json"
	defaultCacheSize   = 64
)

var ErrKeyNotFound = keyring.ErrKeyNotFound

// BLEBackend selects the Bluetooth stack used to scan.
type BLEBackend string

const (
	BackendGoBLE  BLEBackend = "goble"  // Raw HCI socket. Linux only; requires CAP_NET_ADMIN.
	BackendTinyGo BLEBackend = "tinygo" // BlueZ over D-Bus, CoreBluetooth or WinRT.
)

func (b *BLEBackend) String() string {
	return string(*b)
}

// Set updates a BLEBackend from a command-line argument.
func (b *BLEBackend) Set(value string) error {
	switch v := BLEBackend(strings.ToLower(value)); v {
	case BackendGoBLE, BackendTinyGo:
		*b = v
		return nil
	}
	return fmt.Errorf("unknown BLE backend '%s'", value)
}

// Config fields determine how a client reaches devices and Home Assistant.
type Config struct {
	Flags           Flag // Controls which set of environment variables/CLI flags to use.
	Backend         BLEBackend
	BtAdapterID     string
	EntriesFilename string
	CacheFilename   string
	LogLevel        string
	MQTT            hass.Options
	Keyring         keyring.Config
	KeyringType     backendType
	Debug           bool // Enable keyring debug messages

	password     *string // keyring file password
	mqttPassword *string
	devices      *cache.DeviceCache
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Keyring: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.KeyringType = backendType{&c}
	c.Keyring.KeychainPasswordFunc = c.getPassword
	c.Keyring.FilePasswordFunc = c.getPassword

	return &c, nil
}

// RegisterCommandLineFlags adds c's options to the default flag set.
func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

// RegisterFlags adds c's options to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", "", "Log `level` (none|error|warning|info|debug). Defaults to $BTWATTCH_LOG_LEVEL or info.")
	if c.Flags.isSet(FlagBLE) {
		fs.Var(&c.Backend, "ble-backend", "Bluetooth `backend` (goble|tinygo). Defaults to $BTWATTCH_BLE_BACKEND or "+string(defaultBackend)+".")
		c.registerFlagsOsSpecific(fs)
	}
	if c.Flags.isSet(FlagStore) {
		fs.StringVar(&c.EntriesFilename, "entries", "", "Load configured devices from `file`. Defaults to $BTWATTCH_ENTRIES_FILE.")
		fs.StringVar(&c.CacheFilename, "device-cache", "", "Load discovered devices from `file`. Defaults to $BTWATTCH_CACHE_FILE.")
	}
	if c.Flags.isSet(FlagMQTT) {
		fs.StringVar(&c.MQTT.Broker, "broker", "", "MQTT broker `url`. Defaults to $BTWATTCH_MQTT_BROKER or "+defaultBroker+".")
		fs.StringVar(&c.MQTT.Username, "username", "", "MQTT `username`. Defaults to $BTWATTCH_MQTT_USERNAME.")
		fs.StringVar(&c.MQTT.BaseTopic, "base-topic", "", "MQTT `topic` prefix for device state. Defaults to $BTWATTCH_MQTT_BASE_TOPIC or "+hass.DefaultBaseTopic+".")
		fs.StringVar(&c.MQTT.DiscoveryPrefix, "discovery-prefix", "", "Home Assistant discovery `prefix`. Defaults to $BTWATTCH_DISCOVERY_PREFIX or "+hass.DefaultDiscoveryPrefix+".")
		fs.DurationVar(&c.MQTT.StateInterval, "state-interval", hass.DefaultStateInterval, "Minimum `interval` between state messages of a device")

		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		fs.Var(&c.KeyringType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $BTWATTCH_KEYRING_TYPE.")
		fs.StringVar(&c.Keyring.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		fs.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.LogLevel == "" {
		c.LogLevel = os.Getenv(EnvLogLevel)
	}
	if c.Flags.isSet(FlagBLE) {
		if c.Backend == "" {
			if err := c.Backend.Set(os.Getenv(EnvBLEBackend)); err == nil {
				log.Debug("Set BLE backend to '%s'", c.Backend)
			}
		}
		if c.BtAdapterID == "" {
			c.BtAdapterID = os.Getenv(EnvBtAdapter)
			log.Debug("Set Bluetooth adapter to '%s'", c.BtAdapterID)
		}
	}
	if c.Flags.isSet(FlagStore) {
		if c.EntriesFilename == "" {
			c.EntriesFilename = os.Getenv(EnvEntriesFile)
			log.Debug("Set entries file to '%s'", c.EntriesFilename)
		}
		if c.CacheFilename == "" {
			c.CacheFilename = os.Getenv(EnvCacheFile)
			log.Debug("Set device cache file to '%s'", c.CacheFilename)
		}
	}
	if c.Flags.isSet(FlagMQTT) {
		if c.MQTT.Broker == "" {
			c.MQTT.Broker = os.Getenv(EnvMQTTBroker)
			log.Debug("Set MQTT broker to '%s'", c.MQTT.Broker)
		}
		if c.MQTT.Username == "" {
			c.MQTT.Username = os.Getenv(EnvMQTTUsername)
			log.Debug("Set MQTT username to '%s'", c.MQTT.Username)
		}
		if c.mqttPassword == nil {
			if password, ok := os.LookupEnv(EnvMQTTPassword); ok {
				c.mqttPassword = &password
				log.Debug("Set MQTT password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.MQTT.BaseTopic == "" {
			c.MQTT.BaseTopic = os.Getenv(EnvMQTTBaseTopic)
		}
		if c.MQTT.DiscoveryPrefix == "" {
			c.MQTT.DiscoveryPrefix = os.Getenv(EnvMQTTDiscovery)
		}
		if c.KeyringType.String() == string(keyring.InvalidBackend) {
			if err := c.KeyringType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.KeyringType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Keyring.FileDir == "" {
			c.Keyring.FileDir = os.Getenv(EnvKeyringPath)
			log.Debug("Set keyring File Path to '%s'", c.Keyring.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
		keyring.Debug = c.Debug
	}
}

// ApplyLogLevel configures the global logger from c.LogLevel. An empty level leaves the logger
// unchanged.
func (c *Config) ApplyLogLevel() error {
	if c.LogLevel == "" {
		return nil
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// NewAdapter opens the configured Bluetooth adapter. Errors caused by missing permissions or
// services include instructions for fixing them.
func (c *Config) NewAdapter() (ble.Adapter, error) {
	backend := c.Backend
	if backend == "" {
		backend = defaultBackend
	}

	var (
		adapter ble.Adapter
		err     error
		help    func(error) string
		isSetup func(error) bool
	)
	switch backend {
	case BackendGoBLE:
		adapter, err = goble.NewAdapter(c.BtAdapterID)
		help, isSetup = goble.AdapterErrorHelpMessage, goble.IsAdapterError
	case BackendTinyGo:
		adapter, err = tinygo.NewAdapter(c.BtAdapterID)
		help, isSetup = tinygo.AdapterErrorHelpMessage, tinygo.IsAdapterError
	default:
		return nil, fmt.Errorf("unknown BLE backend '%s'", backend)
	}
	if err != nil {
		if isSetup(err) {
			return nil, errors.New(help(err))
		}
		return nil, err
	}
	log.Debug("Opened Bluetooth adapter using the %s backend", backend)
	return adapter, nil
}

// NewScanner opens the configured Bluetooth adapter and wraps it in a [ble.Scanner].
func (c *Config) NewScanner() (*ble.Scanner, error) {
	adapter, err := c.NewAdapter()
	if err != nil {
		return nil, err
	}
	return ble.NewScanner(adapter), nil
}

func configPath(filename string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filename
	}
	return filepath.Join(dir, defaultConfigDir, filename)
}

// Entries loads the entry store. If c.EntriesFilename is not set, the store lives in the user's
// configuration directory.
func (c *Config) Entries() (*entry.Store, error) {
	filename := c.EntriesFilename
	if filename == "" {
		filename = configPath(defaultEntriesFile)
	}
	log.Debug("Loading entries from %s...", filename)
	return entry.Open(filename)
}

// DeviceCache loads the discovered-device cache. The cache is created if it does not exist yet.
func (c *Config) DeviceCache() (*cache.DeviceCache, error) {
	if c.devices != nil {
		return c.devices, nil
	}
	filename := c.cacheFilename()
	log.Debug("Loading device cache from %s...", filename)
	var err error
	c.devices, err = cache.ImportFromFile(filename)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load device cache: %s", err)
		}
		// Create a new cache if one couldn't be loaded from the file
		c.devices = cache.New(defaultCacheSize)
	}
	return c.devices, nil
}

// SaveDeviceCache writes the discovered-device cache to disk. It does nothing if the cache was
// never loaded.
func (c *Config) SaveDeviceCache() error {
	if c.devices == nil {
		return nil
	}
	filename := c.cacheFilename()
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return c.devices.ExportToFile(filename)
}

func (c *Config) cacheFilename() string {
	if c.CacheFilename != "" {
		return c.CacheFilename
	}
	return configPath(defaultCacheFile)
}

// MQTTOptions returns the broker options, loading the password from the environment or the system
// keyring.
func (c *Config) MQTTOptions() (hass.Options, error) {
	options := c.MQTT
	if options.Broker == "" {
		options.Broker = defaultBroker
	}
	if options.Username != "" {
		password, err := c.MQTTPassword()
		switch {
		case errors.Is(err, ErrKeyNotFound), errors.Is(err, keyring.ErrNoAvailImpl):
			log.Debug("No MQTT password stored for %s", options.Username)
		case err != nil:
			return hass.Options{}, err
		}
		options.Password = password
	}
	return options, nil
}
