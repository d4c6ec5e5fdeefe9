package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName = "io.github.btwattch2"
	keyringMQTTService = "mqtt"
	keyringDirectory   = "~/.btwattch2_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Keyring.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Keyring.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Keyring.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

func (c *Config) getPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		} else {
			w = os.Stderr
		}
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	password := string(b)
	c.password = &password
	return password, nil
}

// PromptPassword reads a password from the terminal without echoing it.
func (c *Config) PromptPassword(prompt string) (string, error) {
	saved := c.password
	c.password = nil
	defer func() { c.password = saved }()
	return c.getPassword(prompt)
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	return keyring.Open(c.Keyring)
}

func (c *Config) mqttKeyName() string {
	return keyringMQTTService + "." + c.MQTT.Username + "@" + c.MQTT.Broker
}

// MQTTPassword returns the broker password. $BTWATTCH_MQTT_PASSWORD takes precedence over the
// system keyring.
//
// The username and broker must match the values used with SaveMQTTPassword.
func (c *Config) MQTTPassword() (string, error) {
	if c.mqttPassword != nil {
		return *c.mqttPassword, nil
	}
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(c.mqttKeyName())
	if err != nil {
		return "", fmt.Errorf("could not load MQTT password: %w", err)
	}
	password := string(item.Data)
	c.mqttPassword = &password
	return password, nil
}

// SaveMQTTPassword writes the broker password to the system keyring.
func (c *Config) SaveMQTTPassword(password string) error {
	if c.MQTT.Username == "" {
		return fmt.Errorf("an MQTT username is required to store a password")
	}
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}

	if err := kr.Set(keyring.Item{
		Key:  c.mqttKeyName(),
		Data: []byte(password),
	}); err != nil {
		return fmt.Errorf("failed to enroll password in keyring: %s", err)
	}
	c.mqttPassword = &password
	return nil
}

// DeleteMQTTPassword removes the broker password from the system keyring.
func (c *Config) DeleteMQTTPassword() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	c.mqttPassword = nil
	return kr.Remove(c.mqttKeyName())
}
