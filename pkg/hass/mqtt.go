package hass

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/btwattch/rs-btwattch2/internal/log"
)

const (
	DefaultBaseTopic       = "btwattch2"
	DefaultDiscoveryPrefix = "homeassistant"

	publishTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // ms

	payloadOnline  = "online"
	payloadOffline = "offline"
)

var ErrPublishTimeout = errors.New("hass: timed out waiting for broker")

// Publisher sends a message to the broker.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

type Options struct {
	Broker   string // e.g. tcp://localhost:1883
	Username string
	Password string
	// ClientID defaults to a random identifier.
	ClientID string
	// BaseTopic prefixes state, availability and status topics.
	BaseTopic string
	// DiscoveryPrefix must match the discovery prefix configured in Home Assistant.
	DiscoveryPrefix string
	// StateInterval is the minimum time between two state messages of the same device.
	StateInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.ClientID == "" {
		o.ClientID = "btwattch2-" + uuid.NewString()
	}
	if o.BaseTopic == "" {
		o.BaseTopic = DefaultBaseTopic
	}
	if o.DiscoveryPrefix == "" {
		o.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if o.StateInterval <= 0 {
		o.StateInterval = DefaultStateInterval
	}
}

// StatusTopic is where the bridge announces whether it is connected. The broker publishes
// "offline" on the bridge's behalf if the connection drops.
func (o *Options) StatusTopic() string {
	return o.BaseTopic + "/status"
}

// MQTT is a Publisher backed by a paho client.
type MQTT struct {
	client mqtt.Client
	status string
}

// Dial connects to the broker described by opts.
func Dial(opts Options) (*MQTT, error) {
	opts.setDefaults()
	status := opts.StatusTopic()

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetWill(status, payloadOffline, 1, true)
	clientOpts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info("hass: connected to %s", opts.Broker)
		c.Publish(status, 1, true, payloadOnline)
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warning("hass: connection to %s lost: %s", opts.Broker, err)
	})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("hass: failed to connect to %s: %w", opts.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("hass: failed to connect to %s: %w", opts.Broker, err)
	}
	return &MQTT{client: client, status: status}, nil
}

func (m *MQTT) Publish(topic string, retained bool, payload []byte) error {
	token := m.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Close marks the bridge offline and disconnects.
func (m *MQTT) Close() {
	if err := m.Publish(m.status, true, []byte(payloadOffline)); err != nil {
		log.Warning("hass: failed to publish offline status: %s", err)
	}
	m.client.Disconnect(disconnectQuiesce)
}
