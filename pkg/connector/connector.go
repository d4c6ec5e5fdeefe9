package connector

import (
	"time"
)

// BufferSize is the number of inbound payloads that can be queued per Connector. When the buffer
// is full, the oldest payload is discarded: consumers only ever care about the latest reading.
const BufferSize = 5

// Payload is the manufacturer-specific data of one advertisement, tagged with its origin.
type Payload struct {
	Address    string // Upper-case colon-separated MAC address.
	LocalName  string
	RSSI       int16
	Data       []byte // Manufacturer data, excluding the company identifier.
	ReceivedAt time.Time
}

// Filter selects which advertisements a Connector receives.
type Filter struct {
	ManufacturerID uint16
	Address        string // Empty matches every advertiser.
}

// Connector receives raw payloads broadcast by one or more devices.
type Connector interface {
	// Receive returns a read-only channel of payloads matching the Connector's Filter. The channel
	// is closed when the Connector is closed or the underlying transport stops.
	//
	// Implementations must be thread safe.
	Receive() <-chan Payload

	// Err returns the reason the Receive channel was closed. It returns nil while the channel is
	// open and after an explicit call to Close.
	Err() error

	// Close releases the Connector. Repeated calls to Close must be idempotent.
	Close()
}

// Dialer hands out Connectors. A Dialer typically multiplexes one radio between many sessions.
type Dialer interface {
	Listen(filter Filter) (Connector, error)
}

// RetryInterval is the recommended wait time before restarting a transport that failed.
const RetryInterval = 5 * time.Second
