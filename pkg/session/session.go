// Package session reads telemetry from a single RATOC Systems device.
//
// A [Session] listens for the advertisements of one [device.Target] and decodes their manufacturer
// data. Sessions do not own the Bluetooth adapter: they obtain [connector.Connector] handles from
// the [connector.Dialer] carried by a [Context], and release them when the read completes or the
// caller cancels. Sessions never retry; a *protocol.ConnectionError tells the caller the transport
// failed and that it may try again on its next update cycle.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/connector"
	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
	"github.com/btwattch/rs-btwattch2/pkg/protocol"
)

var ErrNoDialer = errors.New("session: context has no dialer")

// Context carries the state shared by every Session of a process.
type Context struct {
	Dialer connector.Dialer
}

// NewContext returns a Context that obtains connectors from dialer.
func NewContext(dialer connector.Dialer) *Context {
	return &Context{Dialer: dialer}
}

// Handler receives the outcome of each payload received by [Session.Subscribe]. Exactly one of
// reading and err is non-nil; err is always a *protocol.DecodeError.
type Handler func(reading frame.Reading, err error)

type Session struct {
	dialer connector.Dialer
	target device.Target

	lock  sync.Mutex
	model frame.Model
}

// New returns a Session for target. No radio activity takes place until Read or Subscribe is
// called.
func New(c *Context, target device.Target) (*Session, error) {
	if c == nil || c.Dialer == nil {
		return nil, ErrNoDialer
	}
	if !device.ValidMAC(target.Address) {
		return nil, device.ErrInvalidMAC
	}
	return &Session{
		dialer: c.Dialer,
		target: target,
		model:  target.Model,
	}, nil
}

func (s *Session) Target() device.Target {
	return s.target
}

// Model returns the model of the device, or an empty string if it has not been identified yet.
func (s *Session) Model() frame.Model {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.model
}

// Read waits for the next advertisement broadcast by the target and decodes it. The listener used
// to wait is released before Read returns, including when ctx is cancelled.
func (s *Session) Read(ctx context.Context) (frame.Reading, error) {
	conn, err := s.listen()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case payload, ok := <-conn.Receive():
			if !ok {
				return nil, s.closedError(conn)
			}
			if !s.accepts(payload) {
				continue
			}
			return s.decode(payload)
		}
	}
}

// Subscribe decodes every advertisement broadcast by the target until ctx is cancelled or the
// transport fails. Decode failures are passed to handler and do not end the subscription.
//
// Subscribe returns ctx.Err() after cancellation and a *protocol.ConnectionError if the transport
// stopped.
func (s *Session) Subscribe(ctx context.Context, handler Handler) error {
	conn, err := s.listen()
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-conn.Receive():
			if !ok {
				return s.closedError(conn)
			}
			if !s.accepts(payload) {
				continue
			}
			reading, err := s.decode(payload)
			if err != nil {
				log.Debug("[%s] %s", s.target.Address, err)
				handler(nil, err)
				continue
			}
			handler(reading, nil)
		}
	}
}

func (s *Session) listen() (connector.Connector, error) {
	conn, err := s.dialer.Listen(connector.Filter{
		ManufacturerID: frame.ManufacturerID,
		Address:        s.target.Address,
	})
	if err != nil {
		if protocol.IsConnectionError(err) {
			return nil, err
		}
		return nil, protocol.NewConnectionError("session: failed to listen", err)
	}
	return conn, nil
}

// accepts returns false for payloads of other devices, which a Dialer that ignores
// Filter.Address may deliver.
func (s *Session) accepts(payload connector.Payload) bool {
	if s.target.Matches(payload.Address) {
		return true
	}
	log.Debug("[%s] ignoring payload from %s", s.target.Address, payload.Address)
	return false
}

func (s *Session) closedError(conn connector.Connector) error {
	if err := conn.Err(); err != nil {
		if protocol.IsConnectionError(err) {
			return err
		}
		return protocol.NewConnectionError("session: connection closed", err)
	}
	return protocol.NewConnectionError("session: connection closed", nil)
}

func (s *Session) decode(payload connector.Payload) (frame.Reading, error) {
	model := s.resolveModel(payload)
	reading, err := frame.Parse(model, payload.Data)
	if err != nil {
		return nil, err
	}
	log.Debug("[%s] %v", s.target.Address, reading)
	return reading, nil
}

// resolveModel returns the configured or previously identified model. Otherwise it identifies the
// model from payload, falling back to the RS-BTWATTCH2 layout.
func (s *Session) resolveModel(payload connector.Payload) frame.Model {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.model != "" {
		return s.model
	}
	if model, ok := frame.Identify(payload.LocalName, payload.Data); ok {
		log.Info("[%s] identified as %s", s.target.Address, model.ProductName())
		s.model = model
		return model
	}
	return frame.ModelBTWATTCH2
}
