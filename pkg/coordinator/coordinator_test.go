package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/btwattch/rs-btwattch2/pkg/connector"
	"github.com/btwattch/rs-btwattch2/pkg/connector/ble"
	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
	"github.com/btwattch/rs-btwattch2/pkg/protocol"
	"github.com/btwattch/rs-btwattch2/pkg/session"
)

var (
	wattFrame = []byte{0x01, 0xe8, 0x03, 0xb0, 0x04, 0xc0, 0xd4, 0x01}
	airFrame  = []byte{0x58, 0x02, 0x01, 0x02, 0x03, 0x04, 0xd7, 0x00, 0x28}
)

type fakeConn struct {
	filter connector.Filter
	ch     chan connector.Payload

	lock   sync.Mutex
	closed bool
	err    error
}

func (f *fakeConn) Receive() <-chan connector.Payload { return f.ch }

func (f *fakeConn) Err() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.err
}

func (f *fakeConn) Close() { f.fail(nil) }

func (f *fakeConn) fail(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.err = err
	close(f.ch)
}

func (f *fakeConn) send(address, name string, data []byte) {
	f.ch <- connector.Payload{Address: address, LocalName: name, Data: data}
}

type fakeDialer struct {
	listened chan *fakeConn
}

func (f *fakeDialer) Listen(filter connector.Filter) (connector.Connector, error) {
	c := &fakeConn{filter: filter, ch: make(chan connector.Payload, connector.BufferSize)}
	f.listened <- c
	return c, nil
}

var _ = Describe("Coordinator", func() {
	var (
		dialer *fakeDialer
		ctx    context.Context
		cancel context.CancelFunc
		done   chan error
	)

	BeforeEach(func() {
		dialer = &fakeDialer{listened: make(chan *fakeConn, 10)}
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
	})

	AfterEach(func() {
		cancel()
	})

	start := func(c *Coordinator) *fakeConn {
		go func() { done <- c.Run(ctx) }()
		var conn *fakeConn
		Eventually(dialer.listened).Should(Receive(&conn))
		return conn
	}

	Describe("single device mode", func() {
		var (
			c      *Coordinator
			target device.Target
		)

		BeforeEach(func() {
			var err error
			target, err = device.NewTarget("aa:bb:cc:dd:ee:ff", "", "")
			Expect(err).NotTo(HaveOccurred())
			c, err = New(session.NewContext(dialer), Config{Target: target, RetryInterval: 10 * time.Millisecond})
			Expect(err).NotTo(HaveOccurred())
		})

		It("registers the configured device up front", func() {
			d, ok := c.Device("AA-BB-CC-DD-EE-FF")
			Expect(ok).To(BeTrue())
			Expect(d.Name).To(Equal("RS-BTWATTCH2 DD:EE:FF"))
			Expect(d.Available()).To(BeFalse())
			Expect(d.Data()).To(BeNil())
			Expect(c.AutoDiscover()).To(BeFalse())
		})

		It("updates the device and notifies listeners", func() {
			d, _ := c.Device(target.Address)
			updates := make(chan bool, 10)
			remove := d.AddListener(func(d *Device) { updates <- d.Available() })

			conn := start(c)
			Expect(conn.filter).To(Equal(connector.Filter{ManufacturerID: frame.ManufacturerID, Address: target.Address}))
			conn.send(target.Address, "", wattFrame)

			Eventually(updates).Should(Receive(BeTrue()))
			Expect(d.Data()).To(Equal(frame.Measurement{Power: 120, Voltage: 100, Current: 1200, RelayOn: true}))
			Expect(d.Model()).To(Equal(frame.ModelBTWATTCH2))

			remove()
			conn.send(target.Address, "", wattFrame)
			Consistently(updates, 50*time.Millisecond).ShouldNot(Receive())
		})

		It("reports decode errors as unavailable until the next good frame", func() {
			d, _ := c.Device(target.Address)
			conn := start(c)

			conn.send(target.Address, "", wattFrame)
			Eventually(d.Available).Should(BeTrue())
			conn.send(target.Address, "", []byte{0x01, 0x02})
			Eventually(d.Available).Should(BeFalse())
			Expect(protocol.IsDecodeError(d.Err())).To(BeTrue())
			conn.send(target.Address, "", wattFrame)
			Eventually(d.Available).Should(BeTrue())
		})

		It("marks the device unavailable on transport failure and subscribes again", func() {
			d, _ := c.Device(target.Address)
			conn := start(c)
			conn.send(target.Address, "", wattFrame)
			Eventually(d.Available).Should(BeTrue())

			conn.fail(protocol.ErrScannerStopped)
			Eventually(d.Available).Should(BeFalse())
			Expect(protocol.IsConnectionError(d.Err())).To(BeTrue())

			var next *fakeConn
			Eventually(dialer.listened).Should(Receive(&next))
			next.send(target.Address, "", wattFrame)
			Eventually(d.Available).Should(BeTrue())

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	Describe("auto-discover mode", func() {
		var c *Coordinator

		BeforeEach(func() {
			var err error
			c, err = New(session.NewContext(dialer), Config{AutoDiscover: true, StaleAfter: time.Minute})
			Expect(err).NotTo(HaveOccurred())
		})

		It("listens for every RATOC Systems advertiser", func() {
			conn := start(c)
			Expect(conn.filter).To(Equal(connector.Filter{ManufacturerID: frame.ManufacturerID}))
			Expect(c.Devices()).To(BeEmpty())
		})

		It("announces new devices once, after their first reading", func() {
			discovered := make(chan *Device, 10)
			c.AddNewDeviceCallback(func(d *Device) { discovered <- d })

			conn := start(c)
			conn.send("11:22:33:44:55:66", "", wattFrame)
			conn.send("11:22:33:44:55:66", "", wattFrame)
			conn.send("aa:bb:cc:dd:ee:ff", "RS-BTEVS1", airFrame)

			var d *Device
			Eventually(discovered).Should(Receive(&d))
			Expect(d.Address).To(Equal("11:22:33:44:55:66"))
			Expect(d.Name).To(Equal("RS-BTWATTCH2 44:55:66"))
			Expect(d.Data()).NotTo(BeNil())
			Eventually(discovered).Should(Receive(&d))
			Expect(d.Address).To(Equal("AA:BB:CC:DD:EE:FF"))
			Expect(d.Name).To(Equal("RS-BTEVS1"))
			Expect(d.Model()).To(Equal(frame.ModelBTEVS1))
			Consistently(discovered, 50*time.Millisecond).ShouldNot(Receive())
			Expect(c.Devices()).To(HaveLen(2))
		})
	})

	Describe("handle", func() {
		var c *Coordinator

		BeforeEach(func() {
			var err error
			c, err = New(session.NewContext(dialer), Config{AutoDiscover: true})
			Expect(err).NotTo(HaveOccurred())
		})

		It("ignores advertisers whose model cannot be identified", func() {
			c.handle(connector.Payload{Address: "11:22:33:44:55:66", Data: []byte{1, 2, 3}})
			Expect(c.Devices()).To(BeEmpty())
		})

		It("isolates decode failures to the affected device", func() {
			c.handle(connector.Payload{Address: "11:22:33:44:55:66", Data: wattFrame})
			c.handle(connector.Payload{Address: "AA:BB:CC:DD:EE:FF", Data: wattFrame})
			c.handle(connector.Payload{Address: "11:22:33:44:55:66", Data: []byte{1, 2, 3}})

			bad, _ := c.Device("11:22:33:44:55:66")
			good, _ := c.Device("AA:BB:CC:DD:EE:FF")
			Expect(bad.Available()).To(BeFalse())
			Expect(protocol.IsDecodeError(bad.Err())).To(BeTrue())
			Expect(bad.Model()).To(Equal(frame.ModelBTWATTCH2))
			Expect(good.Available()).To(BeTrue())
		})

		It("skips ignored addresses", func() {
			c, err := New(session.NewContext(dialer), Config{AutoDiscover: true, Ignore: []string{"11-22-33-44-55-66"}})
			Expect(err).NotTo(HaveOccurred())
			c.handle(connector.Payload{Address: "11:22:33:44:55:66", Data: wattFrame})
			c.handle(connector.Payload{Address: "AA:BB:CC:DD:EE:FF", Data: wattFrame})
			Expect(c.Devices()).To(HaveLen(1))
			_, ok := c.Device("11:22:33:44:55:66")
			Expect(ok).To(BeFalse())
		})

		It("uses the receive time of the payload", func() {
			at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
			c.handle(connector.Payload{Address: "11:22:33:44:55:66", Data: wattFrame, ReceivedAt: at})
			d, _ := c.Device("11:22:33:44:55:66")
			Expect(d.LastUpdate()).To(Equal(at))
		})
	})

	Describe("expire", func() {
		It("marks silent devices unavailable", func() {
			c, err := New(session.NewContext(dialer), Config{AutoDiscover: true, StaleAfter: time.Minute})
			Expect(err).NotTo(HaveOccurred())
			at := time.Now()
			c.handle(connector.Payload{Address: "11:22:33:44:55:66", Data: wattFrame, ReceivedAt: at})
			d, _ := c.Device("11:22:33:44:55:66")

			c.expire(at.Add(30 * time.Second))
			Expect(d.Available()).To(BeTrue())
			c.expire(at.Add(2 * time.Minute))
			Expect(d.Available()).To(BeFalse())
			Expect(errors.Is(d.Err(), ErrStale)).To(BeTrue())
			Expect(d.Data()).NotTo(BeNil())
		})
	})

	Describe("New", func() {
		It("requires a dialer", func() {
			_, err := New(&session.Context{}, Config{AutoDiscover: true})
			Expect(err).To(MatchError(session.ErrNoDialer))
		})

		It("rejects invalid targets in single device mode", func() {
			_, err := New(session.NewContext(dialer), Config{Target: device.Target{Address: "nope"}})
			Expect(err).To(MatchError(device.ErrInvalidMAC))
		})
	})
})

type flakyAdapter struct {
	scans chan struct{}
}

func (f *flakyAdapter) Scan(ctx context.Context, _ func(ble.Advertisement)) error {
	f.scans <- struct{}{}
	return errors.New("hci0: connection reset")
}

func (f *flakyAdapter) Close() error { return nil }

var _ = Describe("KeepScanning", func() {
	It("restarts a failed scanner until cancelled", func() {
		adapter := &flakyAdapter{scans: make(chan struct{}, 100)}
		scanner := ble.NewScanner(adapter)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- KeepScanning(ctx, scanner, 5*time.Millisecond) }()

		for i := 0; i < 3; i++ {
			Eventually(adapter.scans).Should(Receive())
		}
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
