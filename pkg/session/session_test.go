package session_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/btwattch/rs-btwattch2/mocks"
	"github.com/btwattch/rs-btwattch2/pkg/connector"
	"github.com/btwattch/rs-btwattch2/pkg/connector/ble"
	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
	"github.com/btwattch/rs-btwattch2/pkg/protocol"
	"github.com/btwattch/rs-btwattch2/pkg/session"
)

const address = "AA:BB:CC:DD:EE:FF"

var (
	// 120 W, 100.0 V, 1200 mA, relay on.
	wattFrame = []byte{0x01, 0xe8, 0x03, 0xb0, 0x04, 0xc0, 0xd4, 0x01}
	// 600 ppm, PM 1/2/3/4, 21.5 C, 40 %.
	airFrame = []byte{0x58, 0x02, 0x01, 0x02, 0x03, 0x04, 0xd7, 0x00, 0x28}
)

// radio is an in-memory ble.Adapter. Tests broadcast advertisements through it once the scan runs.
type radio struct {
	handlers chan func(ble.Advertisement)
}

func (r *radio) Scan(ctx context.Context, handler func(ble.Advertisement)) error {
	r.handlers <- handler
	<-ctx.Done()
	return ctx.Err()
}

func (r *radio) Close() error {
	return nil
}

func broadcast(handler func(ble.Advertisement), addr, name string, data []byte) {
	handler(ble.Advertisement{
		Address:          addr,
		LocalName:        name,
		ManufacturerData: map[uint16][]byte{frame.ManufacturerID: data},
	})
}

var _ = Describe("Session", func() {
	var (
		scanner    *ble.Scanner
		handler    func(ble.Advertisement)
		stopScan   context.CancelFunc
		scanResult chan error
		target     device.Target
	)

	BeforeEach(func() {
		r := &radio{handlers: make(chan func(ble.Advertisement), 1)}
		scanner = ble.NewScanner(r)
		scanResult = make(chan error, 1)

		var scanCtx context.Context
		scanCtx, stopScan = context.WithCancel(context.Background())
		go func() { scanResult <- scanner.Run(scanCtx) }()
		Eventually(r.handlers).Should(Receive(&handler))

		var err error
		target, err = device.NewTarget(address, "", frame.ModelBTWATTCH2)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		stopScan()
		Eventually(scanResult).Should(Receive(BeNil()))
	})

	newSession := func(t device.Target) *session.Session {
		s, err := session.New(session.NewContext(scanner), t)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	Describe("New", func() {
		It("requires a dialer", func() {
			_, err := session.New(nil, target)
			Expect(err).To(MatchError(session.ErrNoDialer))
			_, err = session.New(&session.Context{}, target)
			Expect(err).To(MatchError(session.ErrNoDialer))
		})

		It("rejects invalid addresses", func() {
			_, err := session.New(session.NewContext(scanner), device.Target{Address: "not-a-mac"})
			Expect(err).To(MatchError(device.ErrInvalidMAC))
		})
	})

	Describe("Read", func() {
		It("decodes the next advertisement of the target", func() {
			s := newSession(target)
			result := make(chan frame.Reading, 1)
			go func() {
				defer GinkgoRecover()
				reading, err := s.Read(context.Background())
				Expect(err).NotTo(HaveOccurred())
				result <- reading
			}()

			Eventually(scanner.Listeners).Should(Equal(1))
			broadcast(handler, "11:22:33:44:55:66", "", []byte{0, 0, 0, 0, 0, 0, 0, 0})
			broadcast(handler, address, "", wattFrame)

			var reading frame.Reading
			Eventually(result).Should(Receive(&reading))
			Expect(reading).To(Equal(frame.Measurement{Power: 120, Voltage: 100, Current: 1200, RelayOn: true}))
			Expect(scanner.Listeners()).To(Equal(0))
		})

		It("returns a decode error for malformed frames", func() {
			s := newSession(target)
			result := make(chan error, 1)
			go func() {
				_, err := s.Read(context.Background())
				result <- err
			}()

			Eventually(scanner.Listeners).Should(Equal(1))
			broadcast(handler, address, "", []byte{0x01, 0xe8})

			var err error
			Eventually(result).Should(Receive(&err))
			Expect(protocol.IsDecodeError(err)).To(BeTrue())
			Expect(scanner.Listeners()).To(Equal(0))
		})

		It("releases the listener when cancelled mid-wait", func() {
			s := newSession(target)
			ctx, cancel := context.WithCancel(context.Background())
			result := make(chan error, 1)
			go func() {
				_, err := s.Read(ctx)
				result <- err
			}()

			Eventually(scanner.Listeners).Should(Equal(1))
			cancel()
			Eventually(result).Should(Receive(MatchError(context.Canceled)))
			Expect(scanner.Listeners()).To(Equal(0))

			readings := make(chan frame.Reading, 1)
			go func() {
				defer GinkgoRecover()
				reading, err := s.Read(context.Background())
				Expect(err).NotTo(HaveOccurred())
				readings <- reading
			}()
			Eventually(scanner.Listeners).Should(Equal(1))
			broadcast(handler, address, "", wattFrame)
			Eventually(readings).Should(Receive(BeAssignableToTypeOf(frame.Measurement{})))
		})

		It("honours an expired deadline", func() {
			s := newSession(target)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			_, err := s.Read(ctx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(scanner.Listeners()).To(Equal(0))
		})

		It("identifies the model when the target does not name one", func() {
			s := newSession(device.Target{Address: address})
			Expect(s.Model()).To(BeEmpty())
			result := make(chan frame.Reading, 1)
			go func() {
				defer GinkgoRecover()
				reading, err := s.Read(context.Background())
				Expect(err).NotTo(HaveOccurred())
				result <- reading
			}()

			Eventually(scanner.Listeners).Should(Equal(1))
			broadcast(handler, address, "RS-BTEVS1", airFrame)

			var reading frame.Reading
			Eventually(result).Should(Receive(&reading))
			Expect(reading.Model()).To(Equal(frame.ModelBTEVS1))
			Expect(reading.(frame.AirQuality).CO2).To(Equal(600))
			Expect(s.Model()).To(Equal(frame.ModelBTEVS1))
		})

		It("fails with a connection error when the scanner stops", func() {
			s := newSession(target)
			result := make(chan error, 1)
			go func() {
				_, err := s.Read(context.Background())
				result <- err
			}()

			Eventually(scanner.Listeners).Should(Equal(1))
			stopScan()

			var err error
			Eventually(result).Should(Receive(&err))
			Expect(protocol.IsConnectionError(err)).To(BeTrue())
			Expect(errors.Is(err, protocol.ErrScannerStopped)).To(BeTrue())
		})
	})

	Describe("Subscribe", func() {
		It("delivers readings and decode errors until cancelled", func() {
			s := newSession(target)
			ctx, cancel := context.WithCancel(context.Background())
			readings := make(chan frame.Reading, 10)
			failures := make(chan error, 10)
			result := make(chan error, 1)
			go func() {
				result <- s.Subscribe(ctx, func(reading frame.Reading, err error) {
					if err != nil {
						failures <- err
						return
					}
					readings <- reading
				})
			}()

			Eventually(scanner.Listeners).Should(Equal(1))
			broadcast(handler, address, "", wattFrame)
			Eventually(readings).Should(Receive())
			broadcast(handler, address, "", []byte{0x01})
			Eventually(failures).Should(Receive(WithTransform(protocol.IsDecodeError, BeTrue())))
			broadcast(handler, address, "", wattFrame)
			Eventually(readings).Should(Receive())

			cancel()
			Eventually(result).Should(Receive(MatchError(context.Canceled)))
			Expect(scanner.Listeners()).To(Equal(0))
		})

		It("ends with a connection error when the scanner stops", func() {
			s := newSession(target)
			result := make(chan error, 1)
			go func() {
				result <- s.Subscribe(context.Background(), func(frame.Reading, error) {})
			}()

			Eventually(scanner.Listeners).Should(Equal(1))
			stopScan()

			var err error
			Eventually(result).Should(Receive(&err))
			Expect(protocol.IsConnectionError(err)).To(BeTrue())
			Expect(protocol.Temporary(err)).To(BeTrue())
		})
	})
})

var _ = Describe("Session transport failures", func() {
	var (
		ctrl   *gomock.Controller
		dialer *mocks.ConnectorDialer
		target device.Target
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		dialer = mocks.NewConnectorDialer(ctrl)
		target = device.Target{Address: address, Model: frame.ModelBTWATTCH2}
	})

	It("wraps listen failures in a connection error", func() {
		dialer.EXPECT().Listen(connector.Filter{ManufacturerID: frame.ManufacturerID, Address: address}).
			Return(nil, errors.New("adapter busy"))
		s, err := session.New(session.NewContext(dialer), target)
		Expect(err).NotTo(HaveOccurred())

		_, err = s.Read(context.Background())
		Expect(protocol.IsConnectionError(err)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("adapter busy")))
	})

	It("reports a closed connector as a connection error", func() {
		conn := mocks.NewConnector(ctrl)
		ch := make(chan connector.Payload)
		close(ch)
		var receive <-chan connector.Payload = ch
		conn.EXPECT().Receive().Return(receive)
		conn.EXPECT().Err().Return(nil)
		conn.EXPECT().Close()
		dialer.EXPECT().Listen(gomock.Any()).Return(conn, nil)

		s, err := session.New(session.NewContext(dialer), target)
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Read(context.Background())
		Expect(protocol.IsConnectionError(err)).To(BeTrue())
	})

	It("ignores payloads from other devices", func() {
		conn := mocks.NewConnector(ctrl)
		ch := make(chan connector.Payload, 2)
		ch <- connector.Payload{Address: "11:22:33:44:55:66", Data: []byte{0x00, 0x01}}
		ch <- connector.Payload{Address: "aa:bb:cc:dd:ee:ff", Data: wattFrame}
		var receive <-chan connector.Payload = ch
		conn.EXPECT().Receive().Return(receive).AnyTimes()
		conn.EXPECT().Close()
		dialer.EXPECT().Listen(gomock.Any()).Return(conn, nil)

		s, err := session.New(session.NewContext(dialer), target)
		Expect(err).NotTo(HaveOccurred())
		reading, err := s.Read(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(reading).To(Equal(frame.Measurement{Power: 120, Voltage: 100, Current: 1200, RelayOn: true}))
	})
})
