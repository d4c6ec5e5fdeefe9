package hass_test

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/btwattch/rs-btwattch2/mocks"
	"github.com/btwattch/rs-btwattch2/pkg/coordinator"
	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/entity"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
	"github.com/btwattch/rs-btwattch2/pkg/hass"
	"github.com/btwattch/rs-btwattch2/pkg/session"
)

const address = "AA:BB:CC:DD:EE:FF"

type message struct {
	topic    string
	retained bool
	payload  string
}

var _ = Describe("Options", func() {
	options := hass.Options{BaseTopic: hass.DefaultBaseTopic, DiscoveryPrefix: hass.DefaultDiscoveryPrefix}

	It("builds device topics from the unique id", func() {
		Expect(options.StateTopic(address)).To(Equal("btwattch2/aabbccddeeff/state"))
		Expect(options.AvailabilityTopic(address)).To(Equal("btwattch2/aabbccddeeff/availability"))
		Expect(options.StatusTopic()).To(Equal("btwattch2/status"))
	})

	It("builds discovery topics per platform", func() {
		Expect(options.ConfigTopic(frame.ModelBTWATTCH2, address, entity.Power)).
			To(Equal("homeassistant/sensor/AABBCCDDEEFF_power/config"))
		Expect(options.ConfigTopic(frame.ModelBTWATTCH2, address, entity.Relay)).
			To(Equal("homeassistant/binary_sensor/AABBCCDDEEFF_relay/config"))
		co2 := entity.ForModel(frame.ModelBTEVS1)[0]
		Expect(options.ConfigTopic(frame.ModelBTEVS1, address, co2)).
			To(Equal("homeassistant/sensor/btevs1_AABBCCDDEEFF_co2/config"))
	})

	Describe("DiscoveryConfig", func() {
		It("describes sensors", func() {
			c := options.DiscoveryConfig(frame.ModelBTWATTCH2, address, "RS-BTWATTCH2 DD:EE:FF", entity.Power)
			Expect(c.UniqueID).To(Equal("AA:BB:CC:DD:EE:FF_power"))
			Expect(c.ObjectID).To(Equal("rs-btwattch2_ddeeff_power"))
			Expect(c.StateTopic).To(Equal("btwattch2/aabbccddeeff/state"))
			Expect(c.ValueTemplate).To(Equal("{{ value_json.power }}"))
			Expect(c.Unit).To(Equal("W"))
			Expect(c.DeviceClass).To(Equal("power"))
			Expect(c.StateClass).To(Equal("measurement"))
			Expect(c.DisplayPrecision).To(HaveValue(Equal(3)))
			Expect(c.Availability).To(HaveLen(2))
			Expect(c.Device.Model).To(Equal("RS-BTWATTCH2"))
			Expect(c.Device.Manufacturer).To(Equal("RATOC Systems"))
			Expect(c.PayloadOn).To(BeEmpty())
		})

		It("describes binary sensors", func() {
			c := options.DiscoveryConfig(frame.ModelBTWATTCH2, address, "Desk", entity.Relay)
			Expect(c.UniqueID).To(Equal("AA:BB:CC:DD:EE:FF_relay"))
			Expect(c.PayloadOn).To(Equal("ON"))
			Expect(c.PayloadOff).To(Equal("OFF"))
			Expect(c.DisplayPrecision).To(BeNil())
			Expect(c.StateClass).To(BeEmpty())

			raw, err := json.Marshal(c)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).NotTo(ContainSubstring("unit_of_measurement"))
			Expect(string(raw)).To(ContainSubstring(`"device_class":"power"`))
		})
	})
})

var _ = Describe("State", func() {
	It("encodes readings as one JSON document", func() {
		payload, err := hass.State(frame.ModelBTWATTCH2, frame.Measurement{Power: 120, Voltage: 100, Current: 1200, RelayOn: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).To(MatchJSON(`{"power":120,"voltage":100,"current":1200,"relay":"ON"}`))
	})

	It("omits values the firmware did not send", func() {
		a, err := frame.DecodeAirQuality([]byte{0x58, 0x02, 1, 2, 3, 4, 0xd7, 0x00, 40})
		Expect(err).NotTo(HaveOccurred())
		payload, err := hass.State(frame.ModelBTEVS1, a)
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).To(MatchJSON(`{"co2":600,"temperature":21.5,"humidity":40,"pm1_0":1,"pm2_5":2,"pm4_0":3,"pm10":4}`))
	})
})

var _ = Describe("Bridge", func() {
	var (
		ctrl      *gomock.Controller
		publisher *mocks.HassPublisher
		bridge    *hass.Bridge
		published []message
		failWith  error
	)

	reading := frame.Measurement{Power: 120, Voltage: 100, Current: 1200, RelayOn: true}

	topics := func() []string {
		out := make([]string, 0, len(published))
		for _, m := range published {
			out = append(out, m.topic)
		}
		return out
	}

	configs := func() int {
		n := 0
		for _, m := range published {
			if strings.HasPrefix(m.topic, "homeassistant/") {
				n++
			}
		}
		return n
	}

	BeforeEach(func() {
		published = nil
		failWith = nil
		ctrl = gomock.NewController(GinkgoT())
		publisher = mocks.NewHassPublisher(ctrl)
		publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(topic string, retained bool, payload []byte) error {
				if failWith != nil {
					return failWith
				}
				published = append(published, message{topic: topic, retained: retained, payload: string(payload)})
				return nil
			}).AnyTimes()
		bridge = hass.NewBridge(publisher, hass.Options{StateInterval: time.Hour})
	})

	It("announces a device before it has data", func() {
		Expect(bridge.Update(coordinator.Snapshot{Address: address, Name: "Desk"})).To(Succeed())
		Expect(configs()).To(Equal(4))
		last := published[len(published)-1]
		Expect(last).To(Equal(message{topic: "btwattch2/aabbccddeeff/availability", retained: true, payload: "offline"}))
	})

	It("publishes readings and availability changes", func() {
		snapshot := coordinator.Snapshot{Address: address, Name: "Desk", Model: frame.ModelBTWATTCH2}
		Expect(bridge.Update(snapshot)).To(Succeed())
		published = nil

		snapshot.Data = reading
		snapshot.Available = true
		Expect(bridge.Update(snapshot)).To(Succeed())
		Expect(topics()).To(Equal([]string{"btwattch2/aabbccddeeff/state", "btwattch2/aabbccddeeff/availability"}))
		Expect(published[0].payload).To(MatchJSON(`{"power":120,"voltage":100,"current":1200,"relay":"ON"}`))
		Expect(published[1].payload).To(Equal("online"))

		published = nil
		Expect(bridge.Update(snapshot)).To(Succeed())
		Expect(published).To(BeEmpty(), "state updates within StateInterval are throttled")

		snapshot.Available = false
		Expect(bridge.Update(snapshot)).To(Succeed())
		Expect(published).To(Equal([]message{{topic: "btwattch2/aabbccddeeff/availability", retained: true, payload: "offline"}}))
	})

	It("announces again when the model changes", func() {
		Expect(bridge.Update(coordinator.Snapshot{Address: address, Name: "Air"})).To(Succeed())
		published = nil
		Expect(bridge.Update(coordinator.Snapshot{Address: address, Name: "Air", Model: frame.ModelBTEVS1})).To(Succeed())
		Expect(configs()).To(Equal(13))

		cleared, announced := 0, 0
		for _, m := range published {
			if !strings.HasPrefix(m.topic, "homeassistant/") {
				continue
			}
			if strings.Contains(m.topic, "/btevs1_") {
				Expect(m.payload).NotTo(BeEmpty())
				announced++
				continue
			}
			Expect(m.payload).To(BeEmpty())
			Expect(m.retained).To(BeTrue())
			cleared++
		}
		Expect(cleared).To(Equal(4))
		Expect(announced).To(Equal(9))
	})

	It("returns publish failures", func() {
		failWith = errors.New("broker unavailable")
		Expect(bridge.Update(coordinator.Snapshot{Address: address})).To(MatchError(failWith))
	})

	It("clears discovery messages when forgetting a device", func() {
		Expect(bridge.Forget(frame.ModelBTWATTCH2, address)).To(Succeed())
		Expect(configs()).To(Equal(4))
		for _, m := range published {
			Expect(m.payload).To(BeEmpty())
			Expect(m.retained).To(BeTrue())
		}
	})

	It("attaches to a coordinator", func() {
		target, err := device.NewTarget(address, "Desk", frame.ModelBTWATTCH2)
		Expect(err).NotTo(HaveOccurred())
		c, err := coordinator.New(session.NewContext(mocks.NewConnectorDialer(ctrl)), coordinator.Config{Target: target})
		Expect(err).NotTo(HaveOccurred())

		detach := bridge.Attach(c)
		Expect(configs()).To(Equal(4))
		Expect(topics()).To(ContainElement("btwattch2/aabbccddeeff/availability"))
		detach()
	})
})
