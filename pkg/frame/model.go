package frame

import (
	"fmt"
	"strings"

	"github.com/btwattch/rs-btwattch2/pkg/protocol"
)

// Model identifies a supported RATOC Systems device family.
type Model string

const (
	ModelBTWATTCH2 Model = "btwattch2"
	ModelBTEVS1    Model = "btevs1"
)

// Models lists every supported model.
var Models = []Model{ModelBTWATTCH2, ModelBTEVS1}

var productNames = map[Model]string{
	ModelBTWATTCH2: "RS-BTWATTCH2",
	ModelBTEVS1:    "RS-BTEVS1",
}

// ProductName returns the marketing name of m, e.g. "RS-BTWATTCH2".
func (m Model) ProductName() string {
	if name, ok := productNames[m]; ok {
		return name
	}
	return "RATOC Systems Device"
}

func (m Model) Valid() bool {
	_, ok := productNames[m]
	return ok
}

// ParseModel converts a configuration value into a Model.
func ParseModel(value string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(value)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: '%s'", protocol.ErrUnknownModel, value)
	}
	return m, nil
}

// Identify guesses the model of an advertiser from its local name and, failing that, from the
// length of its manufacturer payload.
func Identify(localName string, payload []byte) (Model, bool) {
	name := strings.ToUpper(localName)
	switch {
	case strings.Contains(name, "BTWATTCH2"):
		return ModelBTWATTCH2, true
	case strings.Contains(name, "BTEVS1"):
		return ModelBTEVS1, true
	}

	switch n := len(payload); {
	case n == WattFrameLength:
		return ModelBTWATTCH2, true
	case n == airQualityShortLength || n >= airQualityLongLength:
		return ModelBTEVS1, true
	}
	return "", false
}

// Parse decodes payload according to model.
func Parse(model Model, payload []byte) (Reading, error) {
	var (
		reading Reading
		err     error
	)
	switch model {
	case ModelBTWATTCH2:
		reading, err = Decode(payload)
	case ModelBTEVS1:
		reading, err = DecodeAirQuality(payload)
	default:
		return nil, fmt.Errorf("%w: '%s'", protocol.ErrUnknownModel, model)
	}
	if err != nil {
		return nil, err
	}
	return reading, nil
}
