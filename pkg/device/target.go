// Package device identifies the physical devices the bridge reads from.
package device

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

var (
	ErrInvalidMAC = errors.New("invalid MAC address")

	macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
	nonHex     = regexp.MustCompile(`[^0-9A-Fa-f]`)
)

// Target identifies which physical device a session reads from. Targets are created by the
// configuration flows and are never mutated afterwards.
type Target struct {
	Address string
	Name    string      // Optional display name.
	Model   frame.Model // Optional; identified from advertisements when empty.
}

// NewTarget validates address and returns a Target for it.
func NewTarget(address, name string, model frame.Model) (Target, error) {
	address = NormalizeMAC(address)
	if !ValidMAC(address) {
		return Target{}, fmt.Errorf("%w: '%s'", ErrInvalidMAC, address)
	}
	return Target{Address: address, Name: name, Model: model}, nil
}

// DisplayName returns t.Name, or a default derived from the model and address.
func (t Target) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return DefaultName(t.Model, t.Address)
}

// UniqueID returns the identifier used to detect duplicate configuration of the same device.
func (t Target) UniqueID() string {
	return UniqueID(t.Address)
}

// Matches returns true if address refers to t.
func (t Target) Matches(address string) bool {
	return strings.EqualFold(NormalizeMAC(address), t.Address)
}

// NormalizeMAC converts address into upper-case colon-separated form. Inputs that do not contain
// exactly twelve hex digits are returned unchanged so that validation can reject them.
func NormalizeMAC(address string) string {
	cleaned := nonHex.ReplaceAllString(address, "")
	if len(cleaned) != 12 {
		return address
	}
	cleaned = strings.ToUpper(cleaned)
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, cleaned[i:i+2])
	}
	return strings.Join(parts, ":")
}

// ValidMAC returns true if address is in colon-separated form.
func ValidMAC(address string) bool {
	return macPattern.MatchString(address)
}

// UniqueID strips separators from address and lower-cases it.
func UniqueID(address string) string {
	return strings.ToLower(strings.ReplaceAll(address, ":", ""))
}

// DefaultName names a device that did not advertise a local name, e.g. "RS-BTWATTCH2 33:44:55".
func DefaultName(model frame.Model, address string) string {
	if model == "" {
		model = frame.ModelBTWATTCH2
	}
	suffix := address
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return fmt.Sprintf("%s %s", model.ProductName(), strings.ToUpper(suffix))
}
