package ltc2633

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrConfiguration is wrapped by every error produced while interpreting an
// address, resolution, or rate
var ErrConfiguration = errors.New("ltc2633: illegal configuration")

// Config holds the per-device settings.  It is a plain value; each DAC carries
// its own copy, so any number of independently configured devices may share a
// process.
type Config struct {
	// Address is the I2C address of the chip
	Address Address

	// Resolution is the bit depth of the part, 8, 10, or 12
	Resolution Resolution

	// Rate is the bus clock
	Rate Rate
}

// DefaultConfig is the global address, 12 bits, standard mode
func DefaultConfig() Config {
	return Config{
		Address:    DefaultAddress,
		Resolution: DefaultResolution,
		Rate:       DefaultRate,
	}
}

// Normalize replaces any illegal field with its default.  It never fails.
func (c Config) Normalize() Config {
	if !c.Address.Valid() {
		c.Address = DefaultAddress
	}
	if !c.Resolution.Valid() {
		c.Resolution = DefaultResolution
	}
	if c.Rate != RateStandard && c.Rate != RateFast {
		c.Rate = DefaultRate
	}
	return c
}

// ParseAddress interprets the name of the CA0 strapping (gnd, nc, vcc, global)
// or a numeric address such as 0x12.  On failure it returns DefaultAddress and
// an error wrapping ErrConfiguration, leaving the caller to decide whether the
// substitution is acceptable.
func ParseAddress(s string) (Address, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gnd", "ground":
		return AddressGND, nil
	case "nc", "float", "floating":
		return AddressNC, nil
	case "vcc":
		return AddressVCC, nil
	case "global", "all", "":
		return AddressGlobal, nil
	}
	u, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return DefaultAddress, fmt.Errorf("%w: address %q: %v", ErrConfiguration, s, err)
	}
	a := Address(u)
	if !a.Valid() {
		return DefaultAddress, fmt.Errorf("%w: address %#02x is not one of 0x10, 0x11, 0x12, 0x73", ErrConfiguration, u)
	}
	return a, nil
}

// ParseResolution converts an integer bit depth to a Resolution.  Illegal
// values produce DefaultResolution and an error wrapping ErrConfiguration.
func ParseResolution(bits int) (Resolution, error) {
	r := Resolution(bits)
	if bits < 0 || bits > 0xFF || !r.Valid() {
		return DefaultResolution, fmt.Errorf("%w: resolution %d is not 8, 10, or 12", ErrConfiguration, bits)
	}
	return r, nil
}

// ParseRate understands "standard", "slow", "fast" and frequencies such as
// "100kHz" or "400kHz".  An empty string is DefaultRate.
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return DefaultRate, nil
	case "standard", "slow":
		return RateStandard, nil
	case "fast":
		return RateFast, nil
	}
	var f Rate
	if err := f.Set(s); err != nil {
		return DefaultRate, fmt.Errorf("%w: rate %q: %v", ErrConfiguration, s, err)
	}
	if f != RateStandard && f != RateFast {
		return DefaultRate, fmt.Errorf("%w: rate %s is not 100kHz or 400kHz", ErrConfiguration, f)
	}
	return f, nil
}
