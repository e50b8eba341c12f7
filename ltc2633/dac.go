package ltc2633

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nasa-jpl/minidac/comm"
	"github.com/nasa-jpl/minidac/mathx"

	"periph.io/x/conn/v3/physic"
)

// DefaultVRef is the internal reference of the LTC2633-L.  The -H parts use
// 4.096 V.
const DefaultVRef = 2500 * physic.MilliVolt

// MaxVRef is the absolute maximum supply of the part, above which no
// reference can be
const MaxVRef = 5500 * physic.MilliVolt

// ErrInvalidChannel is generated when an integer channel index is not 0, 1, or 15
var ErrInvalidChannel = errors.New("ltc2633: channel must be 0 (A), 1 (B), or 15 (both)")

// ChannelFromIndex maps 0 => A, 1 => B, 15 => Both
func ChannelFromIndex(i int) (Channel, error) {
	switch i {
	case 0:
		return ChannelA, nil
	case 1:
		return ChannelB, nil
	case int(ChannelBoth):
		return ChannelBoth, nil
	}
	return ChannelBoth, fmt.Errorf("%w, got %d", ErrInvalidChannel, i)
}

/*DAC is a single LTC2633 on a bus.

Every command performs exactly one bus transaction and caches nothing; the
chip's own input and DAC registers are the only state.  OutputMulti and
OutputMultiDN16 are sequences of commands sent without releasing the device.
The device is concurrent safe, calls are serialized in the order they
acquire the lock.
*/
type DAC struct {
	mu  sync.Mutex
	tx  comm.Transactor
	cfg Config

	// vref is the reference voltage used by Output and CodeFor
	vref physic.ElectricPotential
}

// New creates a DAC talking over tx.  Illegal fields of cfg are replaced by
// their defaults.  The rate is not pushed to the bus until SetRate is called.
func New(tx comm.Transactor, cfg Config) *DAC {
	return &DAC{tx: tx, cfg: cfg.Normalize(), vref: DefaultVRef}
}

// Config returns a copy of the current configuration
func (d *DAC) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetAddress changes the I2C address used by subsequent transactions.
// An illegal address is replaced by DefaultAddress; the error is always nil.
func (d *DAC) SetAddress(a Address) error {
	if !a.Valid() {
		a = DefaultAddress
	}
	d.mu.Lock()
	d.cfg.Address = a
	d.mu.Unlock()
	return nil
}

// Address returns the I2C address of the device
func (d *DAC) Address() Address {
	return d.Config().Address
}

// SetResolution changes the bit depth used to scale codes.
// An illegal resolution is replaced by DefaultResolution; the error is always nil.
func (d *DAC) SetResolution(r Resolution) error {
	if !r.Valid() {
		r = DefaultResolution
	}
	d.mu.Lock()
	d.cfg.Resolution = r
	d.mu.Unlock()
	return nil
}

// Resolution returns the bit depth of the device
func (d *DAC) Resolution() Resolution {
	return d.Config().Resolution
}

// SetRate changes the bus clock.  Rates other than 100 kHz and 400 kHz are
// replaced by DefaultRate.  If the transactor can change its clock the new
// rate is forwarded to it and any error it returns is returned unchanged.
func (d *DAC) SetRate(r Rate) error {
	if r != RateStandard && r != RateFast {
		r = DefaultRate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Rate = r
	if s, ok := d.tx.(comm.SpeedSetter); ok {
		return s.SetSpeed(r)
	}
	return nil
}

// Rate returns the configured bus clock
func (d *DAC) Rate() Rate {
	return d.Config().Rate
}

// send runs one transaction.  The lock must be held.
func (d *DAC) send(f Frame) error {
	if err := d.tx.Begin(uint16(d.cfg.Address)); err != nil {
		return err
	}
	for _, b := range f {
		if err := d.tx.WriteByte(b); err != nil {
			return err
		}
	}
	return d.tx.End()
}

func (d *DAC) control(op Opcode, ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(ControlFrame(op, ch))
}

func (d *DAC) data(op Opcode, ch Channel, code uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(DataFrame(op, ch, code, d.cfg.Resolution))
}

// Write writes code to channel ch and updates the output immediately.
// Codes above full scale are clamped.
func (d *DAC) Write(code uint64, ch Channel) error {
	return d.data(WriteUpdateOne, ch, code)
}

// Store writes code to the input register of ch without changing the output.
// Use Update to apply it.
func (d *DAC) Store(code uint64, ch Channel) error {
	return d.data(WriteInput, ch, code)
}

// Update copies the input register of ch to its DAC register, powering the
// channel up if it was powered down
func (d *DAC) Update(ch Channel) error {
	return d.control(Update, ch)
}

// WriteUpdateAll writes code to the input register of ch, then updates every
// channel from its input register
func (d *DAC) WriteUpdateAll(code uint64, ch Channel) error {
	return d.data(WriteUpdateAll, ch, code)
}

// PowerDown powers down channel ch.  Update or Write powers it back up.
func (d *DAC) PowerDown(ch Channel) error {
	return d.control(PowerDownOne, ch)
}

// PowerOff powers down both channels and the internal reference
func (d *DAC) PowerOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(PowerOffFrame())
}

// InternalReference selects the internal reference
func (d *DAC) InternalReference() error {
	return d.control(InternalRef, ChannelBoth)
}

// ExternalReference selects the external reference on the REF pin and powers
// down the internal one
func (d *DAC) ExternalReference() error {
	return d.control(ExternalRef, ChannelBoth)
}

// NoOp sends the no-operation command, which is useful to check that
// something acknowledges the address
func (d *DAC) NoOp() error {
	return d.control(NoOp, ChannelBoth)
}

// VRefFromVolts converts a reference voltage in volts, checking that it is
// within (0, MaxVRef]
func VRefFromVolts(volts float64) (physic.ElectricPotential, error) {
	if !(volts > 0) || volts > float64(MaxVRef)/float64(physic.Volt) {
		return DefaultVRef, fmt.Errorf("%w: reference %v V is not within (0, %s]", ErrConfiguration, volts, MaxVRef)
	}
	return physic.ElectricPotential(mathx.Round(volts*float64(physic.Volt), 1)), nil
}

// SetVRef sets the reference voltage used to convert volts to codes.  It does
// not select a reference on the chip; see InternalReference and
// ExternalReference.  Values outside (0, MaxVRef] restore DefaultVRef.
func (d *DAC) SetVRef(v physic.ElectricPotential) {
	if v <= 0 || v > MaxVRef {
		v = DefaultVRef
	}
	d.mu.Lock()
	d.vref = v
	d.mu.Unlock()
}

// VRef returns the reference voltage used to convert volts to codes
func (d *DAC) VRef() physic.ElectricPotential {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vref
}

// CodeFor converts a voltage to the nearest code at the current resolution,
// clamped to [0, full scale]
func (d *DAC) CodeFor(v physic.ElectricPotential) uint64 {
	return d.codeForVolts(float64(v) / float64(physic.Volt))
}

// codeForVolts clamps in float space so that voltages too large for
// physic.ElectricPotential still reach full scale.  NaN is 0.
func (d *DAC) codeForVolts(volts float64) uint64 {
	d.mu.Lock()
	res, vref := d.cfg.Resolution, d.vref
	d.mu.Unlock()
	if !(volts > 0) {
		return 0
	}
	max := res.MaxCode()
	frac := volts / (float64(vref) / float64(physic.Volt))
	if frac >= 1 {
		return max
	}
	code := mathx.Round(frac*float64(max), 1)
	if code >= float64(max) {
		return max
	}
	return uint64(code)
}

// Output writes a voltage to a channel index (0, 1, or 15).
// The error is non-nil if the channel is invalid or the transaction fails.
func (d *DAC) Output(channel int, voltage float64) error {
	ch, err := ChannelFromIndex(channel)
	if err != nil {
		return err
	}
	return d.Write(d.codeForVolts(voltage), ch)
}

// OutputDN16 writes a left-justified 16-bit data number to a channel index.
// The bits below the resolution of the part are discarded.
func (d *DAC) OutputDN16(channel int, value uint16) error {
	ch, err := ChannelFromIndex(channel)
	if err != nil {
		return err
	}
	res := d.Resolution()
	return d.Write(uint64(value>>(16-uint(res))), ch)
}

// OutputMulti stages voltages on several channels and then updates both
// outputs with one command, so they change together.  Every channel is
// checked before anything is sent.  Slices must be of equal length.
func (d *DAC) OutputMulti(channels []int, voltages []float64) error {
	if len(channels) != len(voltages) {
		return fmt.Errorf("ltc2633: %d channels but %d voltages", len(channels), len(voltages))
	}
	codes := make([]uint64, len(voltages))
	for i, v := range voltages {
		codes[i] = d.codeForVolts(v)
	}
	return d.storeAndUpdate(channels, codes)
}

// OutputMultiDN16 is equivalent to OutputMulti, but with left-justified
// 16-bit data numbers instead of volts
func (d *DAC) OutputMultiDN16(channels []int, values []uint16) error {
	if len(channels) != len(values) {
		return fmt.Errorf("ltc2633: %d channels but %d DNs", len(channels), len(values))
	}
	shift := 16 - uint(d.Resolution())
	codes := make([]uint64, len(values))
	for i, v := range values {
		codes[i] = uint64(v >> shift)
	}
	return d.storeAndUpdate(channels, codes)
}

func (d *DAC) storeAndUpdate(channels []int, codes []uint64) error {
	chs := make([]Channel, len(channels))
	for i, c := range channels {
		ch, err := ChannelFromIndex(c)
		if err != nil {
			return err
		}
		chs[i] = ch
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range chs {
		err := d.send(DataFrame(WriteInput, ch, codes[i], d.cfg.Resolution))
		if err != nil {
			return fmt.Errorf("channel %s code %d: %w", ch, codes[i], err)
		}
	}
	return d.send(ControlFrame(Update, ChannelBoth))
}

// Raw sends a frame given as hex bytes, e.g. "30 ff f0" or "0x05", as one
// transaction and returns the frame that was sent.  It bypasses scaling and
// validation and is meant for bench debugging.
func (d *DAC) Raw(s string) (string, error) {
	f, err := ParseFrame(s)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.send(f); err != nil {
		return "", err
	}
	return f.String(), nil
}
