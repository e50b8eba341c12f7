/*Package ltc2633 drives the Linear Technology LTC2633 family of dual 8-, 10-,
and 12-bit voltage output DACs over I2C.

The chip is write-only from the point of view of this package.  Every operation
is a single bus transaction carrying either a lone command byte or a command
byte followed by two data bytes:

	control frame: [command]
	data frame:    [command, data high, data low]

The command byte packs a 4-bit opcode above a 4-bit channel select.  The data
register is always 16 bits wide and left-justified, so a 10-bit code of 1023 is
sent as 0xFFC0.

Most usages look like:

	bus := comm.NewHostBus("")
	dac := ltc2633.New(bus, ltc2633.DefaultConfig())
	err := dac.Write(2048, ltc2633.ChannelA)
*/
package ltc2633

import (
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/physic"
)

// Address is the 7-bit I2C address of the chip, selected by the CA0 pin
type Address uint16

const (
	// AddressGND is CA0 tied to ground
	AddressGND Address = 0x10

	// AddressNC is CA0 floating
	AddressNC Address = 0x11

	// AddressVCC is CA0 tied to VCC
	AddressVCC Address = 0x12

	// AddressGlobal is answered by every LTC2633 on the bus regardless of CA0
	AddressGlobal Address = 0x73

	// DefaultAddress is used when no (or an illegal) address is configured
	DefaultAddress = AddressGlobal
)

// Valid returns true if a is one of the four addresses the chip answers to
func (a Address) Valid() bool {
	switch a {
	case AddressGND, AddressNC, AddressVCC, AddressGlobal:
		return true
	}
	return false
}

func (a Address) String() string {
	switch a {
	case AddressGND:
		return "gnd"
	case AddressNC:
		return "nc"
	case AddressVCC:
		return "vcc"
	case AddressGlobal:
		return "global"
	}
	return fmt.Sprintf("Address(%#02x)", uint16(a))
}

// Resolution is the number of significant bits in an output code
type Resolution uint8

const (
	// Resolution8 is the LTC2633-x8
	Resolution8 Resolution = 8

	// Resolution10 is the LTC2633-x10
	Resolution10 Resolution = 10

	// Resolution12 is the LTC2633-x12
	Resolution12 Resolution = 12

	// DefaultResolution is used when no (or an illegal) resolution is configured
	DefaultResolution = Resolution12
)

// Valid returns true if r is 8, 10, or 12
func (r Resolution) Valid() bool {
	return r == Resolution8 || r == Resolution10 || r == Resolution12
}

// MaxCode is the largest code representable at this resolution, 2^r - 1
func (r Resolution) MaxCode() uint64 {
	return 1<<uint(r) - 1
}

// Rate is the I2C clock frequency
type Rate = physic.Frequency

const (
	// RateStandard is standard mode, 100 kHz
	RateStandard Rate = 100 * physic.KiloHertz

	// RateFast is fast mode, 400 kHz
	RateFast Rate = 400 * physic.KiloHertz

	// DefaultRate is the rate used when none is configured
	DefaultRate = RateStandard
)

// Channel selects which DAC register(s) a command targets
type Channel uint8

const (
	// ChannelA is DAC A
	ChannelA Channel = 0x00

	// ChannelB is DAC B
	ChannelB Channel = 0x01

	// ChannelBoth addresses DAC A and DAC B together
	ChannelBoth Channel = 0x0F
)

// Valid returns true if c is A, B, or Both
func (c Channel) Valid() bool {
	return c == ChannelA || c == ChannelB || c == ChannelBoth
}

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	case ChannelBoth:
		return "Both"
	}
	return fmt.Sprintf("Channel(%#x)", uint8(c))
}

// Opcode is the 4-bit command selector of the command byte
type Opcode uint8

const (
	// WriteInput writes input register n
	WriteInput Opcode = 0x0

	// Update updates (powers up) DAC register n from its input register
	Update Opcode = 0x1

	// WriteUpdateAll writes input register n and updates all DAC registers
	WriteUpdateAll Opcode = 0x2

	// WriteUpdateOne writes and updates DAC register n
	WriteUpdateOne Opcode = 0x3

	// PowerDownOne powers down DAC n
	PowerDownOne Opcode = 0x4

	// PowerDownAll powers down the whole chip, both DACs and the reference.
	// It is a complete command byte, see PowerDownAllCommand.
	PowerDownAll Opcode = 0x5

	// InternalRef selects (powers up) the internal reference
	InternalRef Opcode = 0x6

	// ExternalRef selects the external reference, powering down the internal one
	ExternalRef Opcode = 0x7

	// NoOp does nothing
	NoOp Opcode = 0xF
)

// PowerDownAllCommand is the full command byte for PowerDownAll.  It carries
// no channel field and is never produced by Encode.
const PowerDownAllCommand byte = 0x05

// Encode packs an opcode and channel into a command byte:
//
//	(op & 0xF) << 4 | (ch & 0xF)
//
// Both fields are truncated to four bits rather than rejected, so values built
// by converting out-of-set integers still produce a byte, just not a meaningful
// one.  Use PowerDownAllCommand for PowerDownAll.
func Encode(op Opcode, ch Channel) byte {
	return byte(op&0xF)<<4 | byte(ch&0xF)
}

// Scale clamps code to [0, 2^res - 1] and left-justifies it in the 16-bit data
// register, returning the high and low bytes in transmission order.
//
// The full scale code at 12 bits is 0xFFF0, not 0xFFFF; the unused low bits
// are always zero.  An illegal resolution is scaled as DefaultResolution.
func Scale(code uint64, res Resolution) (high, low byte) {
	if !res.Valid() {
		res = DefaultResolution
	}
	if max := res.MaxCode(); code > max {
		code = max
	}
	v := uint16(code << (16 - uint(res)))
	return byte(v >> 8), byte(v)
}

// Frame is the ordered byte sequence of one bus transaction
type Frame []byte

// ControlFrame is a command-only frame
func ControlFrame(op Opcode, ch Channel) Frame {
	return Frame{Encode(op, ch)}
}

// DataFrame is a command byte followed by the scaled code
func DataFrame(op Opcode, ch Channel, code uint64, res Resolution) Frame {
	hi, lo := Scale(code, res)
	return Frame{Encode(op, ch), hi, lo}
}

// PowerOffFrame is the frame that powers down the entire chip
func PowerOffFrame() Frame {
	return Frame{PowerDownAllCommand}
}

// IsData returns true if the frame carries data bytes
func (f Frame) IsData() bool {
	return len(f) == 3
}

func (f Frame) String() string {
	return fmt.Sprintf("% #02x", []byte(f))
}

// ParseFrame reads one to three hex bytes separated by spaces or commas,
// with or without a 0x prefix
func ParseFrame(s string) (Frame, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) == 0 || len(fields) > 3 {
		return nil, fmt.Errorf("ltc2633: frame %q must have 1 to 3 bytes", s)
	}
	f := make(Frame, len(fields))
	for i, fld := range fields {
		fld = strings.TrimPrefix(strings.ToLower(fld), "0x")
		u, err := strconv.ParseUint(fld, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("ltc2633: frame %q: %w", s, err)
		}
		f[i] = byte(u)
	}
	return f, nil
}
