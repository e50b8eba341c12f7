package comm

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// SC18IM700 ASCII commands and registers
const (
	bridgeStart    = 'S'
	bridgeStop     = 'P'
	bridgeReadReg  = 'R'
	bridgeWriteReg = 'W'

	regI2CClkL = 0x07
	regI2CClkH = 0x08
	regI2CStat = 0x0A

	// status values of I2CStat
	statOK          = 0xF0
	statNackAddress = 0xF1
	statNackData    = 0xF2
	statTimeout     = 0xF8

	// bridgeOsc is the internal oscillator of the SC18IM700.
	// fSCL = bridgeOsc / (2 * (I2CClkL + I2CClkH))
	bridgeOsc = 7372800 * physic.Hertz

	// minimum legal value of each of I2CClkL and I2CClkH
	minClkHalf = 5

	// DefaultBridgeBaud is the power-on baud rate of the SC18IM700
	DefaultBridgeBaud = 9600
)

/*Bridge is a Transactor for an NXP SC18IM700 UART to I2C bridge.

The bridge may be wired straight to a serial port or sit behind a terminal
server.  Each transaction is sent as

	'S' (addr<<1) n data[0] ... data[n-1] 'P'

after which I2CStat is read back so that a missing acknowledge is reported as
ErrNack instead of being silently lost.
*/
type Bridge struct {
	RemoteDevice

	mu      sync.Mutex
	open    bool
	addr    uint16
	pending []byte
}

// NewBridge creates a new Bridge.  addr is a serial port name if serial is
// true, otherwise a TCP address.  The connection is opened on first use.
func NewBridge(addr string, serial bool, baud int) *Bridge {
	if baud <= 0 {
		baud = DefaultBridgeBaud
	}
	return &Bridge{RemoteDevice: NewRemoteDevice(addr, serial, baud)}
}

// Begin starts a transaction with the device at addr
func (b *Bridge) Begin(addr uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = true
	b.addr = addr
	b.pending = b.pending[:0]
	return nil
}

// WriteByte queues c for the open transaction
func (b *Bridge) WriteByte(c byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return ErrNoTransaction
	}
	b.pending = append(b.pending, c)
	return nil
}

// End sends the queued bytes to the device and checks for an acknowledge
func (b *Bridge) End() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return ErrNoTransaction
	}
	b.open = false
	if len(b.pending) > 0xFF {
		return fmt.Errorf("comm: bridge transactions are limited to 255 bytes, got %d", len(b.pending))
	}
	msg := make([]byte, 0, len(b.pending)+4)
	msg = append(msg, bridgeStart, byte(b.addr<<1), byte(len(b.pending)))
	msg = append(msg, b.pending...)
	msg = append(msg, bridgeStop)
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if err := b.Send(msg); err != nil {
		b.RemoteDevice.Close()
		return err
	}
	stat, err := b.readRegister(regI2CStat)
	if err != nil {
		b.RemoteDevice.Close()
		return err
	}
	return statusErr(stat, b.addr)
}

// SetSpeed programs the I2C clock divider of the bridge.  The closest rate at
// or below f is chosen, limited by the 5-count minimum of each half period.
func (b *Bridge) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("comm: invalid bus speed %s", f)
	}
	lo, hi := ClockDivisors(f)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpen(); err != nil {
		return err
	}
	err := b.Send([]byte{bridgeWriteReg, regI2CClkL, lo, regI2CClkH, hi, bridgeStop})
	if err != nil {
		b.RemoteDevice.Close()
	}
	return err
}

// Close the connection to the bridge
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.RemoteDevice.Close()
}

// ClockDivisors computes I2CClkL and I2CClkH for a bus speed of f
func ClockDivisors(f physic.Frequency) (lo, hi byte) {
	sum := int64((bridgeOsc + 2*f - 1) / (2 * f)) // ceil, so the result is never faster than f
	if sum < 2*minClkHalf {
		sum = 2 * minClkHalf
	}
	if sum > 2*0xFF {
		sum = 2 * 0xFF
	}
	l := sum / 2
	return byte(l), byte(sum - l)
}

func (b *Bridge) ensureOpen() error {
	if b.Conn != nil {
		return nil
	}
	return b.Open()
}

func (b *Bridge) readRegister(reg byte) (byte, error) {
	if err := b.Send([]byte{bridgeReadReg, reg, bridgeStop}); err != nil {
		return 0, err
	}
	resp, err := b.Recv(1)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

func statusErr(stat byte, addr uint16) error {
	switch stat {
	case statOK:
		return nil
	case statNackAddress:
		return fmt.Errorf("%w: address %#02x", ErrNack, addr)
	case statNackData:
		return fmt.Errorf("%w: data byte to %#02x", ErrNack, addr)
	case statTimeout:
		return fmt.Errorf("comm: bridge reported I2C timeout talking to %#02x", addr)
	}
	return fmt.Errorf("comm: bridge reported unknown status %#02x", stat)
}
