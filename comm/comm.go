/*Package comm provides interfaces and types for talking to lab hardware over
I2C, directly from the host or through a serial/TCP bridge.

The central abstraction is the Transactor, which is a bus reduced to the three
steps of a write-only I2C transaction:

	err := t.Begin(0x73)
	err = t.WriteByte(0x30)
	err = t.WriteByte(0xFF)
	err = t.WriteByte(0xF0)
	err = t.End() // the bytes go out here, in one transaction

Implementations in this package:
	HostBus   a periph.io host bus (Linux i2c-dev, FT232H, ...)
	Bridge    an SC18IM700 UART to I2C bridge on a serial port or terminal server
	Throttle  a rate limit in front of any other Transactor

RemoteDevice is the embeddable connection used by Bridge.  It opens a serial
port or TCP socket with an exponential backoff.
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/nasa-jpl/minidac/util"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"

	"periph.io/x/conn/v3/physic"
)

var (
	// ErrNoSerialConf is generated when IsSerial is true but SerialConf is nil
	ErrNoSerialConf = errors.New("comm: IsSerial=true but no serial configuration was given")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("comm: conn is nil, not connected to remote")

	// ErrNoTransaction is generated when WriteByte or End is called without Begin
	ErrNoTransaction = errors.New("comm: no transaction in progress")

	// ErrNack is generated when the addressed device does not acknowledge
	ErrNack = errors.New("comm: no acknowledge from device")
)

// Transactor is a write-only I2C bus.  A transaction is opened with Begin,
// filled with WriteByte, and sent by End.  A transaction abandoned after a
// failed WriteByte is discarded by the next Begin.
type Transactor interface {
	Begin(addr uint16) error
	WriteByte(b byte) error
	End() error
}

// SpeedSetter is a bus whose clock can be changed
type SpeedSetter interface {
	SetSpeed(f physic.Frequency) error
}

/*RemoteDevice has an address and a connection.

If IsSerial is true, Addr is a serial port name (COM3, /dev/ttyUSB0) and
SerialConf must be set; otherwise Addr is a TCP address, e.g. a port on a
digi portserver.

RemoteDevice is not concurrent safe; the embedding type serializes access.
*/
type RemoteDevice struct {
	Addr       string
	IsSerial   bool
	SerialConf *serial.Config
	Timeout    time.Duration
	Conn       io.ReadWriteCloser
}

// NewRemoteDevice creates a new RemoteDevice instance.  For serial devices the
// configuration is 8N1 at baud with a read timeout equal to the device timeout.
func NewRemoteDevice(addr string, isSerial bool, baud int) RemoteDevice {
	rd := RemoteDevice{
		Addr:     addr,
		IsSerial: isSerial,
		Timeout:  3 * time.Second,
	}
	if isSerial {
		rd.SerialConf = &serial.Config{Name: addr, Baud: baud, ReadTimeout: rd.Timeout}
	}
	return rd
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// we use an exponential backoff, terminal servers
	// do not like being connection thrashed
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") || errors.Is(err, ErrNoSerialConf) {
				wasTimeout = false
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("comm: connection timeout to %s: %w", rd.Addr, err)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		if rd.SerialConf == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.SerialConf)
	} else {
		conn, err = util.TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	return err
}

// Send writes b to the remote as-is
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.deadline()
	_, err := rd.Conn.Write(b)
	return err
}

// Recv reads exactly n bytes from the remote
func (rd *RemoteDevice) Recv(n int) ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	rd.deadline()
	buf := make([]byte, n)
	_, err := io.ReadFull(rd.Conn, buf)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// deadline refreshes the read and write deadlines of network connections
func (rd *RemoteDevice) deadline() {
	if c, ok := rd.Conn.(net.Conn); ok && rd.Timeout > 0 {
		c.SetDeadline(time.Now().Add(rd.Timeout))
	}
}
