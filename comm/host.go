package comm

import (
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// HostBus is a Transactor over an I2C bus owned by this computer, opened
// through periph.io.  Queued bytes are sent with a single Tx in End, so every
// transaction is one START ... STOP on the wire.
type HostBus struct {
	// Name is the periph bus name, e.g. "" for the first bus or "/dev/i2c-1"
	Name string

	mu      sync.Mutex
	bus     i2c.Bus
	closer  func() error
	speed   physic.Frequency
	open    bool
	addr    uint16
	pending []byte
}

// NewHostBus creates a HostBus for the named bus.  The host drivers are
// initialized and the bus opened on first use.
func NewHostBus(name string) *HostBus {
	return &HostBus{Name: name}
}

// NewHostBusFrom wraps an already open bus
func NewHostBusFrom(bus i2c.Bus) *HostBus {
	return &HostBus{Name: bus.String(), bus: bus}
}

// Open initializes periph and opens the bus, if it is not already open
func (h *HostBus) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ensureOpen()
}

func (h *HostBus) ensureOpen() error {
	if h.bus != nil {
		return nil
	}
	if _, err := host.Init(); err != nil {
		return err
	}
	bc, err := i2creg.Open(h.Name)
	if err != nil {
		return err
	}
	h.bus = bc
	h.closer = bc.Close
	if h.speed != 0 {
		return h.bus.SetSpeed(h.speed)
	}
	return nil
}

// Begin starts a transaction with the device at addr
func (h *HostBus) Begin(addr uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = true
	h.addr = addr
	h.pending = h.pending[:0]
	return nil
}

// WriteByte queues b for the open transaction
func (h *HostBus) WriteByte(b byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return ErrNoTransaction
	}
	h.pending = append(h.pending, b)
	return nil
}

// End writes the queued bytes to the device in one transaction
func (h *HostBus) End() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return ErrNoTransaction
	}
	h.open = false
	if err := h.ensureOpen(); err != nil {
		return err
	}
	return h.bus.Tx(h.addr, h.pending, nil)
}

// SetSpeed changes the bus clock.  If the bus is not open yet the speed is
// applied when it is.
func (h *HostBus) SetSpeed(f physic.Frequency) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speed = f
	if h.bus == nil {
		return nil
	}
	return h.bus.SetSpeed(f)
}

// Close releases the bus if this HostBus opened it
func (h *HostBus) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closer == nil {
		return nil
	}
	err := h.closer()
	h.bus = nil
	h.closer = nil
	return err
}
