package ltc2633

import (
	"errors"
	"sync"

	"github.com/nasa-jpl/minidac/comm"

	"periph.io/x/conn/v3/physic"
)

// Transaction is one completed bus transaction recorded by MockBus
type Transaction struct {
	Addr  uint16
	Frame Frame
}

// MockBus is a comm.Transactor that records transactions instead of talking
// to hardware.  Set the Err* fields to make the matching step fail.
type MockBus struct {
	sync.Mutex

	// Transactions holds every transaction that reached End without error
	Transactions []Transaction

	// Speed is the last value given to SetSpeed
	Speed physic.Frequency

	ErrBegin error
	ErrWrite error
	ErrEnd   error

	open    bool
	addr    uint16
	pending []byte
}

// NewMockBus returns an empty MockBus
func NewMockBus() *MockBus {
	return &MockBus{}
}

// Begin starts a transaction, discarding any abandoned one
func (m *MockBus) Begin(addr uint16) error {
	m.Lock()
	defer m.Unlock()
	if m.ErrBegin != nil {
		return m.ErrBegin
	}
	m.open = true
	m.addr = addr
	m.pending = m.pending[:0]
	return nil
}

// WriteByte queues a byte in the open transaction
func (m *MockBus) WriteByte(b byte) error {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return comm.ErrNoTransaction
	}
	if m.ErrWrite != nil {
		m.open = false
		return m.ErrWrite
	}
	m.pending = append(m.pending, b)
	return nil
}

// End completes the transaction and records it
func (m *MockBus) End() error {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return comm.ErrNoTransaction
	}
	m.open = false
	if m.ErrEnd != nil {
		return m.ErrEnd
	}
	f := make(Frame, len(m.pending))
	copy(f, m.pending)
	m.Transactions = append(m.Transactions, Transaction{Addr: m.addr, Frame: f})
	return nil
}

// SetSpeed records the bus clock
func (m *MockBus) SetSpeed(f physic.Frequency) error {
	m.Lock()
	defer m.Unlock()
	m.Speed = f
	return nil
}

// Last returns the most recent transaction
func (m *MockBus) Last() (Transaction, error) {
	m.Lock()
	defer m.Unlock()
	if len(m.Transactions) == 0 {
		return Transaction{}, errors.New("ltc2633: mock bus has seen no transactions")
	}
	return m.Transactions[len(m.Transactions)-1], nil
}

// Reset forgets all recorded transactions
func (m *MockBus) Reset() {
	m.Lock()
	defer m.Unlock()
	m.Transactions = nil
}
