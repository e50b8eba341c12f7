package ltc2633_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/minidac/comm"
	"github.com/nasa-jpl/minidac/ltc2633"

	"periph.io/x/conn/v3/physic"
)

func newDAC(res ltc2633.Resolution) (*ltc2633.DAC, *ltc2633.MockBus) {
	bus := ltc2633.NewMockBus()
	cfg := ltc2633.DefaultConfig()
	cfg.Resolution = res
	return ltc2633.New(bus, cfg), bus
}

func TestDACOperations(t *testing.T) {
	tests := []struct {
		name     string
		res      ltc2633.Resolution
		op       func(d *ltc2633.DAC) error
		expected ltc2633.Frame
	}{
		{"write 0 A", 12, func(d *ltc2633.DAC) error { return d.Write(0, ltc2633.ChannelA) }, ltc2633.Frame{0x30, 0x00, 0x00}},
		{"write 4095 A", 12, func(d *ltc2633.DAC) error { return d.Write(4095, ltc2633.ChannelA) }, ltc2633.Frame{0x30, 0xFF, 0xF0}},
		{"write 1023 both", 10, func(d *ltc2633.DAC) error { return d.Write(1023, ltc2633.ChannelBoth) }, ltc2633.Frame{0x3F, 0xFF, 0xC0}},
		{"write clamps", 8, func(d *ltc2633.DAC) error { return d.Write(100000, ltc2633.ChannelB) }, ltc2633.Frame{0x31, 0xFF, 0x00}},
		{"store", 12, func(d *ltc2633.DAC) error { return d.Store(2048, ltc2633.ChannelB) }, ltc2633.Frame{0x01, 0x80, 0x00}},
		{"update", 12, func(d *ltc2633.DAC) error { return d.Update(ltc2633.ChannelBoth) }, ltc2633.Frame{0x1F}},
		{"write update all", 12, func(d *ltc2633.DAC) error { return d.WriteUpdateAll(1, ltc2633.ChannelA) }, ltc2633.Frame{0x20, 0x00, 0x10}},
		{"power down", 12, func(d *ltc2633.DAC) error { return d.PowerDown(ltc2633.ChannelA) }, ltc2633.Frame{0x40}},
		{"power off 8 bit", 8, func(d *ltc2633.DAC) error { return d.PowerOff() }, ltc2633.Frame{0x05}},
		{"power off 12 bit", 12, func(d *ltc2633.DAC) error { return d.PowerOff() }, ltc2633.Frame{0x05}},
		{"internal reference", 12, func(d *ltc2633.DAC) error { return d.InternalReference() }, ltc2633.Frame{0x6F}},
		{"external reference", 12, func(d *ltc2633.DAC) error { return d.ExternalReference() }, ltc2633.Frame{0x7F}},
		{"no op", 12, func(d *ltc2633.DAC) error { return d.NoOp() }, ltc2633.Frame{0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, bus := newDAC(tt.res)
			if err := tt.op(d); err != nil {
				t.Fatal(err)
			}
			if len(bus.Transactions) != 1 {
				t.Fatalf("expected exactly one transaction, got %d", len(bus.Transactions))
			}
			tx := bus.Transactions[0]
			if tx.Addr != uint16(ltc2633.AddressGlobal) {
				t.Errorf("expected address %#02x, got %#02x", ltc2633.AddressGlobal, tx.Addr)
			}
			if diff := cmp.Diff(tt.expected, tx.Frame); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDACUsesConfiguredAddress(t *testing.T) {
	d, bus := newDAC(12)
	d.SetAddress(ltc2633.AddressVCC)
	d.Update(ltc2633.ChannelA)
	last, err := bus.Last()
	if err != nil {
		t.Fatal(err)
	}
	if last.Addr != 0x12 {
		t.Errorf("expected address 0x12, got %#02x", last.Addr)
	}
}

func TestDACSettersSubstituteDefaults(t *testing.T) {
	d, _ := newDAC(8)
	if err := d.SetAddress(ltc2633.Address(0x40)); err != nil {
		t.Errorf("SetAddress should never fail, got %v", err)
	}
	if d.Address() != ltc2633.DefaultAddress {
		t.Errorf("expected illegal address to become %s, got %s", ltc2633.DefaultAddress, d.Address())
	}
	if err := d.SetResolution(ltc2633.Resolution(16)); err != nil {
		t.Errorf("SetResolution should never fail, got %v", err)
	}
	if d.Resolution() != ltc2633.DefaultResolution {
		t.Errorf("expected illegal resolution to become 12, got %d", d.Resolution())
	}
}

func TestNewNormalizesConfig(t *testing.T) {
	d := ltc2633.New(ltc2633.NewMockBus(), ltc2633.Config{Address: 1, Resolution: 3, Rate: physic.MegaHertz})
	expected := ltc2633.DefaultConfig()
	if d.Config() != expected {
		t.Errorf("expected %+v, got %+v", expected, d.Config())
	}
}

func TestDACSetRateForwards(t *testing.T) {
	d, bus := newDAC(12)
	if err := d.SetRate(ltc2633.RateFast); err != nil {
		t.Fatal(err)
	}
	if bus.Speed != ltc2633.RateFast || d.Rate() != ltc2633.RateFast {
		t.Errorf("expected 400kHz on bus and device, got %s and %s", bus.Speed, d.Rate())
	}
	d.SetRate(123 * physic.KiloHertz)
	if bus.Speed != ltc2633.RateStandard {
		t.Errorf("expected illegal rate to become 100kHz, got %s", bus.Speed)
	}
}

func TestDACTransportErrorsPassThrough(t *testing.T) {
	sentinel := errors.New("bus on fire")

	d, bus := newDAC(12)
	bus.ErrBegin = sentinel
	if err := d.Write(1, ltc2633.ChannelA); err != sentinel {
		t.Errorf("expected begin error unchanged, got %v", err)
	}

	d, bus = newDAC(12)
	bus.ErrWrite = sentinel
	if err := d.Write(1, ltc2633.ChannelA); err != sentinel {
		t.Errorf("expected write error unchanged, got %v", err)
	}
	if len(bus.Transactions) != 0 {
		t.Error("a failed write must not complete the transaction")
	}

	d, bus = newDAC(12)
	bus.ErrEnd = comm.ErrNack
	if err := d.PowerOff(); !errors.Is(err, comm.ErrNack) {
		t.Errorf("expected ErrNack, got %v", err)
	}
}

func TestDACIsStateless(t *testing.T) {
	d, bus := newDAC(12)
	d.Store(100, ltc2633.ChannelA)
	d.Store(100, ltc2633.ChannelA)
	if len(bus.Transactions) != 2 {
		t.Errorf("expected repeated calls to each reach the bus, got %d transactions", len(bus.Transactions))
	}
}

func TestCodeFor(t *testing.T) {
	d, _ := newDAC(12)
	tests := []struct {
		v    physic.ElectricPotential
		code uint64
	}{
		{0, 0},
		{-physic.Volt, 0},
		{ltc2633.DefaultVRef, 4095},
		{2 * ltc2633.DefaultVRef, 4095},
		{1250 * physic.MilliVolt, 2048},
	}
	for _, tt := range tests {
		if got := d.CodeFor(tt.v); got != tt.code {
			t.Errorf("CodeFor(%s): expected %d, got %d", tt.v, tt.code, got)
		}
	}
}

func TestOutputAndDN16(t *testing.T) {
	d, bus := newDAC(10)
	if err := d.Output(1, 2.5); err != nil {
		t.Fatal(err)
	}
	if err := d.OutputDN16(0, 0xFFFF); err != nil {
		t.Fatal(err)
	}
	if err := d.Output(2, 1); !errors.Is(err, ltc2633.ErrInvalidChannel) {
		t.Errorf("expected ErrInvalidChannel, got %v", err)
	}
	expected := []ltc2633.Frame{
		{0x31, 0xFF, 0xC0},
		{0x30, 0xFF, 0xC0},
	}
	got := []ltc2633.Frame{}
	for _, tx := range bus.Transactions {
		got = append(got, tx.Frame)
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentHandlesAreIndependent(t *testing.T) {
	bus := ltc2633.NewMockBus()
	a := ltc2633.New(bus, ltc2633.Config{Address: ltc2633.AddressGND, Resolution: 8})
	b := ltc2633.New(bus, ltc2633.Config{Address: ltc2633.AddressNC, Resolution: 12})
	a.Write(255, ltc2633.ChannelA)
	b.Write(255, ltc2633.ChannelA)
	expected := []ltc2633.Transaction{
		{Addr: 0x10, Frame: ltc2633.Frame{0x30, 0xFF, 0x00}},
		{Addr: 0x11, Frame: ltc2633.Frame{0x30, 0x0F, 0xF0}},
	}
	if diff := cmp.Diff(expected, bus.Transactions); diff != "" {
		t.Errorf("transactions mismatch (-want +got):\n%s", diff)
	}
}

func TestSetVRef(t *testing.T) {
	d, _ := newDAC(12)
	d.SetVRef(5 * physic.Volt)
	if got := d.CodeFor(2500 * physic.MilliVolt); got != 2048 {
		t.Errorf("expected half scale at 5V reference, got %d", got)
	}
	d.SetVRef(0)
	if d.VRef() != ltc2633.DefaultVRef {
		t.Errorf("expected a zero reference to restore the default, got %s", d.VRef())
	}
}

func TestOutputMultiChecksChannelsFirst(t *testing.T) {
	d, bus := newDAC(12)
	err := d.OutputMulti([]int{0, 7}, []float64{1, 1})
	if !errors.Is(err, ltc2633.ErrInvalidChannel) {
		t.Errorf("expected ErrInvalidChannel, got %v", err)
	}
	if len(bus.Transactions) != 0 {
		t.Errorf("expected nothing sent, got %v", bus.Transactions)
	}
	if err := d.OutputMulti([]int{0}, []float64{1, 2}); err == nil {
		t.Error("expected an error for mismatched lengths")
	}
}

func TestOutputMultiWrapsTransportErrors(t *testing.T) {
	d, bus := newDAC(12)
	bus.ErrEnd = comm.ErrNack
	err := d.OutputMultiDN16([]int{1}, []uint16{0x8000})
	if !errors.Is(err, comm.ErrNack) {
		t.Errorf("expected ErrNack, got %v", err)
	}
}

func TestRaw(t *testing.T) {
	d, bus := newDAC(12)
	s, err := d.Raw("6f")
	if err != nil {
		t.Fatal(err)
	}
	if s != "0x6f" {
		t.Errorf("expected the sent frame back, got %q", s)
	}
	if _, err := d.Raw("not hex"); err == nil {
		t.Error("expected an error for a malformed frame")
	}
	if len(bus.Transactions) != 1 {
		t.Errorf("expected one transaction, got %d", len(bus.Transactions))
	}
}

func TestOutputClampsOutOfRangeVoltages(t *testing.T) {
	tests := []struct {
		name     string
		volts    float64
		expected ltc2633.Frame
	}{
		{"above reference", 3, ltc2633.Frame{0x30, 0xFF, 0xF0}},
		{"beyond ElectricPotential", 1e10, ltc2633.Frame{0x30, 0xFF, 0xF0}},
		{"+Inf", math.Inf(1), ltc2633.Frame{0x30, 0xFF, 0xF0}},
		{"-Inf", math.Inf(-1), ltc2633.Frame{0x30, 0x00, 0x00}},
		{"large negative", -1e10, ltc2633.Frame{0x30, 0x00, 0x00}},
		{"NaN", math.NaN(), ltc2633.Frame{0x30, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, bus := newDAC(12)
			if err := d.Output(0, tt.volts); err != nil {
				t.Fatal(err)
			}
			last, err := bus.Last()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.expected, last.Frame); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOutputMultiClampsHugeVoltages(t *testing.T) {
	d, bus := newDAC(12)
	if err := d.OutputMulti([]int{0, 1}, []float64{1e12, math.Inf(1)}); err != nil {
		t.Fatal(err)
	}
	expected := []ltc2633.Frame{{0x00, 0xFF, 0xF0}, {0x01, 0xFF, 0xF0}, {0x1F}}
	got := []ltc2633.Frame{}
	for _, tx := range bus.Transactions {
		got = append(got, tx.Frame)
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestVRefFromVolts(t *testing.T) {
	tests := []struct {
		volts    float64
		expected physic.ElectricPotential
		ok       bool
	}{
		{2.5, 2500 * physic.MilliVolt, true},
		{4.096, 4096 * physic.MilliVolt, true},
		{5.5, ltc2633.MaxVRef, true},
		{0, ltc2633.DefaultVRef, false},
		{-1, ltc2633.DefaultVRef, false},
		{6, ltc2633.DefaultVRef, false},
		{1e300, ltc2633.DefaultVRef, false},
		{math.Inf(1), ltc2633.DefaultVRef, false},
		{math.NaN(), ltc2633.DefaultVRef, false},
	}
	for _, tt := range tests {
		v, err := ltc2633.VRefFromVolts(tt.volts)
		if v != tt.expected {
			t.Errorf("VRefFromVolts(%v): expected %s, got %s", tt.volts, tt.expected, v)
		}
		if (err == nil) != tt.ok {
			t.Errorf("VRefFromVolts(%v): unexpected error %v", tt.volts, err)
		}
		if err != nil && !errors.Is(err, ltc2633.ErrConfiguration) {
			t.Errorf("VRefFromVolts(%v): expected ErrConfiguration, got %v", tt.volts, err)
		}
	}
}
