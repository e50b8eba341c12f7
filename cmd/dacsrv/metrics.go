package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"periph.io/x/conn/v3/physic"

	"github.com/nasa-jpl/minidac/comm"
)

// Metrics holds the bus counters of every DAC, labeled by endpoint
type Metrics struct {
	frames *prometheus.CounterVec
	bytes  *prometheus.CounterVec
	errors *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dacsrv",
			Name:      "frames_total",
			Help:      "I2C transactions completed without error",
		}, []string{"device"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dacsrv",
			Name:      "bytes_total",
			Help:      "bytes written in completed transactions",
		}, []string{"device"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dacsrv",
			Name:      "transport_errors_total",
			Help:      "transactions which failed at the bus",
		}, []string{"device"}),
	}
	reg.MustRegister(m.frames, m.bytes, m.errors)
	return m
}

// Instrument wraps tx so that its transactions are counted under device
func (m *Metrics) Instrument(tx comm.Transactor, device string) comm.Transactor {
	return &counted{
		Transactor: tx,
		frames:     m.frames.WithLabelValues(device),
		bytes:      m.bytes.WithLabelValues(device),
		errors:     m.errors.WithLabelValues(device),
	}
}

type counted struct {
	comm.Transactor
	frames, bytes, errors prometheus.Counter
	n                     int
}

func (c *counted) Begin(addr uint16) error {
	c.n = 0
	err := c.Transactor.Begin(addr)
	if err != nil {
		c.errors.Inc()
	}
	return err
}

func (c *counted) WriteByte(b byte) error {
	err := c.Transactor.WriteByte(b)
	if err != nil {
		c.errors.Inc()
		return err
	}
	c.n++
	return nil
}

func (c *counted) End() error {
	err := c.Transactor.End()
	if err != nil {
		c.errors.Inc()
		return err
	}
	c.frames.Inc()
	c.bytes.Add(float64(c.n))
	return nil
}

// SetSpeed forwards to the wrapped transactor if it has a clock to set
func (c *counted) SetSpeed(f physic.Frequency) error {
	if s, ok := c.Transactor.(comm.SpeedSetter); ok {
		return s.SetSpeed(f)
	}
	return nil
}
