package comm

import (
	"context"

	"golang.org/x/time/rate"
	"periph.io/x/conn/v3/physic"
)

// Throttle limits the rate at which transactions are started on another
// Transactor.  Slow bridges drop bytes when flooded.
type Throttle struct {
	Transactor
	lim *rate.Limiter
}

// NewThrottle allows at most perSecond transactions per second through t,
// with no burst.  perSecond <= 0 means no limit.
func NewThrottle(t Transactor, perSecond float64) *Throttle {
	lim := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Throttle{Transactor: t, lim: lim}
}

// Begin waits for the limiter, then begins a transaction on the wrapped bus
func (t *Throttle) Begin(addr uint16) error {
	if err := t.lim.Wait(context.Background()); err != nil {
		return err
	}
	return t.Transactor.Begin(addr)
}

// SetSpeed forwards to the wrapped bus if it supports it
func (t *Throttle) SetSpeed(f physic.Frequency) error {
	if s, ok := t.Transactor.(SpeedSetter); ok {
		return s.SetSpeed(f)
	}
	return nil
}
