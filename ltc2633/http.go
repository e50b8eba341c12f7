package ltc2633

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nasa-jpl/minidac/generichttp"
	"github.com/nasa-jpl/minidac/generichttp/ascii"
	"github.com/nasa-jpl/minidac/generichttp/daq"

	"periph.io/x/conn/v3/physic"
)

// HTTPWrapper provides HTTP bindings on top of a DAC
type HTTPWrapper struct {
	// DAC is the underlying device
	*DAC

	// RouteTable maps method/path pairs to http handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured.
// It includes the generic volts and data number routes of package daq
// and a /raw route for sending hex frames by hand.
func NewHTTPWrapper(d *DAC) HTTPWrapper {
	w := HTTPWrapper{DAC: d}
	rt := daq.NewHTTPDAC(d).RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/write"}] = w.codeCommand(d.Write)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/store"}] = w.codeCommand(d.Store)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/write-update-all"}] = w.codeCommand(d.WriteUpdateAll)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/update"}] = w.channelCommand(d.Update)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/power-down"}] = w.channelCommand(d.PowerDown)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/power-off"}] = generichttp.Trigger(d.PowerOff)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/noop"}] = generichttp.Trigger(d.NoOp)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/reference"}] = generichttp.SetBool(w.setReference)

	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/resolution"}] = generichttp.GetInt(func() (int, error) {
		return int(d.Resolution()), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/resolution"}] = generichttp.SetInt(func(i int) error {
		r, err := ParseResolution(i)
		if err != nil {
			return err
		}
		return d.SetResolution(r)
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/address"}] = generichttp.GetInt(func() (int, error) {
		return int(d.Address()), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/address"}] = generichttp.SetInt(func(i int) error {
		if i < 0 || i > 0x7F || !Address(i).Valid() {
			return fmt.Errorf("%w: address %d", ErrConfiguration, i)
		}
		return d.SetAddress(Address(i))
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/rate"}] = generichttp.GetInt(func() (int, error) {
		return int(d.Rate() / physic.Hertz), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/rate"}] = generichttp.SetInt(func(i int) error {
		r := Rate(i) * physic.Hertz
		if r != RateStandard && r != RateFast {
			return ErrConfiguration
		}
		return d.SetRate(r)
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/vref"}] = generichttp.GetFloat(func() (float64, error) {
		return float64(d.VRef()) / float64(physic.Volt), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/vref"}] = generichttp.SetFloat(func(f float64) error {
		v, err := VRefFromVolts(f)
		if err != nil {
			return err
		}
		d.SetVRef(v)
		return nil
	})
	w.RouteTable = rt
	ascii.InjectRawComm(w, d)
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

type channelCode struct {
	Channel int `json:"channel"`

	Code uint64 `json:"code"`
}

type channelOnly struct {
	Channel int `json:"channel"`
}

func (h HTTPWrapper) codeCommand(fcn func(uint64, Channel) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelCode
		err := json.NewDecoder(r.Body).Decode(&input)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ch, err := ChannelFromIndex(input.Channel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(input.Code, ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h HTTPWrapper) channelCommand(fcn func(Channel) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelOnly
		err := json.NewDecoder(r.Body).Decode(&input)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ch, err := ChannelFromIndex(input.Channel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h HTTPWrapper) setReference(internal bool) error {
	if internal {
		return h.InternalReference()
	}
	return h.ExternalReference()
}
