// Package daq provides a generic HTTP interface to DAC devices
//
// This is not the last word in speed, due to HTTP having reasonable latency in
// most client languages, but it is the last word in ease of use.
package daq

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nasa-jpl/minidac/generichttp"
)

// DAC is a model for simple digital to analog converter
type DAC interface {
	// Output sends a voltage on a given channel
	Output(int, float64) error

	// OutputDN16 sends a left-justified 16-bit data number on a given channel
	OutputDN16(int, uint16) error
}

// HTTPBasicDAC adds routes for basic DAC operation to a table
func HTTPBasicDAC(iface DAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}] = Output(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output-dn-16"}] = OutputDN16(iface)
}

type channelVoltage struct {
	Channel int `json:"channel"`

	Voltage float64 `json:"voltage"`
}

type channelDN struct {
	Channel int `json:"channel"`

	DN uint16 `json:"dn"`
}

// Output returns an HTTP handlerfunc that will write a voltage to a channel
func Output(d DAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelVoltage
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = d.Output(input.Channel, input.Voltage)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// OutputDN16 returns an HTTP handlerfunc that will write a data number to a channel
func OutputDN16(d DAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelDN
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = d.OutputDN16(input.Channel, input.DN)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// MultiChannelDAC allows multiple channels to be written
// at once
type MultiChannelDAC interface {
	DAC

	// OutputMulti writes a sequence of voltages to a sequence of channels
	OutputMulti([]int, []float64) error

	// OutputMultiDN16 outputs a sequence of data numbers to a sequence of channels
	OutputMultiDN16([]int, []uint16) error
}

// HTTPMultiChannel adds routes for multi channel output to the table
func HTTPMultiChannel(iface MultiChannelDAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output-multi"}] = OutputMulti(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output-multi-dn-16"}] = OutputMultiDN16(iface)
}

type channelsVoltages struct {
	Channels []int `json:"channel"`

	Voltages []float64 `json:"voltage"`
}

type channelsDNs struct {
	Channels []int `json:"channel"`

	DNs []uint16 `json:"dn"`
}

// OutputMulti returns an HTTP handlerfunc that will write voltages to several channels
func OutputMulti(d MultiChannelDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelsVoltages
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(input.Channels) == 0 || len(input.Channels) != len(input.Voltages) {
			http.Error(w, fmt.Sprintf("%d channels and %d voltages given, must be equal and nonzero",
				len(input.Channels), len(input.Voltages)), http.StatusBadRequest)
			return
		}
		err = d.OutputMulti(input.Channels, input.Voltages)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// OutputMultiDN16 returns an HTTP handlerfunc that will write data numbers to several channels
func OutputMultiDN16(d MultiChannelDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelsDNs
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(input.Channels) == 0 || len(input.Channels) != len(input.DNs) {
			http.Error(w, fmt.Sprintf("%d channels and %d DNs given, must be equal and nonzero",
				len(input.Channels), len(input.DNs)), http.StatusBadRequest)
			return
		}
		err = d.OutputMultiDN16(input.Channels, input.DNs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPDAC is a type that allows setting up a DAC satisfying any combination
// of the interfaces in this package to an HTTP interface
type HTTPDAC struct {
	d DAC

	RouteTable generichttp.RouteTable
}

// NewHTTPDAC sets up an HTTP interface to a DAC
func NewHTTPDAC(d DAC) HTTPDAC {
	w := HTTPDAC{d: d}
	rt := generichttp.RouteTable{}
	HTTPBasicDAC(d, rt)
	if md, ok := (d).(MultiChannelDAC); ok {
		HTTPMultiChannel(md, rt)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPDAC) RT() generichttp.RouteTable {
	return h.RouteTable
}
