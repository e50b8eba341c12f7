// Package ascii contains some injectable HTTP interfaces to hardware driven by text commands
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/nasa-jpl/minidac/generichttp"
	"github.com/nasa-jpl/minidac/server"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper is a wrapper around a raw communicator
type RawWrapper struct {
	Comm RawCommunicator
}

// HTTPRaw provides access to the raw function over http
func (rw *RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := rw.Comm.Raw(str.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm injects a /raw POST route into the route table of an HTTPer
func InjectRawComm(other generichttp.HTTPer, raw RawCommunicator) {
	wrap := RawWrapper{Comm: raw}
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = wrap.HTTPRaw
}
