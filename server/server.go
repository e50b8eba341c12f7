// Package server contains the JSON payloads shared by the HTTP interfaces.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
)

// FloatT is a struct with a single float field, {"f64": value}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, {"int": value}
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, {"str": value}
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, {"bool": value}
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a tagged union of the basic types a handler may reply with.
// T selects which field is encoded.
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Float  float64
	Int    int
	String string
}

// EncodeAndRespond writes the payload to w as JSON, using the same single-key
// objects as FloatT, IntT, StrT, and BoolT
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, fmt.Sprintf("server: payload kind %v is not supported", hp.T), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}
