package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"periph.io/x/conn/v3/physic"

	"github.com/nasa-jpl/minidac/ltc2633"
)

func mockConfig() Config {
	return Config{
		Addr: ":8000",
		Nodes: []ObjSetup{
			{Endpoint: "omc/dac", Bus: "mock", Address: "gnd", Resolution: 10, Rate: "fast"},
			{Endpoint: "/lowfs/dac/*", Bus: "mock", MaxTxPerSecond: 1000},
		},
	}
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestConfigForSubstitutesDefaults(t *testing.T) {
	tests := []struct {
		name string
		node ObjSetup
		want ltc2633.Config
	}{
		{"empty", ObjSetup{}, ltc2633.DefaultConfig()},
		{"legal", ObjSetup{Address: "vcc", Resolution: 8, Rate: "400kHz"},
			ltc2633.Config{Address: ltc2633.AddressVCC, Resolution: ltc2633.Resolution8, Rate: ltc2633.RateFast}},
		{"illegal", ObjSetup{Address: "0x20", Resolution: 11, Rate: "1MHz"}, ltc2633.DefaultConfig()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, configFor(tt.node)); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpenBusUnknownType(t *testing.T) {
	_, _, err := openBus(ObjSetup{Bus: "spi"})
	if err == nil {
		t.Error("expected an error for an unknown bus type")
	}
	_, _, err = openBus(ObjSetup{Bus: "bridge"})
	if err == nil {
		t.Error("expected an error for a bridge without an address")
	}
}

func TestBuildMuxRejectsDuplicateEndpoints(t *testing.T) {
	c := Config{Nodes: []ObjSetup{
		{Endpoint: "dac", Bus: "mock"},
		{Endpoint: "/dac/", Bus: "mock"},
	}}
	_, _, err := BuildMux(c, prometheus.NewRegistry())
	if err == nil {
		t.Error("expected an error for a duplicate endpoint")
	}
}

func TestBuildMuxRejectsSharedBuses(t *testing.T) {
	tests := []struct {
		name  string
		nodes []ObjSetup
	}{
		{"bridge", []ObjSetup{
			{Endpoint: "a", Bus: "bridge", Addr: "127.0.0.1:2006"},
			{Endpoint: "b", Bus: "bridge", Addr: "127.0.0.1:2006", Address: "gnd"},
		}},
		{"host", []ObjSetup{
			{Endpoint: "a", Bus: "host", BusName: "/dev/i2c-1"},
			{Endpoint: "b", Bus: "", BusName: "/dev/i2c-1", Address: "vcc"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, closers, err := BuildMux(Config{Nodes: tt.nodes}, prometheus.NewRegistry())
			closeAll(closers)
			if err == nil || !strings.Contains(err.Error(), "only one node") {
				t.Errorf("expected a shared bus error, got %v", err)
			}
		})
	}
}

func TestBusKey(t *testing.T) {
	if busKey(ObjSetup{Bus: "mock"}) != "" {
		t.Error("mock buses should not be keyed")
	}
	a := busKey(ObjSetup{Bus: "bridge", Addr: "/dev/ttyUSB0"})
	b := busKey(ObjSetup{Bus: "bridge", Addr: "/dev/ttyUSB1"})
	if a == b {
		t.Errorf("distinct bridges share key %q", a)
	}
}

func TestSetupDACVRef(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	dac, _, err := SetupDAC(ObjSetup{Bus: "mock", VRef: 4.096}, m)
	if err != nil {
		t.Fatal(err)
	}
	if dac.VRef() != 4096*physic.MilliVolt {
		t.Errorf("expected 4.096V reference, got %s", dac.VRef())
	}
	dac, _, err = SetupDAC(ObjSetup{Bus: "mock", VRef: 1e12}, m)
	if err != nil {
		t.Fatal(err)
	}
	if dac.VRef() != ltc2633.DefaultVRef {
		t.Errorf("expected an illegal reference to become the default, got %s", dac.VRef())
	}
}

func TestBuildMuxServesNodes(t *testing.T) {
	mux, closers, err := BuildMux(mockConfig(), prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if len(closers) != 0 {
		t.Errorf("mock buses should not need closing, got %d closers", len(closers))
	}

	w := serve(mux, http.MethodGet, "/omc/dac/resolution", "")
	if got := strings.TrimSpace(w.Body.String()); got != `{"int":10}` {
		t.Errorf("GET /omc/dac/resolution = %s", got)
	}
	w = serve(mux, http.MethodGet, "/omc/dac/address", "")
	if got := strings.TrimSpace(w.Body.String()); got != `{"int":16}` {
		t.Errorf("GET /omc/dac/address = %s", got)
	}
	w = serve(mux, http.MethodPost, "/lowfs/dac/write", `{"channel": 15, "code": 4095}`)
	if w.Code != http.StatusOK {
		t.Errorf("POST /lowfs/dac/write returned %d: %s", w.Code, w.Body.String())
	}

	w = serve(mux, http.MethodGet, "/endpoints", "")
	graph := map[string][]string{}
	if err := json.NewDecoder(w.Body).Decode(&graph); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"/omc/dac", "/lowfs/dac"} {
		if len(graph[k]) == 0 {
			t.Errorf("no endpoints listed for %s", k)
		}
	}
}

func TestBuildMuxLocksEachNode(t *testing.T) {
	mux, _, err := BuildMux(mockConfig(), prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	serve(mux, http.MethodPost, "/omc/dac/lock", `{"bool": true}`)
	if w := serve(mux, http.MethodPost, "/omc/dac/noop", ""); w.Code != http.StatusLocked {
		t.Errorf("expected 423 from locked node, got %d", w.Code)
	}
	if w := serve(mux, http.MethodPost, "/lowfs/dac/noop", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 from unlocked node, got %d", w.Code)
	}
}

func TestMetricsCountFrames(t *testing.T) {
	mux, _, err := BuildMux(mockConfig(), prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	serve(mux, http.MethodPost, "/omc/dac/noop", "")
	serve(mux, http.MethodPost, "/omc/dac/write", `{"channel": 0, "code": 1}`)
	w := serve(mux, http.MethodGet, "/metrics", "")
	body := w.Body.String()
	for _, want := range []string{
		`dacsrv_frames_total{device="/omc/dac"} 2`,
		`dacsrv_bytes_total{device="/omc/dac"} 4`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
