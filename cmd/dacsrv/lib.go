package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/minidac/comm"
	"github.com/nasa-jpl/minidac/generichttp"
	"github.com/nasa-jpl/minidac/ltc2633"
	"github.com/nasa-jpl/minidac/server/middleware/locker"
)

// ObjSetup describes one LTC2633 and the bus it hangs on
type ObjSetup struct {
	// Endpoint is the path the routes of this DAC are served under,
	// ex. Endpoint="/omc/dac" will produce routes of /omc/dac/write, etc.
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// Bus is one of host, bridge, or mock
	Bus string `yaml:"Bus" koanf:"Bus"`

	// BusName is the periph name of a host I2C bus, e.g. "/dev/i2c-1" or "1".
	// Empty selects the first bus found.
	BusName string `yaml:"BusName" koanf:"BusName"`

	// Addr is the serial port or TCP address of an SC18IM700 bridge,
	// e.g. /dev/ttyUSB0 or 192.168.100.123:2006
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Serial determines if the bridge is on RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial" koanf:"Serial"`

	// Baud is the bridge baud rate, 9600 if zero
	Baud int `yaml:"Baud" koanf:"Baud"`

	// Address is the CA0 strapping (gnd, nc, vcc, global) or a number
	Address string `yaml:"Address" koanf:"Address"`

	// Resolution is 8, 10, or 12 bits
	Resolution int `yaml:"Resolution" koanf:"Resolution"`

	// Rate is the I2C clock, standard (100kHz) or fast (400kHz)
	Rate string `yaml:"Rate" koanf:"Rate"`

	// VRef is the reference voltage in volts, 2.5 if zero
	VRef float64 `yaml:"VRef" koanf:"VRef"`

	// MaxTxPerSecond limits bus transactions, unlimited if zero
	MaxTxPerSecond float64 `yaml:"MaxTxPerSecond" koanf:"MaxTxPerSecond"`
}

// Config is the configuration of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Nodes is the list of DACs to set up
	Nodes []ObjSetup `yaml:"Nodes" koanf:"Nodes"`
}

// openBus creates the transactor a node describes.  The closer is nil for
// transactors which hold no resources.
func openBus(node ObjSetup) (comm.Transactor, io.Closer, error) {
	switch strings.ToLower(node.Bus) {
	case "host", "":
		hb := comm.NewHostBus(node.BusName)
		return hb, hb, nil
	case "bridge", "sc18im700":
		if node.Addr == "" {
			return nil, nil, fmt.Errorf("bridge bus requires Addr")
		}
		b := comm.NewBridge(node.Addr, node.Serial, node.Baud)
		return b, b, nil
	case "mock":
		return ltc2633.NewMockBus(), nil, nil
	}
	return nil, nil, fmt.Errorf("bus type %q not understood", node.Bus)
}

// busKey identifies the physical transport of a node.  Mock buses are never
// shared and have no key.
func busKey(node ObjSetup) string {
	switch strings.ToLower(node.Bus) {
	case "host", "":
		return "host " + node.BusName
	case "bridge", "sc18im700":
		return "bridge " + node.Addr
	}
	return ""
}

// configFor converts the textual fields of a node to an ltc2633.Config,
// logging and substituting the default for any which are illegal
func configFor(node ObjSetup) ltc2633.Config {
	var err error
	cfg := ltc2633.DefaultConfig()
	cfg.Address, err = ltc2633.ParseAddress(node.Address)
	if err != nil {
		log.Printf("%s: %v, using %v", node.Endpoint, err, cfg.Address)
	}
	if node.Resolution != 0 {
		cfg.Resolution, err = ltc2633.ParseResolution(node.Resolution)
		if err != nil {
			log.Printf("%s: %v, using %d bits", node.Endpoint, err, cfg.Resolution)
		}
	}
	cfg.Rate, err = ltc2633.ParseRate(node.Rate)
	if err != nil {
		log.Printf("%s: %v, using %v", node.Endpoint, err, cfg.Rate)
	}
	return cfg
}

// SetupDAC builds the DAC a node describes, with its transactor throttled and
// instrumented.  The rate is pushed to the bus if it can take it; failure to
// do so is logged and does not prevent the DAC from being served.
func SetupDAC(node ObjSetup, m *Metrics) (*ltc2633.DAC, io.Closer, error) {
	tx, closer, err := openBus(node)
	if err != nil {
		return nil, nil, err
	}
	if node.MaxTxPerSecond > 0 {
		tx = comm.NewThrottle(tx, node.MaxTxPerSecond)
	}
	tx = m.Instrument(tx, generichttp.SubMuxSanitize(node.Endpoint))
	cfg := configFor(node)
	dac := ltc2633.New(tx, cfg)
	if node.VRef != 0 {
		v, err := ltc2633.VRefFromVolts(node.VRef)
		if err != nil {
			log.Printf("%s: %v, using %s", node.Endpoint, err, v)
		}
		dac.SetVRef(v)
	}
	if err := dac.SetRate(cfg.Rate); err != nil {
		log.Printf("%s: setting bus rate %v: %v", node.Endpoint, cfg.Rate, err)
	}
	return dac, closer, nil
}

// checkNodes rejects configurations in which two nodes share an endpoint or
// a bus.  Bridges and host buses are not shared between DACs.
func checkNodes(nodes []ObjSetup) error {
	endpoints := map[string]bool{}
	buses := map[string]string{}
	for _, node := range nodes {
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		if endpoints[hndlS] {
			return fmt.Errorf("endpoint %s used more than once", hndlS)
		}
		endpoints[hndlS] = true
		if key := busKey(node); key != "" {
			if other, dup := buses[key]; dup {
				return fmt.Errorf("%s and %s both use %s, each bus may back only one node", other, hndlS, key)
			}
			buses[key] = hndlS
		}
	}
	return nil
}

// BuildMux sets up every node and mounts it on a chi router.
// The router serves /endpoints, a JSON map of each node's routes, and
// /metrics for prometheus.  The closers release the buses of the nodes.
func BuildMux(c Config, reg *prometheus.Registry) (chi.Router, []io.Closer, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	metrics := NewMetrics(reg)
	var closers []io.Closer
	if err := checkNodes(c.Nodes); err != nil {
		return nil, nil, err
	}

	for _, node := range c.Nodes {
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		dac, closer, err := SetupDAC(node, metrics)
		if err != nil {
			return nil, closers, fmt.Errorf("%s: %w", hndlS, err)
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		httper := ltc2633.NewHTTPWrapper(dac)

		lock := locker.New()
		locker.Inject(httper, lock)
		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
		log.Printf("LTC2633 at %v available via HTTP at %s", dac.Address(), hndlS)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return root, closers, nil
}
