package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "dacsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr: ":8000",
		Nodes: []ObjSetup{{
			Endpoint:   "/dac",
			Bus:        "host",
			Address:    "global",
			Resolution: 12,
			Rate:       "standard",
			VRef:       2.5,
		}}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `dacsrv drives LTC2633 dual 8/10/12-bit I2C DACs and exposes an HTTP interface to them

Usage:
	dacsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `dacsrv is amenable to configuration via its .yaml file, dacsrv.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html

Each entry in Nodes is one DAC.  No two nodes can have the same Endpoint, and
no two nodes can share a host bus (BusName) or a bridge (Addr); the server
refuses to start if they do.

Bus selects how the I2C bus is reached:
- host     an I2C bus of this computer, named by BusName (e.g. "/dev/i2c-1")
- bridge   an NXP SC18IM700 UART to I2C bridge at Addr, over RS232 if Serial
           is true or a TCP terminal server otherwise, at Baud (default 9600)
- mock     no hardware; frames are recorded and discarded

Address is the CA0 strapping of the part, gnd (0x10), nc (0x11), vcc (0x12),
or global (0x73, the default).  Resolution is 8, 10, or 12 (default) bits to
match the LTC2633-8, -10, or -12.  Rate is standard (100kHz, default) or fast
(400kHz).  Illegal values are logged and replaced by the defaults.

VRef is the reference voltage in volts used by /output, 2.5 for the -L parts
and 4.096 for the -H parts.  MaxTxPerSecond limits the rate of bus
transactions, which may be needed for slow bridges.

Every node serves /lock; while locked, requests other than GET are refused
with 423.  /endpoints lists the routes of every node, /metrics serves
prometheus counters of bus traffic.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("dacsrv version %v\n", Version)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Println("error closing bus ", err)
		}
	}
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	if len(c.Nodes) == 0 {
		log.Fatal("no nodes configured, see dacsrv help")
	}
	mux, closers, err := BuildMux(c, prometheus.NewRegistry())
	if err != nil {
		closeAll(closers)
		log.Fatal(err)
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		closeAll(closers)
		os.Exit(0)
	}()
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
