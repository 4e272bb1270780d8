package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/glycerine/fedcomm"
)

func main() {
	fedcomm.Exit1IfVersionReq()

	var (
		broker      = flag.String("broker", "", "broker target address/name; empty means this endpoint is the broker")
		local       = flag.String("local", "", "local target address/name this endpoint listens on")
		port        = flag.Int("port", 0, "preassigned port number; 0 means negotiate with the broker")
		portStart   = flag.Int("port_start", 0, "override the auto-assignment range start")
		transport   = flag.String("transport", "stream", "transport kind: stream or queue")
		compression = flag.String("compression", "none", "frame compression codec: none, zstd, or lz4")
		reuseAddr   = flag.Bool("reuse_address", false, "set SO_REUSEADDR-equivalent behavior on bind")
		configPath  = flag.String("config", "", "path to a JSON federate-config file")
		pprofAddr   = flag.String("pprof", "", "if set, serve net/http/pprof on this address")
	)
	flag.Parse()

	if *pprofAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		go func() {
			log.Printf("fedcore: pprof listening on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, mux); err != nil {
				log.Printf("fedcore: pprof server exited: %v", err)
			}
		}()
	}

	cfg := fedcomm.DefaultConfig()
	cfg.BrokerTarget = *broker
	cfg.LocalTarget = *local
	if *port != 0 {
		cfg.PortNumber = *port
	}
	if *portStart != 0 {
		cfg.PortStart = *portStart
	}
	cfg.ReuseAddress = *reuseAddr
	cfg.Transport = fedcomm.TransportKind(*transport)

	codec, err := fedcomm.ParseCompressionCodec(*compression)
	if err != nil {
		log.Fatalf("fedcore: %v", err)
	}
	cfg.Compression = codec

	if *configPath != "" {
		cfg, err = fedcomm.LoadConfigFile(cfg, *configPath)
		if err != nil {
			log.Fatalf("fedcore: loading config file %q: %v", *configPath, err)
		}
	}

	if ip := fedcomm.GetExternalIP(); ip != "" {
		log.Printf("fedcore: host external address %s", ip)
	}
	log.Printf("%s", fedcomm.GetCodeVersion("fedcore"))

	var comm fedcomm.CommsInterface
	switch cfg.Transport {
	case fedcomm.TransportQueue:
		comm = fedcomm.NewQueueComm(cfg, nil, nil)
	case fedcomm.TransportStream:
		sc, err := fedcomm.NewStreamComm(cfg)
		if err != nil {
			log.Fatalf("fedcore: %v", err)
		}
		comm = sc
	default:
		log.Fatalf("fedcore: unknown transport %q", cfg.Transport)
	}

	comm.SetCallback(func(m *fedcomm.ActionMessage) {
		fmt.Printf("fedcore: received action=%s message_id=%d dest=%d payload_len=%d\n",
			m.Action, m.MessageID, m.DestID, len(m.Payload))
	})

	if !comm.Connect() {
		log.Fatalf("fedcore: connect failed: rx=%s tx=%s", comm.RxStatus(), comm.TxStatus())
	}
	log.Printf("fedcore: connected: rx=%s tx=%s", comm.RxStatus(), comm.TxStatus())

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc

	log.Printf("fedcore: shutting down")
	comm.Disconnect()
}
