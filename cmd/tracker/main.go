// Command tracker runs the filemesh tracker: a peer registry and
// request/response server (spec.md §4.2, §6 "tracker mode"). Grounded
// on the teacher's flat main.go entry point, rewritten around
// internal/trackerserver and internal/trackerreg instead of the
// teacher's single-torrent client bootstrap.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nodeswarm/filemesh/internal/applog"
	"github.com/nodeswarm/filemesh/internal/config"
	"github.com/nodeswarm/filemesh/internal/trackerreg"
	"github.com/nodeswarm/filemesh/internal/trackerserver"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON config file (optional)")
		dev        = flag.Bool("dev", false, "use human-readable development logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s tracker [listen-addr]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 || args[0] != "tracker" {
		flag.Usage()
		os.Exit(2)
	}

	settings := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v, falling back to defaults\n", err)
		} else {
			settings = loaded
		}
	}

	listenAddr := settings.TrackerListenAddr
	if len(args) >= 2 {
		listenAddr = args[1]
	}

	log := applog.New("tracker", *dev)
	defer log.Sync()

	reg := trackerreg.NewWithMaxPeers(settings.MaxPeersPerTransfer)
	timeout := time.Duration(settings.PeerIOTimeout) * time.Second
	srv, err := trackerserver.New(listenAddr, reg, log, timeout)
	if err != nil {
		log.Fatal("failed to start tracker", zap.Error(err))
	}

	log.Info("tracker listening", zap.String("addr", srv.Addr().String()))
	go srv.Serve()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	srv.Stop()
}
