// Command client runs the filemesh client in either seeder or
// downloader mode (spec.md §4.9, §6 "client mode"). Grounded on the
// teacher's flat main.go entry point and client/client.go's directory
// bootstrap, rewritten around internal/clientcore instead of the
// teacher's torrent-file-scanning client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/nodeswarm/filemesh/internal/applog"
	"github.com/nodeswarm/filemesh/internal/clientcore"
	"github.com/nodeswarm/filemesh/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON config file (optional)")
		dev        = flag.Bool("dev", false, "use human-readable development logging")
		blockSize  = flag.Int64("block-size", 256*1024, "block size in bytes, seed mode only")
		listenAddr = flag.String("listen", "", "data port to accept peer connections on (default from config, or OS-assigned)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage:\n  %s seed <file> <tracker1,tracker2,...>\n  %s download <filename> <tracker1,tracker2,...> <local-path>\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
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

	log := applog.New("client", *dev)
	defer log.Sync()

	peerTimeout := time.Duration(settings.PeerIOTimeout) * time.Second
	refreshRate := time.Duration(settings.TrackerRefreshDelay) * time.Second

	dataAddr := *listenAddr
	if dataAddr == "" {
		dataAddr = fmt.Sprintf(":%d", settings.ClientDataPort)
	}

	switch args[0] {
	case "seed":
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		runSeed(log, args[1], args[2], *blockSize, dataAddr, peerTimeout, refreshRate)
	case "download":
		if len(args) != 4 {
			flag.Usage()
			os.Exit(2)
		}
		runDownload(log, args[1], args[2], args[3], peerTimeout, refreshRate)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runSeed(log *zap.Logger, path, trackerList string, blockSize int64, listenAddr string, peerTimeout, refreshRate time.Duration) {
	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	fs := afero.NewOsFs()
	info, err := fs.Stat(path)
	if err != nil {
		log.Fatal("cannot stat file", zap.Error(err))
	}

	core := clientcore.New(fs, dir, peerTimeout, refreshRate, nil, log)
	trackers := splitTrackers(trackerList)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		cancel()
	}()

	log.Info("seeding", zap.String("file", filename), zap.Int64("size", info.Size()))
	if err := core.Seed(ctx, filename, info.Size(), blockSize, listenAddr, trackers); err != nil {
		log.Warn("some trackers rejected registration", zap.Error(err))
	}

	<-ctx.Done()
}

func runDownload(log *zap.Logger, filename, trackerList, localPath string, peerTimeout, refreshRate time.Duration) {
	dir := filepath.Dir(localPath)
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(dir, 0755); err != nil {
		log.Fatal("cannot create destination directory", zap.Error(err))
	}

	core := clientcore.New(fs, dir, peerTimeout, refreshRate, nil, log)
	trackers := splitTrackers(trackerList)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("cancelling download")
		cancel()
	}()

	if err := core.Download(ctx, filename, trackers); err != nil {
		log.Fatal("download failed", zap.Error(err))
	}
	log.Info("download complete", zap.String("filename", filename))
}

func splitTrackers(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
