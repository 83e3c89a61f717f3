// Command stationd runs the sweep station daemon: it opens the configured
// instruments, the run index database and the live-plot stream, and serves
// the sweep control API over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/sweepstation/internal/api"
	"github.com/banshee-data/sweepstation/internal/config"
	"github.com/banshee-data/sweepstation/internal/liveplot"
	"github.com/banshee-data/sweepstation/internal/runstore"
)

var (
	configPath = flag.String("config", "", "Path to station config JSON (defaults apply when empty)")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	noLivePlot = flag.Bool("no-liveplot", false, "Disable the gRPC live-plot stream")
)

func main() {
	flag.Parse()

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	addr := cfg.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}

	store, err := runstore.Open(cfg.GetRunDBPath())
	if err != nil {
		log.Fatalf("failed to open run index: %v", err)
	}
	defer store.Close()

	var publisher *liveplot.Publisher
	if !*noLivePlot {
		publisher = liveplot.NewPublisher(liveplot.Config{ListenAddr: cfg.GetLivePlotAddr()})
		if err := publisher.Start(); err != nil {
			log.Fatalf("failed to start live-plot stream: %v", err)
		}
		defer publisher.Stop()
		log.Printf("live-plot stream on %s", publisher.Addr())
	}

	station, err := api.NewStation(cfg, store, publisher, nil)
	if err != nil {
		log.Fatalf("failed to open station: %v", err)
	}
	defer station.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(api.ServerConfig{
		Address:   addr,
		Station:   station,
		Store:     store,
		Publisher: publisher,
	})
	if err := server.Start(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// a sweep may still be draining to disk; let it seal before the
	// instruments close
	station.Wait()
}
