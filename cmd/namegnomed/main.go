// Command namegnomed is the long-running service: it loads configuration,
// wires every internal component, and serves the REST surface internal/
// httpapi exposes until SIGINT/SIGTERM. Grounded on the teacher's
// cmd/spindled/main.go (config.Load → logging.NewFromConfig → store →
// component wiring → server → block on ctx.Done()), with the unix-socket
// IPC server swapped for httpapi.Server and the disc-ripping workflow
// stages swapped for the scan/map/apply pipeline bootstrap.go wires.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/config"
	"github.com/namegnome/serve/internal/httpapi"
	"github.com/namegnome/serve/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolvedPath, exists, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure config directories: %v", err)
	}

	hub := logging.NewStreamHub(512)
	logger, err := logging.NewFromConfig(cfg, hub)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if exists {
		logger.Info("loaded config file", logging.String("path", resolvedPath))
	} else {
		logger.Info("no config file found, using defaults", logging.String("default_path", resolvedPath))
	}

	store, err := cache.Open(cfg)
	if err != nil {
		logger.Error("open cache store", logging.Error(err))
		log.Fatalf("open cache store: %v", err)
	}
	defer store.Close()

	mp, applier, jobsCtrl := buildComponents(cfg, store, hub, logger)

	server := httpapi.New(cfg.API.Bind, store, mp, applier, jobsCtrl, logger)
	if err := server.Start(ctx); err != nil {
		logger.Error("start httpapi", logging.Error(err))
		log.Fatalf("start httpapi: %v", err)
	}
	defer server.Stop()

	logger.Info("namegnomed ready", logging.String("bind", cfg.API.Bind))
	<-ctx.Done()
	logger.Info("namegnomed shutting down")
}
