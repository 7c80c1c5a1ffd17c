package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chrissnell/model3d/internal/controllers/restserver"
	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/storage"
	"github.com/chrissnell/model3d/internal/storage/sqlite"
	"github.com/chrissnell/model3d/internal/storage/timescaledb"
	"github.com/chrissnell/model3d/pkg/config"
)

type store interface {
	storage.ResultReader
	Close() error
}

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to configuration source")
	cfgBackend := flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' or 'sqlite'")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger := log.GetSugaredLogger()

	provider, err := config.NewProvider(*cfgFile, *cfgBackend)
	if err != nil {
		log.Fatalf("Failed to open configuration: %v", err)
	}
	cfg, err := provider.LoadConfig()
	provider.Close()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite is preferred when both stores are configured.
	var reader store
	switch {
	case cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "":
		reader, err = sqlite.New(cfg.Storage.SQLite.Path, logger)
	case cfg.Storage.TimescaleDB != nil && cfg.Storage.TimescaleDB.ConnectionString != "":
		reader, err = timescaledb.New(ctx, cfg.Storage.TimescaleDB.ConnectionString, logger)
	default:
		log.Fatal("results server needs storage.sqlite or storage.timescaledb in the configuration")
	}
	if err != nil {
		log.Fatalf("Failed to open result store: %v", err)
	}
	defer reader.Close()

	var sc config.ServerData
	if cfg.Server != nil {
		sc = *cfg.Server
	}

	var wg sync.WaitGroup
	ctrl, err := restserver.NewController(ctx, &wg, sc, reader, logger)
	if err != nil {
		log.Fatalf("Failed to create results server: %v", err)
	}
	if err := ctrl.StartController(); err != nil {
		log.Fatalf("Failed to start results server: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("shutdown signal received, initiating graceful shutdown...")
	cancel()
	wg.Wait()
	log.Info("shutdown complete")
}
