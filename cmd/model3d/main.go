package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/chrissnell/model3d/internal/app"
	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to configuration source:\n\t\t\t  YAML: config.yaml\n\t\t\t  SQLite: config.db\n\t\t\t  Use 'config-convert' tool to convert YAML→SQLite")
	cfgBackend := flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' for YAML files, 'sqlite' for SQLite databases")
	eventFile := flag.String("events", "", "Event file to fit (required)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("model3d %s\n", version)
		os.Exit(0)
	}

	if *eventFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -config <config.yaml> -events <events.msgpack>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	filename, _ := filepath.Abs(*cfgFile)
	provider, err := config.NewProvider(filename, *cfgBackend)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	defer provider.Close()

	application := app.New(provider, log.GetSugaredLogger())
	sum, err := application.Run(context.Background(), *eventFile)
	if sum != nil {
		fmt.Printf("run %s: %d events, %d converged, %d not converged, %d rejected, %d failed\n",
			sum.RunID, sum.Events, sum.Converged, sum.NotConverged, sum.Rejected, sum.Failed)
	}
	if err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}
