package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrissnell/model3d/internal/app"
	"github.com/chrissnell/model3d/internal/likelihood"
	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/pkg/config"
)

func main() {
	var (
		cfgFile       = flag.String("config", "", "Take the noise parameters and table directory from this configuration")
		cfgBackend    = flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' or 'sqlite'")
		pixelVariance = flag.Float64("pixel-variance", 0, "Pedestal variance in p.e.²")
		nsb           = flag.Float64("nsb", 0, "Night-sky background in p.e. per pixel")
		speWidth      = flag.Float64("spe-width", likelihood.DefaultSPEWidth, "Single photo-electron width")
		dir           = flag.String("dir", "tables", "Directory to write the table to")
		workers       = flag.Int("workers", 0, "Parallel row builders (default: GOMAXPROCS)")
		inspect       = flag.String("inspect", "", "Print the header of an existing table file and exit")
		debug         = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *inspect != "" {
		if err := printTable(*inspect); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	spec := likelihood.DefaultTableSpec(*pixelVariance, *nsb)
	spec.SPEWidth = *speWidth
	outDir := *dir
	if *cfgFile != "" {
		provider, err := config.NewProvider(*cfgFile, *cfgBackend)
		if err != nil {
			log.Fatalf("Failed to open configuration: %v", err)
		}
		cfg, err := provider.LoadConfig()
		provider.Close()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		spec = app.TableSpec(cfg.Likelihood)
		outDir = cfg.Likelihood.TableDir
	}
	spec.Workers = *workers

	if err := spec.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Usage: %s -pixel-variance <p.e.²> -nsb <p.e.> [-dir tables] | -config <config.yaml>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("building likelihood table", "pixel_variance", spec.PixelVariance, "nsb", spec.NSB,
		"spe_width", spec.SPEWidth, "small_nodes", spec.SmallSignal.N, "large_nodes", spec.LargeSignalNodes,
		"mu_nodes", spec.LogMu.N)
	start := time.Now()
	t, err := likelihood.BuildTable(ctx, spec)
	if err != nil {
		log.Fatalf("Failed to build table: %v", err)
	}
	log.Infow("table built", "elapsed", time.Since(start).Round(time.Millisecond))

	path, err := likelihood.SaveTable(outDir, t)
	if err != nil {
		log.Fatalf("Failed to save table: %v", err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func printTable(path string) error {
	t, err := likelihood.LoadTable(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", path)
	fmt.Printf("  pixel variance: %g p.e.²\n", t.Key.PixelVariance)
	fmt.Printf("  NSB:            %g p.e.\n", t.Key.NSB)
	fmt.Printf("  SPE width:      %g\n", t.Model.SPEWidth)
	fmt.Printf("  small signal:   [%g, %g] × %d nodes\n", t.Small.Signal.Low, t.Small.Signal.High, t.Small.Signal.N)
	fmt.Printf("  large signal:   log10 [%g, %g] × %d nodes\n", t.Large.Signal.Low, t.Large.Signal.High, t.Large.Signal.N)
	fmt.Printf("  log10 µ:        [%g, %g] × %d nodes\n", t.Small.LogMu.Low, t.Small.LogMu.High, t.Small.LogMu.N)
	return nil
}
