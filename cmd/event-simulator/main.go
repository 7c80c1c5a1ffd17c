package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chrissnell/model3d/internal/events"
	"github.com/chrissnell/model3d/internal/geometry"
	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/config"
)

func main() {
	var (
		cfgFile    = flag.String("config", "config.yaml", "Configuration holding the telescope array and noise levels")
		cfgBackend = flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' or 'sqlite'")
		out        = flag.String("out", "events.msgpack", "Event file to write")
		run        = flag.Int("run", 1, "Run number written to the file header")
		count      = flag.Int("n", 100, "Number of events")
		seed       = flag.Uint64("seed", 1, "Random seed")
		threshold  = flag.Float64("threshold", 0, "Select pixels at or above this many p.e. (0 selects every pixel)")

		elevation  = flag.Float64("elevation", 70, "True elevation, degrees")
		azimuth    = flag.Float64("azimuth", 0, "True azimuth, degrees")
		coreX      = flag.Float64("core-x", 0, "True core x, m")
		coreY      = flag.Float64("core-y", 0, "True core y, m")
		coreSpread = flag.Float64("core-spread", 0, "Scatter the core uniformly over ±spread m around core-x, core-y")
		heightMax  = flag.Float64("height", 7, "True height of maximum, km")
		widthL     = flag.Float64("width-long", 3, "True longitudinal width, km")
		widthT     = flag.Float64("width-trans", 20, "True transverse width, m")
		logPhotons = flag.Float64("log-photons", 14, "True ln of the photon count")
		dirSmear   = flag.Float64("direction-smear", 0.3, "Gaussian smear of the seed direction, degrees")
		coreSmear  = flag.Float64("core-smear", 10, "Gaussian smear of the seed core, m")
		debug      = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	provider, err := config.NewProvider(*cfgFile, *cfgBackend)
	if err != nil {
		log.Fatalf("Failed to open configuration: %v", err)
	}
	cfg, err := provider.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	geom, err := geometry.NewProvider(provider).Geometry()
	provider.Close()
	if err != nil {
		log.Fatalf("Failed to build detector geometry: %v", err)
	}

	sim := events.NewSimulator(geom, events.Noise{
		PixelVariance: cfg.Likelihood.PixelVariance,
		NSB:           cfg.Likelihood.NSB,
		SPEWidth:      cfg.Likelihood.SPEWidth,
	}, *seed)
	sim.DirectionSmear = *dirSmear
	sim.CoreSmear = *coreSmear
	if *threshold > 0 {
		sim.SelectAll = false
		sim.Threshold = *threshold
	}

	truth := types.ParameterVector{*elevation, *azimuth, *coreX, *coreY, *heightMax, *widthL, *widthT, *logPhotons}
	scatter := distuv.Uniform{Min: -*coreSpread, Max: *coreSpread, Src: rand.NewPCG(*seed, ^*seed)}

	w, err := events.Create(*out, *run)
	if err != nil {
		log.Fatalf("Failed to create event file: %v", err)
	}
	for i := 1; i <= *count; i++ {
		p := truth
		if *coreSpread > 0 {
			p[types.ParCoreX] += scatter.Rand()
			p[types.ParCoreY] += scatter.Rand()
		}
		if err := w.Write(sim.Simulate(uint64(i), *run, p)); err != nil {
			w.Close()
			log.Fatalf("Failed to write event %d: %v", i, err)
		}
		log.Debugw("simulated event", "event", i, "core_x", p[types.ParCoreX], "core_y", p[types.ParCoreY])
	}
	if err := w.Close(); err != nil {
		log.Fatalf("Failed to close event file: %v", err)
	}
	fmt.Printf("Wrote %d events to %s\n", w.Count(), *out)
}
