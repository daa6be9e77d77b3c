package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/pspoerri/rasterprep/internal/logger"
	"github.com/pspoerri/rasterprep/internal/pipeline"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		blockSize   int
		workers     int
		codec       string
		force       bool
		progress    bool
		verbose     bool
		logMode     string
		showVersion bool
		cpuProfile  string
		memProfile  string
	)

	flag.StringVarP(&configPath, "config", "c", "pipeline.yaml", "Pipeline configuration file")
	flag.IntVar(&blockSize, "block-size", pipeline.DefaultBlockSize, "Block edge length in pixels")
	flag.IntVar(&workers, "workers", 0, "Number of parallel workers (0 = one per CPU, capped by memory)")
	flag.StringVar(&codec, "codec", "zstd", "Block store codec: zstd, lz4, none")
	flag.BoolVar(&force, "force", false, "Rebuild every stage even when cached")
	flag.BoolVar(&progress, "progress", false, "Show per-stage progress bars")
	flag.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	flag.StringVar(&logMode, "log-mode", "dev", "Log format: dev (console) or prod (JSON)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	flag.StringVar(&memProfile, "memprofile", "", "Write memory profile to file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rasterprep [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Mosaic, reproject, clip, export and aggregate rasters as configured in a YAML pipeline.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("rasterprep %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log, err := logger.New(logMode, verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Error("Creating CPU profile", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Error("Starting CPU profile", "error", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
		log.Debug("CPU profiling enabled", "path", cpuProfile)
	}
	if memProfile != "" {
		defer func() {
			f, err := os.Create(memProfile)
			if err != nil {
				log.Error("Creating memory profile", "error", err)
				return
			}
			defer f.Close()
			runtime.GC() // get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Error("Writing memory profile", "error", err)
			}
		}()
	}

	cfg, err := pipeline.LoadConfig(configPath)
	if err != nil {
		log.Error("Loading configuration", "error", err)
		os.Exit(1)
	}
	// Flags given explicitly override the file.
	if flag.CommandLine.Changed("block-size") {
		cfg.BlockSize = blockSize
	}
	if flag.CommandLine.Changed("workers") {
		cfg.Workers = workers
	}
	if flag.CommandLine.Changed("codec") {
		cfg.Codec = codec
	}
	if force {
		cfg.Force = true
	}
	if progress {
		cfg.Progress = true
	}

	p, err := pipeline.New(cfg, log, os.Stderr)
	if err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	fmt.Printf("rasterprep %s (commit %s, built %s)\n", version, commit, buildDate)
	fmt.Printf("  %-14s %s\n", "Config:", configPath)
	fmt.Printf("  %-14s %s\n", "Work dir:", cfg.WorkDir)
	fmt.Printf("  %-14s %dpx (%s codec)\n", "Block size:", cfg.BlockSize, cfg.Codec)
	if cfg.Workers > 0 {
		fmt.Printf("  %-14s %d\n", "Workers:", cfg.Workers)
	} else {
		fmt.Printf("  %-14s auto (%d CPUs)\n", "Workers:", runtime.NumCPU())
	}
	fmt.Printf("  %-14s %d pattern(s)\n", "Tiles:", len(cfg.Tiles))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	reports, err := p.Run(ctx)
	printReports(reports)
	if err != nil {
		log.Error("Pipeline failed", "error", err, "kind", errorKind(err))
		os.Exit(1)
	}
	fmt.Printf("Done in %v\n", time.Since(start).Round(time.Millisecond))
}

func printReports(reports []pipeline.Report) {
	for _, r := range reports {
		state := "built"
		if r.Cached {
			state = "cached"
		}
		size := "-"
		if fi, err := os.Stat(r.Artifact); err == nil {
			size = humanize.IBytes(uint64(fi.Size()))
		}
		fmt.Printf("  %-10s %-7s %6d blocks  %10s  %s\n", r.Stage, state, r.Blocks, size, r.Artifact)
		for _, w := range r.Warnings {
			fmt.Printf("  %-10s warning: %s\n", "", w)
		}
	}
}

// errorKind names the failure class for the log.
func errorKind(err error) string {
	var (
		noInput   *pipeline.NoInputDataError
		alignment *pipeline.TileAlignmentError
		noValid   *pipeline.NoValidBoundaryError
		partial   *pipeline.PartialWriteError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &noInput):
		return "no_input_data"
	case errors.As(err, &alignment):
		return "tile_alignment"
	case errors.As(err, &noValid):
		return "no_valid_boundary"
	case errors.As(err, &partial):
		return "partial_write"
	default:
		return "error"
	}
}
