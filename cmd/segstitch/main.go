package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"segstitch/pkg/config"
	"segstitch/pkg/imageio"
	"segstitch/pkg/pipeline"
	"segstitch/pkg/stitch"
	"segstitch/pkg/threshold"
	"segstitch/pkg/visualization"
)

func main() {
	// Parse command line arguments
	defaults := config.DefaultConfig()
	nuclearPath := flag.String("nuclear", "", "Nuclear channel image (TIFF, PNG or JPEG)")
	membranePath := flag.String("membrane", "", "Optional membrane channel image; nuclear is duplicated when omitted")
	outputPath := flag.String("output", "labels.png", "Output label map (16-bit PNG or TIFF)")
	visualPath := flag.String("visual", "", "Optional colorized visualization output")
	configPath := flag.String("config", "", "YAML configuration file")
	initConfig := flag.String("init-config", "", "Write a default configuration file to the given path and exit")
	tileSize := flag.Int("tile-size", defaults.Tiling.TileSize, "Tile edge length in pixels, overlap included")
	overlap := flag.Int("overlap", defaults.Tiling.Overlap, "Overlap width between adjacent tiles in pixels")
	workers := flag.Int("workers", defaults.Processing.NumWorkers, "Number of tiles to segment concurrently")
	minOverlapPixels := flag.Int("min-overlap-pixels", defaults.Stitching.MinOverlapPixels, "Minimum co-occurring pixels to match labels across a seam")
	minOverlapFraction := flag.Float64("min-overlap-fraction", defaults.Stitching.MinOverlapFraction, "Minimum co-occurrence fraction of the smaller object's band area")
	tileTimeout := flag.Float64("tile-timeout", defaults.Processing.TileTimeoutSeconds, "Per-tile segmentation timeout in seconds (0 disables)")
	normalize := flag.Bool("normalize", defaults.Processing.Normalize, "Normalize each channel to zero mean and unit variance")
	verbose := flag.Bool("verbose", defaults.Output.Verbose, "Print progress output")
	seed := flag.Int64("seed", defaults.Output.Seed, "Seed for the visualization label shuffle")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	// Validate inputs
	if *nuclearPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration, then let explicitly passed flags override it
	cfg := defaults
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tile-size":
			cfg.Tiling.TileSize = *tileSize
		case "overlap":
			cfg.Tiling.Overlap = *overlap
		case "workers":
			cfg.Processing.NumWorkers = *workers
		case "min-overlap-pixels":
			cfg.Stitching.MinOverlapPixels = *minOverlapPixels
		case "min-overlap-fraction":
			cfg.Stitching.MinOverlapFraction = *minOverlapFraction
		case "tile-timeout":
			cfg.Processing.TileTimeoutSeconds = *tileTimeout
		case "normalize":
			cfg.Processing.Normalize = *normalize
		case "verbose":
			cfg.Output.Verbose = *verbose
		case "seed":
			cfg.Output.Seed = *seed
		}
	})
	if *visualPath != "" {
		cfg.Output.Colorize = true
	}

	fmt.Println("================================")
	fmt.Println("SEGSTITCH: TILED SEGMENTATION OF LARGE MICROSCOPY IMAGES")
	fmt.Println("================================")

	// Load and stack input channels
	fmt.Printf("Loading nuclear channel from %s...\n", *nuclearPath)
	nuclear, err := imageio.LoadChannel(*nuclearPath)
	if err != nil {
		log.Fatalf("Failed to load nuclear channel: %v", err)
	}

	var membrane = nuclear
	if *membranePath != "" {
		fmt.Printf("Loading membrane channel from %s...\n", *membranePath)
		membrane, err = imageio.LoadChannel(*membranePath)
		if err != nil {
			log.Fatalf("Failed to load membrane channel: %v", err)
		}
	}

	img, err := imageio.StackChannels(nuclear, membrane)
	if err != nil {
		log.Fatalf("Failed to stack channels: %v", err)
	}
	fmt.Printf("Loaded %dx%d image with %d channel(s)\n", img.Width, img.Height, img.Channels)

	// Assemble the pipeline around the built-in threshold segmenter
	params := &pipeline.Params{
		TileSize:    cfg.Tiling.TileSize,
		Overlap:     cfg.Tiling.Overlap,
		NumWorkers:  cfg.Processing.NumWorkers,
		TileTimeout: time.Duration(cfg.Processing.TileTimeoutSeconds * float64(time.Second)),
		Stitch: stitch.Options{
			MinOverlapPixels:   cfg.Stitching.MinOverlapPixels,
			MinOverlapFraction: cfg.Stitching.MinOverlapFraction,
		},
		Normalize: cfg.Processing.Normalize,
		Verbose:   cfg.Output.Verbose,
	}
	segment := threshold.Segmenter(threshold.Options{
		Bins:          cfg.Segmenter.HistogramBins,
		MinObjectArea: cfg.Segmenter.MinObjectArea,
	})

	fmt.Println("Starting tiled segmentation...")
	labels, summary, err := pipeline.New(params, segment).Run(context.Background(), img)
	if err != nil {
		log.Fatalf("Segmentation failed: %v", err)
	}

	// Persist the label map
	if err := imageio.SaveLabelMap(*outputPath, labels); err != nil {
		log.Fatalf("Failed to save label map: %v", err)
	}
	fmt.Printf("\nLabel map saved to: %s\n", *outputPath)

	// Optional colorized rendering with shuffled labels
	if cfg.Output.Colorize && *visualPath != "" {
		viewer := visualization.NewViewer(labels)
		viewer.RandomizeLabels(cfg.Output.Seed)
		if err := viewer.SaveImage(*visualPath); err != nil {
			log.Fatalf("Failed to save visualization: %v", err)
		}
		fmt.Printf("Visualization saved to: %s\n", *visualPath)
	}

	// Report the diagnostic summary
	fmt.Printf("\nSegmentation summary:\n")
	fmt.Printf("=====================\n")
	fmt.Printf("Objects in final map: %d\n", summary.ObjectCount)
	fmt.Printf("Tile-local objects before stitching: %d\n", summary.TileObjectCount)
	fmt.Printf("Labeled pixels: %d\n", summary.PixelsLabeled)
	fmt.Printf("Objects confined to overlap bands (dropped): %d\n", summary.CoreAbsentObjectCount)
	fmt.Printf("Processing time: %.2f seconds\n", summary.Elapsed.Seconds())

	if len(summary.FailedTileIDs) > 0 {
		fmt.Printf("\nWarning: %d tile(s) failed and were written as background: %v\n",
			len(summary.FailedTileIDs), summary.FailedTileIDs)
	}
}
