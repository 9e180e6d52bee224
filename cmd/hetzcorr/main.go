package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"

	"hetzcorr/internal/models"
	"hetzcorr/pkg/config"
	"hetzcorr/pkg/engine"
	"hetzcorr/pkg/labels"
	"hetzcorr/pkg/visualization"
	"hetzcorr/pkg/volumeio"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Directory of label slices or raw uint16 label volume")
	configPath := flag.String("config", "hetzcorr.yaml", "YAML configuration file")
	outputPath := flag.String("output", "correction.raw", "Output raw float32 correction volume")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: config value or all available)")
	faultPolicy := flag.String("fault", "", "Zero-denominator policy: abort or mark (default: config value)")
	compress := flag.Bool("compress", false, "Write the correction volume zstd-compressed")
	extractSlices := flag.Bool("extract-slices", false, "Export correction slices along all axes")
	slicesDir := flag.String("slices-dir", "correction_slices", "Directory to save exported slices")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			logrus.Fatalf("Failed to write default config: %v", err)
		}
		logrus.Infof("Default configuration written to %s", *configPath)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the configuration file
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if cfg.Processing.NumCores < 1 {
		cfg.Processing.NumCores = runtime.NumCPU()
	}
	if *faultPolicy != "" {
		cfg.Processing.FaultPolicy = *faultPolicy
	}
	if *compress {
		cfg.Output.Compress = true
	}
	if *extractSlices {
		cfg.Output.SaveSlices = true
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	logger := initLogger(cfg.Output.Verbose)
	logger.WithFields(logrus.Fields{
		"input":  *inputPath,
		"config": *configPath,
		"cores":  cfg.Processing.NumCores,
	}).Info("Heterogeneous Z correction")

	// Load the label stack
	vol, err := volumeio.Load(*inputPath)
	if err != nil {
		logger.Fatalf("Failed to load label volume: %v", err)
	}
	// Slice images carry no calibration
	if vol.Calibration == (models.Calibration{}) {
		vol.Calibration = cfg.Calibration
	}
	logger.WithFields(logrus.Fields{
		"width":  vol.Width,
		"height": vol.Height,
		"depth":  vol.Depth,
	}).Info("Loaded label volume")

	// Distinct labels and their coefficients
	set := labels.Extract(vol, cfg.Processing.NumCores)
	table, err := cfg.CoefficientTable(set)
	if err != nil && !vol.Empty() {
		logger.Fatalf("Failed to resolve coefficients: %v", err)
	}
	counts := set.Counts()
	for i := 0; i < set.Len(); i++ {
		logger.WithFields(logrus.Fields{
			"a":      table[i].A,
			"b":      table[i].B,
			"c":      table[i].C,
			"voxels": counts[i],
		}).Infof("Region %d (%d)", i, set.Value(i))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng := engine.NewEngine(&engine.Params{
		NumCores:         cfg.Processing.NumCores,
		FaultPolicy:      cfg.FaultPolicy(),
		ProgressInterval: cfg.ProgressInterval(),
		Logger:           logger,
		Progress: func(done, total int) {
			logger.Infof("Processing columns: %.1f%% complete", float64(done)/float64(total)*100)
		},
	})

	result, err := eng.Run(ctx, vol, set, table)
	if err != nil {
		logger.Fatalf("Correction failed: %v", err)
	}

	if err := volumeio.SaveRaw(*outputPath, result.Volume, cfg.Output.Compress); err != nil {
		logger.Fatalf("Failed to save correction volume: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"output": *outputPath,
		"header": volumeio.HeaderPath(*outputPath),
	}).Info("Correction volume saved")

	summary := engine.Summarize(result.Volume, vol, set)
	logger.WithFields(logrus.Fields{
		"min":     summary.Min,
		"max":     summary.Max,
		"mean":    summary.Mean,
		"stddev":  summary.StdDev,
		"median":  summary.Median,
		"faulted": summary.Faulted,
		"elapsed": result.Elapsed.String(),
	}).Info("Correction summary")
	for _, ls := range summary.PerLabel {
		logger.WithFields(logrus.Fields{
			"voxels": ls.Voxels,
			"mean":   ls.Mean,
			"stddev": ls.StdDev,
		}).Infof("Label %d correction", ls.Label)
	}
	logger.WithField("mean", summary.DeepestSliceMean).Info("Deepest slice correction")

	// Export slices if requested
	if cfg.Output.SaveSlices && !vol.Empty() {
		viewer := visualization.NewViewer(result.Volume)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			logger.Infof("Saving %s-axis slices to: %s", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir, cfg.Output.SliceFormat); err != nil {
				logger.Warnf("Failed to save %s-axis slices: %v", axis, err)
			}
		}
	}
}

// initLogger initializes the logger with appropriate level
func initLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}
