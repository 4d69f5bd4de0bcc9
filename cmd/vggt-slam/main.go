package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edaniels/golog"

	"github.com/sdunifon/vggt-slam/pkg/config"
	"github.com/sdunifon/vggt-slam/pkg/estimate"
	"github.com/sdunifon/vggt-slam/pkg/slam"
)

func main() {
	// Parse command line arguments
	input := flag.String("input", "", "Directory or zip archive of RGB images")
	output := flag.String("output", "", "Output PLY filename (default from config: scene.ply)")
	configPath := flag.String("config", "vggt-slam.yaml", "Path to YAML configuration file")
	useSim3 := flag.Bool("use-sim3", false, "Use Sim(3) optimization instead of SL(4)")
	submapSize := flag.Int("submap-size", config.DefaultSubmapSize, "Number of keyframes per submap")
	maxLoops := flag.Int("max-loops", config.DefaultMaxLoops, "Maximum loop closures to add per new submap")
	minDisparity := flag.Float64("min-disparity", config.DefaultMinDisparity, "Minimum disparity between keyframes")
	confThreshold := flag.Float64("conf-threshold", config.DefaultConfThreshold, "Confidence percentile of points to drop")
	previews := flag.Bool("previews", false, "Save per-axis preview projections of the cloud")
	flag.Parse()

	// Validate inputs
	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags passed explicitly override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output.ArtifactPath = *output
		case "use-sim3":
			cfg.Slam.UseSim3 = *useSim3
		case "submap-size":
			cfg.Slam.SubmapSize = *submapSize
		case "max-loops":
			cfg.Slam.MaxLoops = *maxLoops
		case "min-disparity":
			cfg.Slam.MinDisparity = *minDisparity
		case "conf-threshold":
			cfg.Slam.ConfThreshold = *confThreshold
		case "previews":
			cfg.Output.SavePreviews = *previews
		}
	})
	cfg.Clamp()

	var logger golog.Logger
	if cfg.Output.Verbose {
		logger = golog.NewDevelopmentLogger("vggt-slam")
	} else {
		logger = golog.NewLogger("vggt-slam")
	}

	fmt.Println("================================")
	fmt.Println("VGGT-SLAM: INCREMENTAL SUBMAP RECONSTRUCTION FROM RGB IMAGE SEQUENCES")
	fmt.Println("================================")

	// Cancellation is honored at submap boundaries; an interrupt
	// finishes or abandons the in-flight submap and exports what was
	// built.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	solver := slam.NewSolver(cfg, estimate.NewGridEstimator(), estimate.NewHistogramRetriever(), logger)

	startTime := time.Now()
	result, err := solver.Process(ctx, *input)
	if err != nil {
		logger.Errorw("reconstruction failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nReconstruction completed in %.2f seconds.\n", processingTime.Seconds())
	fmt.Printf("Output 3D model saved to: %s\n\n", result.ArtifactPath)

	report := result.Report
	fmt.Printf("Run summary:\n")
	fmt.Printf("============\n")
	fmt.Printf("Submaps: %d\n", report.Submaps)
	fmt.Printf("Keyframes: %d\n", report.Keyframes)
	fmt.Printf("Loop closures: %d\n", report.LoopClosures)
	fmt.Printf("Points: %d retained of %d fused\n", report.RetainedPoints, report.TotalPoints)
	for _, warning := range report.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}
	fmt.Printf("\n%s\n", report.Summary())
}
