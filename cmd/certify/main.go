// smoothcert-certify: evaluates certified robustness of a trained classifier
// head by voting over every ablation position.
//
// Usage:
//
//	smoothcert-certify --config=experiment.yaml --weights=weights.json --size=4
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"smoothcert/nn"
	"smoothcert/smoothing"
	"smoothcert/tensor"
	"smoothcert/utils"
)

var (
	configFile    = flag.String("config", "", "Experiment config file (YAML)")
	weightsFile   = flag.String("weights", "", "Trained weights file (JSON, required)")
	sizeToCertify = flag.Int("size", 0, "Corruption size to certify against")
	seed          = flag.Int64("seed", 0, "Random seed")
	samples       = flag.Int("samples", 128, "Number of synthetic evaluation samples")
	classes       = flag.Int("classes", 10, "Number of classes")
	workers       = flag.Int("workers", 0, "Concurrent ablation positions")
	verbose       = flag.Bool("verbose", true, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	if *weightsFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --weights is required (train with smoothcert-train first)")
		os.Exit(1)
	}

	cfg := utils.DefaultConfig()
	if *configFile != "" {
		loaded, err := utils.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyOverrides(utils.Overrides{
		SizeToCertify: *sizeToCertify,
		Seed:          *seed,
		Workers:       *workers,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                  smoothcert Certifier                        ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Ablation size:   %d\n", cfg.AblationSize)
	fmt.Printf("  Size to certify: %d\n", cfg.SizeToCertify)
	fmt.Printf("  Image shape:     %v\n", cfg.OriginalShape)
	fmt.Printf("  Samples:         %d\n", *samples)
	fmt.Println()

	stats := &utils.TimingStats{}
	totalStart := time.Now()

	ablator, err := smoothing.NewColumnAblator(ablatorConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	initStart := time.Now()
	inDim := (cfg.OriginalShape[0] + 1) * ablator.OutputHeight() * ablator.OutputWidth()
	clf, err := nn.NewMLP(inDim, cfg.HiddenDim, *classes, cfg.LearningRate, cfg.Seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	weights, err := utils.LoadWeights(*weightsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := clf.ImportWeights(weights); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	stats.ModelInitTime = time.Since(initStart)

	dataStart := time.Now()
	inputs, labels := generateData(cfg, *samples, *classes)
	stats.DataLoadingTime = time.Since(dataStart)

	est, err := smoothing.NewEstimator(ablator, clf, smoothing.EstimatorOptions{
		Workers: cfg.Workers,
		Seed:    cfg.Seed,
		Logger:  logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Accumulating votes over all ablation positions...")
	voteStart := time.Now()
	result, err := est.CertifyBatch(context.Background(), inputs, labels, *classes, cfg.SizeToCertify)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	stats.VotingTime = time.Since(voteStart)
	stats.TotalTime = time.Since(totalStart)

	certified := 0
	for _, ok := range result.Certified {
		if ok {
			certified++
		}
	}
	fmt.Printf("\nResults over %d samples:\n", *samples)
	fmt.Printf("  Accuracy:           %.2f%%\n", result.Accuracy(labels)*100)
	fmt.Printf("  Certified:          %.2f%%\n", float64(certified)/float64(*samples)*100)
	fmt.Printf("  Certified accuracy: %.2f%%\n", result.CertifiedAccuracy()*100)

	utils.PrintTimingStats(stats, *samples)
}

func ablatorConfig(cfg *utils.Config) smoothing.Config {
	out := smoothing.Config{
		AblationSize:  cfg.AblationSize,
		ChannelsFirst: cfg.ChannelsFirst,
		ToReshape:     cfg.ToReshape,
		Mode:          smoothing.Mode(cfg.Mode),
		OriginalShape: smoothing.ImageShape{
			Channels: cfg.OriginalShape[0],
			Height:   cfg.OriginalShape[1],
			Width:    cfg.OriginalShape[2],
		},
	}
	if cfg.ToReshape {
		out.OutputShape = smoothing.ImageShape{
			Channels: cfg.OutputShape[0],
			Height:   cfg.OutputShape[1],
			Width:    cfg.OutputShape[2],
		}
	}
	return out
}

// generateData mirrors the trainer's synthetic set so saved weights are
// evaluated on the distribution they were fit on.
func generateData(cfg *utils.Config, samples, classes int) (*tensor.Tensor, []int) {
	c, h, w := cfg.OriginalShape[0], cfg.OriginalShape[1], cfg.OriginalShape[2]
	rng := rand.New(rand.NewSource(cfg.Seed + 1))

	x := tensor.New(samples, c, h, w)
	labels := make([]int, samples)
	imgSize := c * h * w
	for i := 0; i < samples; i++ {
		cls := i % classes
		labels[i] = cls
		mean := float64(cls+1) / float64(classes)
		for j := 0; j < imgSize; j++ {
			x.Data[i*imgSize+j] = mean + rng.NormFloat64()*0.05
		}
	}
	return x, labels
}
