package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"platestack/pkg/config"
	"platestack/pkg/reconstruction"
	"platestack/pkg/report"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "platestack.yaml", "YAML configuration file (defaults are used if it does not exist)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	inputDir := flag.String("input", "", "Directory containing the single-plane source images")
	outputDir := flag.String("output", "", "Directory for reconstructed stacks and the layout descriptor")
	metadata := flag.String("metadata", "", "Acquisition metadata document (.xml or .json), overrides the config")
	template := flag.String("template", "", "File name template, overrides the config")
	workers := flag.Int("workers", 0, "Number of stacks reconstructed in parallel (default: config)")
	wells := flag.Int("wells", 0, "Plate well count, overrides the metadata")
	previews := flag.Bool("previews", false, "Save a PNG preview of every stack")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputDir == "" || *outputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *metadata != "" {
		cfg.Input.MetadataFile = *metadata
	}
	if *template != "" {
		cfg.Input.Template = *template
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *wells > 0 {
		cfg.Layout.PlateWells = *wells
	}
	if *previews {
		cfg.Output.SavePreviews = true
	}

	params := cfg.Params(*inputDir, *outputDir)
	params.Logger = log.New(os.Stdout, "", 0)
	if !cfg.Output.Verbose {
		params.Logger = log.New(io.Discard, "", 0)
	}
	// warnings are summarized at the end rather than logged one by one
	rep := report.New(nil)
	params.Report = rep

	fmt.Println("================================")
	fmt.Println("PLATE STACK RECONSTRUCTION")
	fmt.Println("================================")
	fmt.Printf("Input:    %s\n", *inputDir)
	fmt.Printf("Output:   %s\n", *outputDir)
	fmt.Printf("Template: %s\n", cfg.Input.Template)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reconstructor := reconstruction.NewReconstructor(params)
	startTime := time.Now()
	if err := reconstructor.Process(ctx); err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	ext := reconstructor.Extents()
	fmt.Printf("\nReconstruction completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("- %d stack(s) written to %s\n", len(reconstructor.Stacks()), *outputDir)
	wellSet := map[string]bool{}
	for _, k := range ext.Keys {
		wellSet[k.WellLabel()] = true
	}
	fmt.Printf("- %d well(s), %d field position(s)\n", len(wellSet), len(ext.Fields))
	fmt.Printf("- Shape per stack: %d channel(s) x %d z x %d timepoint(s)\n", ext.Channels, ext.Z, ext.Time)
	fmt.Printf("- Plate: %s (%s)\n", reconstructor.Plate().Name, reconstructor.Plate().ID)

	fmt.Printf("\nWarnings (%d):\n", rep.Total())
	fmt.Println(rep.Summary())
}
