package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"roitransfer/internal/models"
	"roitransfer/pkg/config"
	"roitransfer/pkg/reconstruction"
	"roitransfer/pkg/rtstruct"
	"roitransfer/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration to -config and exit")
	rtstructPath := flag.String("rtstruct", "", "RTSTRUCT file holding the source contours")
	contoursPath := flag.String("contours", "", "YAML contour file, used instead of -rtstruct")
	sourceSeries := flag.String("source-series", "", "Directory of the source image series")
	targetSeries := flag.String("target-series", "", "Directory of the target image series")
	outputPath := flag.String("output", "transferred.yaml", "Output YAML contour file")
	labelMapDir := flag.String("labelmaps", "", "Directory for label map PNGs (overrides output.labelMapDir)")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *targetSeries == "" || (*rtstructPath == "") == (*contoursPath == "") {
		fmt.Fprintln(os.Stderr, "Need -target-series and exactly one of -rtstruct or -contours")
		flag.Usage()
		os.Exit(1)
	}
	if *rtstructPath != "" && *sourceSeries == "" {
		fmt.Fprintln(os.Stderr, "-rtstruct needs -source-series to place its contours")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *labelMapDir != "" {
		cfg.Output.SaveLabelMaps = true
		cfg.Output.LabelMapDir = *labelMapDir
	}

	fmt.Println("================================")
	fmt.Println("ROI TRANSFER BETWEEN REGISTERED IMAGE SERIES")
	fmt.Println("================================")

	params := &reconstruction.Params{}
	if err := cfg.Params(params); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Output.Verbose {
		params.Logger = log.New(os.Stderr, "", log.LstdFlags)
		params.Progress = func(completed, total int, message string) {
			fmt.Printf("[%d/%d] %s\n", completed, total, message)
		}
	} else {
		params.Logger = log.New(io.Discard, "", 0)
	}

	// Load the source contours
	if *sourceSeries != "" {
		geometry, uids, err := loadGeometry(*sourceSeries)
		if err != nil {
			log.Fatalf("Failed to read source series: %v", err)
		}
		params.SourceGeometry = geometry

		if *rtstructPath != "" {
			params.Source, params.ROIs, err = loadStructureSet(*rtstructPath, geometry, uids)
			if err != nil {
				log.Fatalf("Failed to read structure set: %v", err)
			}
		}
	}
	if *contoursPath != "" {
		params.Source, params.ROIs, err = reconstruction.LoadYAML(*contoursPath)
		if err != nil {
			log.Fatalf("Failed to read contours: %v", err)
		}
	}

	targetGeometry, _, err := loadGeometry(*targetSeries)
	if err != nil {
		log.Fatalf("Failed to read target series: %v", err)
	}
	params.TargetGeometry = targetGeometry

	fmt.Printf("Transferring %d ROIs onto %d target slices (%s mode)...\n",
		len(params.Source), targetGeometry.Depth, params.Mode)
	startTime := time.Now()

	reconstructor := reconstruction.NewReconstructor(params)
	if err := reconstructor.Process(); err != nil {
		log.Fatalf("Transfer failed: %v", err)
	}

	if err := reconstructor.Save(*outputPath); err != nil {
		log.Fatalf("Failed to save contours: %v", err)
	}

	fmt.Printf("\nTransfer completed in %.2f seconds!\n", time.Since(startTime).Seconds())
	fmt.Printf("Contours saved to: %s\n\n", *outputPath)
	fmt.Print(reconstructor.Summary())

	for _, sk := range reconstructor.Summary().Skipped {
		if sk.Slice < 0 {
			log.Printf("Warning: ROI %d aborted during %s: %v", sk.ROI, sk.Stage, sk.Reason)
		}
	}

	if cfg.Output.SaveLabelMaps {
		viewer, err := visualization.NewViewer(reconstructor.Result().Contours, targetGeometry)
		if err != nil {
			log.Fatalf("Failed to create label maps: %v", err)
		}
		if err := viewer.SaveSliceSequence(cfg.Output.LabelMapDir); err != nil {
			log.Fatalf("Failed to save label maps: %v", err)
		}
		fmt.Printf("\nLabel maps saved to: %s\n", cfg.Output.LabelMapDir)
	}

	if cfg.Output.SaveIntermediaryResults {
		fmt.Printf("\nIntermediary results saved to: %s\n", cfg.Output.IntermediaryDir)
	}
}

// loadGeometry reads the voxel grid of the image series in dir
func loadGeometry(dir string) (models.ImageGeometry, []string, error) {
	datasets, err := rtstruct.ParseSeriesDir(dir)
	if err != nil {
		return models.ImageGeometry{}, nil, err
	}
	return rtstruct.ReadGeometry(datasets)
}

// loadStructureSet reads an RTSTRUCT and places its contours on the slices
// of the series it was drawn on
func loadStructureSet(path string, geometry models.ImageGeometry, uids []string) (models.ContourSet, []models.ROI, error) {
	ds, err := rtstruct.ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	ss, err := rtstruct.ReadStructureSet(ds)
	if err != nil {
		return nil, nil, err
	}
	if ss.Skipped > 0 {
		log.Printf("Skipped %d contours that are not closed polygons", ss.Skipped)
	}

	cs, err := rtstruct.AssignSlices(ss, geometry, uids)
	if err != nil {
		return nil, nil, err
	}
	return cs, ss.ROIs, nil
}
