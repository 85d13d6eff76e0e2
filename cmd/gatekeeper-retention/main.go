package main

import (
	"context"
	"fmt"
	"os"

	"github.com/oarkflow/gatekeeper"
)

func main() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "enforce":
		handleEnforce()
	case "stats":
		handleStats()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("gatekeeper-retention - audit segment retention tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  gatekeeper-retention enforce <config>  - apply retention to the configured log dir")
	fmt.Println("  gatekeeper-retention stats <config>    - show segment statistics")
	fmt.Println()
	fmt.Println("Config formats: .yaml, .yml, .json")
}

func loadConfig(path string) (*gatekeeper.Config, error) {
	cfg, err := gatekeeper.NewConfigLoader().LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func handleEnforce() {
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	policy := gatekeeper.NewRetentionPolicy(cfg.RetentionConfig(), nil)
	report, err := policy.Enforce(context.Background(), cfg.Audit.Dir)
	if err != nil {
		fmt.Printf("Error enforcing retention: %v\n", err)
		os.Exit(1)
	}

	mode := "applied"
	if report.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("Retention %s: %d deleted, %d archived, %d kept\n",
		mode, len(report.Deleted), len(report.Archived), report.Kept)
	for _, name := range report.Deleted {
		fmt.Printf("  deleted  %s\n", name)
	}
	for _, name := range report.Archived {
		fmt.Printf("  archived %s\n", name)
	}
}

func handleStats() {
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	policy := gatekeeper.NewRetentionPolicy(cfg.RetentionConfig(), nil)
	stats, err := policy.Stats(cfg.Audit.Dir)
	if err != nil {
		fmt.Printf("Error reading stats: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Segments:   %d\n", stats.Segments)
	if stats.Segments > 0 {
		fmt.Printf("Date range: %s .. %s\n", stats.OldestDate, stats.NewestDate)
	}
	fmt.Printf("Total size: %d bytes\n", stats.TotalBytes)
}
