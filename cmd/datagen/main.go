package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		customers      = flag.Int("customers", cfg.NumCustomers, "number of customer accounts to generate")
		mules          = flag.Int("mules", cfg.NumMules, "number of confirmed mule accounts to generate")
		transactions   = flag.Int("transactions", cfg.NumTransactions, "total transaction budget")
		ringSize       = flag.Int("ring-size", cfg.RingSize, "mules per laundering ring")
		fanInSpokes    = flag.Int("fan-in", cfg.FanInSpokes, "customers feeding each mule")
		fanOutSpokes   = flag.Int("fan-out", cfg.FanOutSpokes, "dispersal targets per fanning-out mule")
		externalChance = flag.Float64("external-chance", cfg.ExternalChance, "probability a customer account is external")
		highRiskChance = flag.Float64("high-risk-chance", cfg.HighRiskChance, "probability of a high-risk jurisdiction label")
		flaggedChance  = flag.Float64("flagged-chance", cfg.FlaggedChance, "probability of a flagged label")
		seed           = flag.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		outputDir      = flag.String("output-dir", "seed-data", "directory to write accounts.json and transactions.json")
	)
	flag.Parse()

	genCfg := generator.Config{
		NumCustomers:    *customers,
		NumMules:        *mules,
		NumTransactions: *transactions,
		RingSize:        *ringSize,
		FanInSpokes:     *fanInSpokes,
		FanOutSpokes:    *fanOutSpokes,
		ExternalChance:  clampProbability(*externalChance),
		HighRiskChance:  clampProbability(*highRiskChance),
		FlaggedChance:   clampProbability(*flaggedChance),
		Seed:            *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	gen := generator.New(genCfg)
	dataset, err := gen.Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	if err := generator.WriteDataset(dataset, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Generated %d accounts and %d transactions into %s\n", len(dataset.Accounts), len(dataset.Transactions), *outputDir)
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
