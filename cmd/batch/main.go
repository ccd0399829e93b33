package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/config"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/feature"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/generator"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/graph"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/logging"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/repository"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/service"
)

func main() {
	var (
		dryRun     = flag.Bool("dry-run", false, "compute against an in-memory store seeded from dataset JSON instead of Neo4j")
		datasetDir = flag.String("dataset-dir", "./seed-data", "Dataset directory for -dry-run")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "batch")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if cfg.Batch.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.Batch.Timeout)
		defer timeoutCancel()
	}

	store, cleanup, err := buildStore(ctx, logger, cfg, *dryRun, *datasetDir)
	if err != nil {
		logger.Error("failed to build graph store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	features := feature.NewStore()
	batch := service.NewBatchService(store, features, cfg.Detection, logger)

	result, err := batch.Run(ctx)
	if err != nil {
		logger.Error("batch run failed", "error", err)
		os.Exit(1)
	}

	converged := "converged"
	if !result.Converged {
		converged = "not converged"
	}
	fmt.Fprintf(os.Stdout, "Batch generation %d complete in %s\n", result.Generation, result.Duration())
	fmt.Fprintf(os.Stdout, "  accounts:    %d (%d confirmed mules)\n", result.Accounts, result.MuleCount)
	fmt.Fprintf(os.Stdout, "  edges:       %d\n", result.Edges)
	fmt.Fprintf(os.Stdout, "  communities: %d (modularity %.4f, %s, %d levels)\n", result.Communities, result.Modularity, converged, result.Levels)
	fmt.Fprintf(os.Stdout, "  checksum:    %s\n", result.Checksum)

	if snap := features.Current(); snap != nil && len(snap.Summaries) > 0 {
		limit := len(snap.Summaries)
		if limit > 10 {
			limit = 10
		}
		fmt.Fprintf(os.Stdout, "Densest communities:\n")
		for _, s := range snap.Summaries[:limit] {
			fmt.Fprintf(os.Stdout, "  community %-6d size %-5d mules %-4d density %.4f\n",
				s.CommunityID, s.CommunitySize, s.MuleCount, s.MuleDensity)
		}
	}
}

// buildStore returns the graph store to run against. In dry-run mode the
// dataset JSON feeds an in-memory store and feature write-back stays local.
func buildStore(ctx context.Context, logger *slog.Logger, cfg config.Config, dryRun bool, datasetDir string) (service.GraphStore, func(), error) {
	if dryRun {
		dataset, err := generator.ReadDataset(datasetDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("dry run against in-memory store",
			"dir", datasetDir,
			"accounts", len(dataset.Accounts),
			"transactions", len(dataset.Transactions))
		return repository.NewMemoryStore(dataset.Accounts, dataset.Transactions), func() {}, nil
	}

	if cfg.Graph.URI == "" {
		return nil, nil, graph.ErrMissingURI
	}
	client, err := graph.NewNeo4jClient(ctx, graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)

	cleanup := func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}
	return repository.New(client).WithBatchSize(cfg.Batch.PageSize), cleanup, nil
}
