package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/config"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/generator"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/graph"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/logging"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/repository"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/service"
)

var errMissingDataset = errors.New("dataset not found")

func main() {
	var (
		datasetDir = flag.String("dataset-dir", "./seed-data", "Directory containing accounts.json and transactions.json")
		workers    = flag.Int("workers", 4, "Number of concurrent workers for ingestion")
		chunkSize  = flag.Int("chunk-size", 0, "Rows per ingestion chunk (0 uses the default)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "ingest")

	if err := checkDataset(*datasetDir); err != nil {
		logger.Error("dataset resolution failed", "error", err)
		os.Exit(1)
	}

	dataset, err := generator.ReadDataset(*datasetDir)
	if err != nil {
		logger.Error("failed to load dataset", "error", err, "dir", *datasetDir)
		os.Exit(1)
	}
	if len(dataset.Accounts) == 0 {
		logger.Error("accounts dataset empty", "dir", *datasetDir)
		os.Exit(1)
	}
	if len(dataset.Transactions) == 0 {
		logger.Error("transactions dataset empty", "dir", *datasetDir)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	graphClient, err := buildGraphClient(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to create graph client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}()

	repo := repository.New(graphClient).WithBatchSize(cfg.Batch.PageSize)

	if err := repo.EnsureConstraints(ctx); err != nil {
		logger.Error("failed to ensure constraints", "error", err)
		os.Exit(1)
	}

	ingestor := service.NewBulkIngestor(repo, *workers)
	if *chunkSize > 0 {
		ingestor = ingestor.WithChunkSize(*chunkSize)
	}

	start := time.Now()
	logger.Info("ingesting accounts", "count", len(dataset.Accounts), "workers", *workers)
	if err := ingestor.IngestAccounts(ctx, dataset.Accounts); err != nil {
		logger.Error("account ingestion failed", "error", err)
		os.Exit(1)
	}

	logger.Info("ingesting transactions", "count", len(dataset.Transactions))
	if err := ingestor.IngestTransactions(ctx, dataset.Transactions); err != nil {
		logger.Error("transaction ingestion failed", "error", err)
		os.Exit(1)
	}

	logger.Info("ingestion complete",
		"duration", time.Since(start).String(),
		"accounts", len(dataset.Accounts),
		"transactions", len(dataset.Transactions))
}

func checkDataset(dir string) error {
	for _, name := range []string{generator.AccountsFile, generator.TransactionsFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s", errMissingDataset, path)
		}
	}
	return nil
}

func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, fmt.Errorf("NEO4J_URI is required for ingestion")
	}
	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	client, err := graph.NewNeo4jClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
	return client, nil
}
