package service

import (
	"context"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

// GraphStore is the persistence contract required by the feature pipeline.
// Loads must observe a stable order so that two loads of an unchanged graph
// produce identical sequences.
type GraphStore interface {
	LoadAccounts(ctx context.Context) ([]domain.Account, error)
	LoadTransactionEdges(ctx context.Context) ([]domain.TransactionEdge, error)
	LoadAccountTransactionEdges(ctx context.Context, accountNumber string) ([]domain.TransactionEdge, error)
	CommitFeatureSnapshot(ctx context.Context, records []domain.FeatureRecord) error
}

// SeedStore is the persistence contract required by the bulk loader.
type SeedStore interface {
	UpsertAccounts(ctx context.Context, accounts []domain.Account) error
	InsertTransactions(ctx context.Context, edges []domain.TransactionEdge) error
}

// BatchResult summarises one completed feature computation run.
type BatchResult struct {
	Generation  uint64
	Accounts    int
	Edges       int
	MuleCount   int
	Communities int
	Levels      int
	Modularity  float64
	Converged   bool
	Checksum    string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration returns the wall-clock duration of the run.
func (r BatchResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// BatchStatus reports the pipeline's current state for the status endpoint.
type BatchStatus struct {
	Running    bool
	LastResult *BatchResult
	LastError  string
	LastRunAt  time.Time
}
