package repository

import (
	"context"
	"sync"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

// MemoryStore serves snapshot loads from in-memory slices. It backs the
// batch CLI's dry-run mode and unit tests of the pipeline, where a running
// graph database is not available.
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    []domain.Account
	edges       []domain.TransactionEdge
	committed   []domain.FeatureRecord
	commitCalls int
	loadErr     error
	commitErr   error
}

// NewMemoryStore instantiates the store with the given dataset.
func NewMemoryStore(accounts []domain.Account, edges []domain.TransactionEdge) *MemoryStore {
	return &MemoryStore{accounts: accounts, edges: edges}
}

// WithLoadError configures every subsequent load to fail with err.
func (s *MemoryStore) WithLoadError(err error) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
	return s
}

// WithCommitError configures every subsequent commit to fail with err.
func (s *MemoryStore) WithCommitError(err error) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
	return s
}

// SetAccounts replaces the account set, simulating a concurrent mutation
// between two loads of the same batch run.
func (s *MemoryStore) SetAccounts(accounts []domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = accounts
}

// SetEdges replaces the transaction edge set.
func (s *MemoryStore) SetEdges(edges []domain.TransactionEdge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = edges
}

func (s *MemoryStore) LoadAccounts(context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]domain.Account(nil), s.accounts...), nil
}

func (s *MemoryStore) LoadTransactionEdges(context.Context) ([]domain.TransactionEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]domain.TransactionEdge(nil), s.edges...), nil
}

func (s *MemoryStore) LoadAccountTransactionEdges(_ context.Context, accountNumber string) ([]domain.TransactionEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var out []domain.TransactionEdge
	for _, e := range s.edges {
		if e.Performer == accountNumber || e.Beneficiary == accountNumber {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) CommitFeatureSnapshot(_ context.Context, records []domain.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.commitCalls++
	s.committed = append([]domain.FeatureRecord(nil), records...)
	return nil
}

// Committed returns the records written by the most recent commit.
func (s *MemoryStore) Committed() []domain.FeatureRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.FeatureRecord(nil), s.committed...)
}

// CommitCalls returns how many commits have completed.
func (s *MemoryStore) CommitCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commitCalls
}
