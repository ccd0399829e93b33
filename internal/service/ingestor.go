package service

import (
	"context"
	"errors"
	"sync"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

const defaultIngestChunkSize = 500

// TaskError accumulates multiple errors produced during bulk ingestion.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := "multiple errors:"
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// BulkIngestor seeds large account and transaction datasets into the graph
// using a worker pool over fixed-size chunks.
type BulkIngestor struct {
	store     SeedStore
	workers   int
	chunkSize int
}

// NewBulkIngestor creates a new BulkIngestor instance with the provided concurrency.
func NewBulkIngestor(store SeedStore, workers int) *BulkIngestor {
	if workers <= 0 {
		workers = 4
	}
	return &BulkIngestor{
		store:     store,
		workers:   workers,
		chunkSize: defaultIngestChunkSize,
	}
}

// WithChunkSize overrides the number of rows written per statement.
func (bi *BulkIngestor) WithChunkSize(n int) *BulkIngestor {
	if n > 0 {
		bi.chunkSize = n
	}
	return bi
}

// IngestAccounts writes the provided accounts concurrently. Accounts must
// be ingested before the transactions that reference them.
func (bi *BulkIngestor) IngestAccounts(ctx context.Context, accounts []domain.Account) error {
	return bi.run(ctx, len(accounts), func(start, end int) error {
		return bi.store.UpsertAccounts(ctx, accounts[start:end])
	})
}

// IngestTransactions writes the provided transactions concurrently.
func (bi *BulkIngestor) IngestTransactions(ctx context.Context, edges []domain.TransactionEdge) error {
	return bi.run(ctx, len(edges), func(start, end int) error {
		return bi.store.InsertTransactions(ctx, edges[start:end])
	})
}

func (bi *BulkIngestor) bounds(idx, total int) (int, int) {
	start := idx * bi.chunkSize
	end := start + bi.chunkSize
	if end > total {
		end = total
	}
	return start, end
}

func (bi *BulkIngestor) run(ctx context.Context, total int, workerFn func(start, end int) error) error {
	if total == 0 {
		return nil
	}
	chunks := (total + bi.chunkSize - 1) / bi.chunkSize
	indexCh := make(chan int)
	errCh := make(chan error, chunks)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			start, end := bi.bounds(idx, total)
			if err := workerFn(start, end); err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	for i := 0; i < bi.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < chunks; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	var taskErr TaskError
	for err := range errCh {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.append(err)
	}
	return taskErr.asError()
}
