package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

// DiversityMetrics quantifies an account's counterparty concentration.
// Ratios are zero when the account has no qualifying transactions.
type DiversityMetrics struct {
	UniqueCounterparties int
	TotalTransactions    int
	DiversityRatio       float64
	TopCounterpartyShare float64
}

// ComputeDiversity derives the metrics for one account from the given
// transaction edges. Counterparties are the distinct accounts on the other
// end of the account's outgoing and incoming edges; self-referencing edges
// do not qualify. TotalTransactions counts every qualifying edge, not
// distinct counterparties. Edges not touching the account are ignored, so
// callers may pass either the full edge set or a pre-filtered one.
func ComputeDiversity(edges []domain.TransactionEdge, accountNumber string) DiversityMetrics {
	counts := make(map[string]int)
	total := 0
	for _, e := range edges {
		if e.Performer == e.Beneficiary {
			continue
		}
		switch accountNumber {
		case e.Performer:
			counts[e.Beneficiary]++
			total++
		case e.Beneficiary:
			counts[e.Performer]++
			total++
		}
	}
	return metricsFromCounts(counts, total)
}

// ComputeDiversityAll runs the per-account computation over every account.
// A single pass over the edge set builds the counterparty occurrence index;
// the per-account metrics are then computed in parallel.
func ComputeDiversityAll(ctx context.Context, accounts []string, edges []domain.TransactionEdge, parallelism int) ([]DiversityMetrics, error) {
	if parallelism <= 0 {
		parallelism = 1
	}

	occurrences := make(map[string]map[string]int, len(accounts))
	totals := make(map[string]int, len(accounts))
	record := func(account, counterparty string) {
		m, ok := occurrences[account]
		if !ok {
			m = make(map[string]int)
			occurrences[account] = m
		}
		m[counterparty]++
		totals[account]++
	}
	for _, e := range edges {
		if e.Performer == e.Beneficiary {
			continue
		}
		record(e.Performer, e.Beneficiary)
		record(e.Beneficiary, e.Performer)
	}

	metrics := make([]DiversityMetrics, len(accounts))
	workers := parallelism
	if workers > len(accounts) {
		workers = len(accounts)
	}
	if workers == 0 {
		return metrics, nil
	}
	chunk := (len(accounts) + workers - 1) / workers

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for start := 0; start < len(accounts); start += chunk {
		start := start
		end := start + chunk
		if end > len(accounts) {
			end = len(accounts)
		}
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				metrics[i] = metricsFromCounts(occurrences[accounts[i]], totals[accounts[i]])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return metrics, nil
}

func metricsFromCounts(counts map[string]int, total int) DiversityMetrics {
	if total == 0 {
		return DiversityMetrics{}
	}
	top := 0
	for _, c := range counts {
		if c > top {
			top = c
		}
	}
	return DiversityMetrics{
		UniqueCounterparties: len(counts),
		TotalTransactions:    total,
		DiversityRatio:       float64(len(counts)) / float64(total),
		TopCounterpartyShare: float64(top) / float64(total),
	}
}
