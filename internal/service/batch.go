package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/config"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/engine"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/feature"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/metrics"
)

// ErrConcurrentMutation indicates the graph changed while a batch run was
// computing features from it. The run is aborted and the previously
// published snapshot stays live.
var ErrConcurrentMutation = errors.New("graph mutated during feature computation")

// ErrBatchInFlight indicates a batch run is already in progress.
var ErrBatchInFlight = errors.New("a batch run is already in progress")

// BatchService executes the feature computation pipeline: load a graph
// snapshot, derive community, proximity and diversity features, write them
// back, and publish the assembled snapshot for serving.
type BatchService struct {
	store     GraphStore
	features  *feature.Store
	detection engine.DetectionConfig
	proximity engine.ProximityConfig
	logger    *slog.Logger

	running atomic.Bool

	mu         sync.Mutex
	lastResult *BatchResult
	lastError  string
	lastRunAt  time.Time
}

// NewBatchService wires the pipeline against the given stores.
func NewBatchService(store GraphStore, features *feature.Store, cfg config.DetectionConfig, logger *slog.Logger) *BatchService {
	detection := engine.DefaultDetectionConfig()
	if cfg.Resolution > 0 {
		detection.Resolution = cfg.Resolution
	}
	if cfg.Tolerance > 0 {
		detection.Tolerance = cfg.Tolerance
	}
	if cfg.MaxPasses > 0 {
		detection.MaxPasses = cfg.MaxPasses
	}
	if cfg.MaxLevels > 0 {
		detection.MaxLevels = cfg.MaxLevels
	}
	if cfg.Parallelism > 0 {
		detection.Parallelism = cfg.Parallelism
	}

	proximity := engine.DefaultProximityConfig()
	if cfg.ProximityMaxDepth > 0 {
		proximity.MaxDepth = cfg.ProximityMaxDepth
	}
	if cfg.Parallelism > 0 {
		proximity.Parallelism = cfg.Parallelism
	}

	return &BatchService{
		store:     store,
		features:  features,
		detection: detection,
		proximity: proximity,
		logger:    logger,
	}
}

// Running reports whether a batch run is currently in progress.
func (s *BatchService) Running() bool {
	return s.running.Load()
}

// Status returns the pipeline's current state.
func (s *BatchService) Status() BatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BatchStatus{
		Running:    s.running.Load(),
		LastResult: s.lastResult,
		LastError:  s.lastError,
		LastRunAt:  s.lastRunAt,
	}
}

// Run executes one batch run. Only one run may be in flight at a time;
// concurrent callers receive ErrBatchInFlight.
func (s *BatchService) Run(ctx context.Context) (*BatchResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBatchInFlight
	}
	defer s.running.Store(false)

	started := time.Now().UTC()
	s.logger.Info("batch run started")

	result, err := s.run(ctx, started)

	s.mu.Lock()
	s.lastRunAt = started
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		s.lastResult = result
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		metrics.BatchRunsTotal.WithLabelValues("completed").Inc()
		metrics.BatchDuration.Observe(result.Duration().Seconds())
		s.logger.Info("batch run completed",
			"generation", result.Generation,
			"accounts", result.Accounts,
			"edges", result.Edges,
			"communities", result.Communities,
			"modularity", result.Modularity,
			"converged", result.Converged,
			"duration_ms", result.Duration().Milliseconds(),
		)
	case errors.Is(err, ErrConcurrentMutation):
		metrics.BatchRunsTotal.WithLabelValues("conflict").Inc()
		s.logger.Warn("batch run aborted", "error", err)
	default:
		metrics.BatchRunsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("batch run failed", "error", err)
	}

	return result, err
}

func (s *BatchService) run(ctx context.Context, started time.Time) (*BatchResult, error) {
	accounts, err := s.store.LoadAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	edges, err := s.store.LoadTransactionEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transaction edges: %w", err)
	}
	checksum := graphChecksum(accounts, edges)
	s.logger.Info("graph snapshot loaded", "accounts", len(accounts), "edges", len(edges))

	g, err := engine.BuildProjection(accounts, edges)
	if err != nil {
		return nil, fmt.Errorf("build projection: %w", err)
	}

	detection, err := engine.DetectCommunities(ctx, g, s.detection)
	if err != nil {
		return nil, fmt.Errorf("detect communities: %w", err)
	}
	if !detection.Converged {
		metrics.ConvergenceMissesTotal.Inc()
		s.logger.Warn("community detection exhausted its budget before converging",
			"levels", detection.Levels,
			"modularity", detection.Modularity,
		)
	}

	muleByAccount := make(map[string]bool, len(accounts))
	var muleIDs []string
	for _, a := range accounts {
		if a.IsConfirmedMule() {
			muleByAccount[a.AccountNumber] = true
			muleIDs = append(muleIDs, a.AccountNumber)
		}
	}
	muleFlags := make([]bool, g.NumNodes())
	for i, n := range g.Accounts {
		muleFlags[i] = muleByAccount[n]
	}

	density := engine.ComputeDensity(detection.Assignment, detection.Communities, muleFlags)

	proximity, err := engine.ComputeProximity(ctx, g, muleIDs, s.proximity)
	if err != nil {
		return nil, fmt.Errorf("compute proximity: %w", err)
	}

	diversity, err := engine.ComputeDiversityAll(ctx, g.Accounts, edges, s.detection.Parallelism)
	if err != nil {
		return nil, fmt.Errorf("compute diversity: %w", err)
	}

	records := assembleRecords(g, detection, density, proximity, diversity)

	// The graph must be unchanged between the load and the commit,
	// otherwise the computed features describe a graph that no longer
	// exists. Both loads observe the same ordering, so equal checksums
	// mean equal content.
	verifyAccounts, err := s.store.LoadAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify accounts: %w", err)
	}
	verifyEdges, err := s.store.LoadTransactionEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify transaction edges: %w", err)
	}
	if verify := graphChecksum(verifyAccounts, verifyEdges); verify != checksum {
		return nil, fmt.Errorf("checksum %s became %s: %w", shortChecksum(checksum), shortChecksum(verify), ErrConcurrentMutation)
	}

	if err := s.store.CommitFeatureSnapshot(ctx, records); err != nil {
		return nil, fmt.Errorf("commit feature snapshot: %w", err)
	}

	snap := feature.NewSnapshot(records, density.Summaries)
	generation := s.features.Publish(snap)

	metrics.SnapshotAccounts.Set(float64(snap.Len()))
	metrics.SnapshotCommunities.Set(float64(detection.Communities))
	metrics.SnapshotGeneration.Set(float64(generation))

	return &BatchResult{
		Generation:  generation,
		Accounts:    len(accounts),
		Edges:       len(edges),
		MuleCount:   len(muleIDs),
		Communities: detection.Communities,
		Levels:      detection.Levels,
		Modularity:  detection.Modularity,
		Converged:   detection.Converged,
		Checksum:    snap.Checksum,
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
	}, nil
}

func assembleRecords(g *engine.Graph, detection *engine.CommunityResult, density *engine.DensityResult, proximity *engine.ProximityResult, diversity []engine.DiversityMetrics) []domain.FeatureRecord {
	records := make([]domain.FeatureRecord, g.NumNodes())
	for i, accountNumber := range g.Accounts {
		rec := domain.FeatureRecord{AccountNumber: accountNumber}

		communityID := int64(detection.Assignment[i])
		size := density.CommunitySize[i]
		mules := density.MuleCount[i]
		dens := density.MuleDensity[i]
		rec.Community = domain.CommunityFeatures{
			CommunityID:   &communityID,
			CommunitySize: &size,
			MuleCount:     &mules,
			MuleDensity:   &dens,
		}

		if proximity.Distance[i] >= 0 {
			distance := proximity.Distance[i]
			nearest := proximity.Nearest[i]
			rec.Proximity = domain.ProximityFeatures{
				DistanceToMule: &distance,
				NearestMuleID:  &nearest,
				TiedMules:      proximity.TiedMules[i],
				PathNodes:      proximity.PathNodes[i],
			}
		}

		unique := diversity[i].UniqueCounterparties
		total := diversity[i].TotalTransactions
		ratio := diversity[i].DiversityRatio
		topShare := diversity[i].TopCounterpartyShare
		rec.Diversity = domain.DiversityFeatures{
			UniqueCounterparties: &unique,
			TotalTransactions:    &total,
			DiversityRatio:       &ratio,
			TopCounterpartyShare: &topShare,
		}

		records[i] = rec
	}
	return records
}

// graphChecksum hashes the loaded graph content. Labels are sorted per
// account because the graph store does not guarantee their order.
func graphChecksum(accounts []domain.Account, edges []domain.TransactionEdge) string {
	h := sha256.New()
	for _, a := range accounts {
		io.WriteString(h, a.AccountNumber)
		labels := make([]string, len(a.Labels))
		for i, l := range a.Labels {
			labels[i] = string(l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			io.WriteString(h, "|")
			io.WriteString(h, l)
		}
		io.WriteString(h, "\n")
	}
	for _, e := range edges {
		io.WriteString(h, e.TransactionID)
		io.WriteString(h, "|")
		io.WriteString(h, e.Performer)
		io.WriteString(h, "|")
		io.WriteString(h, e.Beneficiary)
		io.WriteString(h, "|")
		io.WriteString(h, strconv.FormatFloat(e.Amount, 'g', -1, 64))
		io.WriteString(h, "|")
		io.WriteString(h, strconv.FormatInt(e.Timestamp.UTC().UnixNano(), 10))
		io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
