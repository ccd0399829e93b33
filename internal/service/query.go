package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/engine"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/feature"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/metrics"
)

// Screening thresholds. Distances are hops in the undirected projection.
const (
	highDensityThreshold   = 0.2
	lowDiversityRatio      = 0.1
	highVolumeTransactions = 50
	concentrationShare     = 0.5
	nearMuleDistance       = 2
)

// QueryService answers feature lookups and transaction screening requests
// from the published snapshot. When real-time diversity is enabled,
// evaluations recompute counterparty diversity from the live graph instead
// of the snapshot, so bursts between batch runs are not missed.
type QueryService struct {
	store             GraphStore
	features          *feature.Store
	realTimeDiversity bool
	logger            *slog.Logger
}

// NewQueryService wires the query paths against the snapshot store.
func NewQueryService(store GraphStore, features *feature.Store, realTimeDiversity bool, logger *slog.Logger) *QueryService {
	return &QueryService{
		store:             store,
		features:          features,
		realTimeDiversity: realTimeDiversity,
		logger:            logger,
	}
}

// AccountFeatures returns the feature record for one account together with
// the snapshot generation it came from. Accounts absent from the snapshot
// yield a feature.UnknownAccountError.
func (s *QueryService) AccountFeatures(accountNumber string) (domain.FeatureRecord, uint64, error) {
	if accountNumber == "" {
		return domain.FeatureRecord{}, 0, errors.New("account number is required")
	}
	snap := s.features.Current()
	if snap == nil {
		return domain.FeatureRecord{}, 0, &feature.UnknownAccountError{AccountNumber: accountNumber}
	}
	record, ok := snap.Record(accountNumber)
	if !ok {
		return domain.FeatureRecord{}, 0, &feature.UnknownAccountError{AccountNumber: accountNumber}
	}
	return record, snap.Generation, nil
}

// CommunitySummaries returns the per-community aggregates of the current
// snapshot, ordered by mule density. Before the first batch run it returns
// an empty list at generation zero.
func (s *QueryService) CommunitySummaries() ([]domain.CommunitySummary, uint64) {
	snap := s.features.Current()
	if snap == nil {
		return []domain.CommunitySummary{}, 0
	}
	summaries := make([]domain.CommunitySummary, len(snap.Summaries))
	copy(summaries, snap.Summaries)
	return summaries, snap.Generation
}

// EvaluateTransaction screens a prospective transfer between two accounts.
// Accounts absent from the snapshot produce an assessment with Found false
// and unset features rather than an error, so screening never blocks on
// coverage gaps.
func (s *QueryService) EvaluateTransaction(ctx context.Context, sourceAccount, targetAccount string) (*domain.TransactionEvaluation, error) {
	if sourceAccount == "" {
		return nil, errors.New("source account number is required")
	}
	if targetAccount == "" {
		return nil, errors.New("target account number is required")
	}

	snap := s.features.Current()
	var generation uint64
	if snap != nil {
		generation = snap.Generation
	}

	source := s.assess(ctx, snap, sourceAccount)
	target := s.assess(ctx, snap, targetAccount)

	signals := collectSignals(source, target)
	level := domain.RiskLow
	for _, sig := range signals {
		if sig.Level.Exceeds(level) {
			level = sig.Level
		}
	}

	metrics.EvaluationsTotal.WithLabelValues(string(level)).Inc()
	s.logger.Info("transaction evaluated",
		"sourceAccount", sourceAccount,
		"targetAccount", targetAccount,
		"riskLevel", level,
		"signals", len(signals),
	)

	return &domain.TransactionEvaluation{
		Source:     source,
		Target:     target,
		RiskLevel:  level,
		Signals:    signals,
		Generation: generation,
	}, nil
}

func (s *QueryService) assess(ctx context.Context, snap *feature.Snapshot, accountNumber string) domain.AccountAssessment {
	assessment := domain.AccountAssessment{AccountNumber: accountNumber}
	if snap != nil {
		if record, ok := snap.Record(accountNumber); ok {
			assessment.Found = true
			assessment.Community = record.Community
			assessment.Proximity = record.Proximity
			assessment.Diversity = record.Diversity
		}
	}
	if s.realTimeDiversity {
		s.refreshDiversity(ctx, &assessment)
	}
	return assessment
}

// refreshDiversity recomputes the diversity fields from the account's live
// transactions. A failed load keeps the snapshot values; screening must
// not fail because one auxiliary read did.
func (s *QueryService) refreshDiversity(ctx context.Context, assessment *domain.AccountAssessment) {
	edges, err := s.store.LoadAccountTransactionEdges(ctx, assessment.AccountNumber)
	if err != nil {
		s.logger.Warn("real-time diversity unavailable, using snapshot values",
			"accountNumber", assessment.AccountNumber,
			"error", err,
		)
		return
	}
	m := engine.ComputeDiversity(edges, assessment.AccountNumber)
	assessment.Diversity = domain.DiversityFeatures{
		UniqueCounterparties: &m.UniqueCounterparties,
		TotalTransactions:    &m.TotalTransactions,
		DiversityRatio:       &m.DiversityRatio,
		TopCounterpartyShare: &m.TopCounterpartyShare,
	}
}

func collectSignals(source, target domain.AccountAssessment) []domain.RiskSignal {
	signals := []domain.RiskSignal{}
	signals = append(signals, accountSignals(source)...)
	signals = append(signals, accountSignals(target)...)
	return signals
}

// accountSignals applies the screening rules to one endpoint. Both sides
// of a transfer are screened with the same rules.
func accountSignals(a domain.AccountAssessment) []domain.RiskSignal {
	var signals []domain.RiskSignal
	signals = append(signals, proximitySignals(a)...)

	if d := a.Community.MuleDensity; d != nil && *d > highDensityThreshold {
		signals = append(signals, domain.RiskSignal{
			Level:   domain.RiskHigh,
			Account: a.AccountNumber,
			Reason:  fmt.Sprintf("account %s is in community %d with mule density %.4f", a.AccountNumber, communityID(a), *d),
		})
	}

	ratio := a.Diversity.DiversityRatio
	total := a.Diversity.TotalTransactions
	if ratio != nil && total != nil && *ratio < lowDiversityRatio && *total > highVolumeTransactions {
		signals = append(signals, domain.RiskSignal{
			Level:   domain.RiskHigh,
			Account: a.AccountNumber,
			Reason:  fmt.Sprintf("account %s has diversity ratio %.4f across %d transactions", a.AccountNumber, *ratio, *total),
		})
	}
	if share := a.Diversity.TopCounterpartyShare; share != nil && *share > concentrationShare {
		signals = append(signals, domain.RiskSignal{
			Level:   domain.RiskMedium,
			Account: a.AccountNumber,
			Reason:  fmt.Sprintf("account %s routes %.4f of transaction volume to its top counterparty", a.AccountNumber, *share),
		})
	}
	return signals
}

func proximitySignals(a domain.AccountAssessment) []domain.RiskSignal {
	d := a.Proximity.DistanceToMule
	if d == nil {
		return nil
	}
	switch {
	case *d == 0:
		return []domain.RiskSignal{{
			Level:   domain.RiskHigh,
			Account: a.AccountNumber,
			Reason:  fmt.Sprintf("account %s is a confirmed mule", a.AccountNumber),
		}}
	case *d <= nearMuleDistance:
		nearest := ""
		if a.Proximity.NearestMuleID != nil {
			nearest = *a.Proximity.NearestMuleID
		}
		return []domain.RiskSignal{{
			Level:   domain.RiskMedium,
			Account: a.AccountNumber,
			Reason:  fmt.Sprintf("account %s is %d hops from confirmed mule %s", a.AccountNumber, *d, nearest),
		}}
	}
	return nil
}

func communityID(a domain.AccountAssessment) int64 {
	if a.Community.CommunityID == nil {
		return -1
	}
	return *a.Community.CommunityID
}
