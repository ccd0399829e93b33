package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/feature"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/repository"
)

func intPtr(v int) *int           { return &v }
func int64Ptr(v int64) *int64     { return &v }
func floatPtr(v float64) *float64 { return &v }
func stringPtr(v string) *string  { return &v }

func newQueryService(store GraphStore, features *feature.Store, realTime bool) *QueryService {
	return NewQueryService(store, features, realTime, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// neutralRecord carries feature values that trip none of the screening
// rules. Tests override single fields to isolate one rule at a time.
func neutralRecord(accountNumber string) domain.FeatureRecord {
	return domain.FeatureRecord{
		AccountNumber: accountNumber,
		Community: domain.CommunityFeatures{
			CommunityID:   int64Ptr(7),
			CommunitySize: intPtr(4),
			MuleCount:     intPtr(0),
			MuleDensity:   floatPtr(0),
		},
		Diversity: domain.DiversityFeatures{
			UniqueCounterparties: intPtr(4),
			TotalTransactions:    intPtr(8),
			DiversityRatio:       floatPtr(0.5),
			TopCounterpartyShare: floatPtr(0.25),
		},
	}
}

func screeningFixture() *feature.Store {
	mule := neutralRecord("ACC_MULE")
	mule.Proximity = domain.ProximityFeatures{
		DistanceToMule: intPtr(0),
		NearestMuleID:  stringPtr("ACC_MULE"),
		TiedMules:      []string{"ACC_MULE"},
		PathNodes:      []string{"ACC_MULE"},
	}

	near := neutralRecord("ACC_NEAR")
	near.Proximity = domain.ProximityFeatures{
		DistanceToMule: intPtr(2),
		NearestMuleID:  stringPtr("ACC_MULE"),
		TiedMules:      []string{"ACC_MULE"},
		PathNodes:      []string{"ACC_NEAR", "ACC_X", "ACC_MULE"},
	}

	far := neutralRecord("ACC_FAR")
	far.Proximity = domain.ProximityFeatures{
		DistanceToMule: intPtr(3),
		NearestMuleID:  stringPtr("ACC_MULE"),
		TiedMules:      []string{"ACC_MULE"},
		PathNodes:      []string{"ACC_FAR", "ACC_X", "ACC_Y", "ACC_MULE"},
	}

	dense := neutralRecord("ACC_DENSE")
	dense.Community.MuleDensity = floatPtr(0.25)

	funnel := neutralRecord("ACC_FUNNEL")
	funnel.Diversity.UniqueCounterparties = intPtr(3)
	funnel.Diversity.TotalTransactions = intPtr(60)
	funnel.Diversity.DiversityRatio = floatPtr(0.05)
	funnel.Diversity.TopCounterpartyShare = floatPtr(0.4)

	concentrated := neutralRecord("ACC_CONC")
	concentrated.Diversity.TopCounterpartyShare = floatPtr(0.6)

	clean := neutralRecord("ACC_CLEAN")

	records := []domain.FeatureRecord{mule, near, far, dense, funnel, concentrated, clean}
	summaries := []domain.CommunitySummary{
		{CommunityID: 0, CommunitySize: 3, MuleCount: 1, MuleDensity: 0.3333},
		{CommunityID: 7, CommunitySize: 4, MuleCount: 0, MuleDensity: 0},
	}

	features := feature.NewStore()
	features.Publish(feature.NewSnapshot(records, summaries))
	return features
}

func TestQueryService_AccountFeatures(t *testing.T) {
	features := screeningFixture()
	svc := newQueryService(repository.NewMemoryStore(nil, nil), features, false)

	record, generation, err := svc.AccountFeatures("ACC_DENSE")
	if err != nil {
		t.Fatalf("AccountFeatures returned error: %v", err)
	}
	if generation != 1 {
		t.Errorf("expected generation 1, got %d", generation)
	}
	if record.Community.MuleDensity == nil || *record.Community.MuleDensity != 0.25 {
		t.Errorf("unexpected record: %+v", record.Community)
	}

	_, _, err = svc.AccountFeatures("ACC_MISSING")
	var unknown *feature.UnknownAccountError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownAccountError, got %v", err)
	}
	if unknown.AccountNumber != "ACC_MISSING" {
		t.Errorf("unexpected account in error: %s", unknown.AccountNumber)
	}

	if _, _, err := svc.AccountFeatures(""); err == nil {
		t.Fatal("expected an error for an empty account number")
	}
}

func TestQueryService_AccountFeaturesBeforeFirstRun(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), feature.NewStore(), false)

	_, _, err := svc.AccountFeatures("ACC_1")
	var unknown *feature.UnknownAccountError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownAccountError, got %v", err)
	}
}

func TestQueryService_CommunitySummaries(t *testing.T) {
	empty := newQueryService(repository.NewMemoryStore(nil, nil), feature.NewStore(), false)
	summaries, generation := empty.CommunitySummaries()
	if len(summaries) != 0 || generation != 0 {
		t.Fatalf("expected no summaries before the first run, got %d at generation %d", len(summaries), generation)
	}

	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)
	summaries, generation = svc.CommunitySummaries()
	if generation != 1 {
		t.Errorf("expected generation 1, got %d", generation)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].MuleDensity != 0.3333 {
		t.Errorf("expected the densest community first, got %+v", summaries[0])
	}
}

func evaluate(t *testing.T, svc *QueryService, source, target string) *domain.TransactionEvaluation {
	t.Helper()
	evaluation, err := svc.EvaluateTransaction(context.Background(), source, target)
	if err != nil {
		t.Fatalf("EvaluateTransaction returned error: %v", err)
	}
	return evaluation
}

func hasSignal(signals []domain.RiskSignal, level domain.RiskLevel, fragment string) bool {
	for _, s := range signals {
		if s.Level == level && strings.Contains(s.Reason, fragment) {
			return true
		}
	}
	return false
}

func TestQueryService_EvaluateTransaction_MuleSource(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)

	evaluation := evaluate(t, svc, "ACC_MULE", "ACC_CLEAN")
	if evaluation.RiskLevel != domain.RiskHigh {
		t.Errorf("expected HIGH, got %s", evaluation.RiskLevel)
	}
	if !hasSignal(evaluation.Signals, domain.RiskHigh, "confirmed mule") {
		t.Errorf("expected a confirmed-mule signal, got %+v", evaluation.Signals)
	}
	if evaluation.Generation != 1 {
		t.Errorf("expected generation 1, got %d", evaluation.Generation)
	}
}

func TestQueryService_EvaluateTransaction_NearMuleTarget(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)

	evaluation := evaluate(t, svc, "ACC_CLEAN", "ACC_NEAR")
	if evaluation.RiskLevel != domain.RiskMedium {
		t.Errorf("expected MEDIUM, got %s", evaluation.RiskLevel)
	}
	if !hasSignal(evaluation.Signals, domain.RiskMedium, "hops from confirmed mule") {
		t.Errorf("expected a proximity signal, got %+v", evaluation.Signals)
	}
}

func TestQueryService_EvaluateTransaction_DistantMuleIsQuiet(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)

	evaluation := evaluate(t, svc, "ACC_FAR", "ACC_CLEAN")
	if evaluation.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW, got %s", evaluation.RiskLevel)
	}
	if len(evaluation.Signals) != 0 {
		t.Errorf("expected no signals, got %+v", evaluation.Signals)
	}
}

func TestQueryService_EvaluateTransaction_DenseCommunityEitherSide(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)

	for _, pair := range [][2]string{{"ACC_CLEAN", "ACC_DENSE"}, {"ACC_DENSE", "ACC_CLEAN"}} {
		evaluation := evaluate(t, svc, pair[0], pair[1])
		if evaluation.RiskLevel != domain.RiskHigh {
			t.Errorf("%s->%s: expected HIGH, got %s", pair[0], pair[1], evaluation.RiskLevel)
		}
		if !hasSignal(evaluation.Signals, domain.RiskHigh, "mule density") {
			t.Errorf("%s->%s: expected a density signal, got %+v", pair[0], pair[1], evaluation.Signals)
		}
		if len(evaluation.Signals) != 1 {
			t.Errorf("%s->%s: expected exactly one signal, got %+v", pair[0], pair[1], evaluation.Signals)
		}
	}
}

func TestQueryService_EvaluateTransaction_FunnelingEitherSide(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)

	for _, pair := range [][2]string{{"ACC_FUNNEL", "ACC_CLEAN"}, {"ACC_CLEAN", "ACC_FUNNEL"}} {
		evaluation := evaluate(t, svc, pair[0], pair[1])
		if evaluation.RiskLevel != domain.RiskHigh {
			t.Errorf("%s->%s: expected HIGH, got %s", pair[0], pair[1], evaluation.RiskLevel)
		}
		if !hasSignal(evaluation.Signals, domain.RiskHigh, "diversity ratio") {
			t.Errorf("%s->%s: expected a low-diversity signal, got %+v", pair[0], pair[1], evaluation.Signals)
		}
		if len(evaluation.Signals) != 1 {
			t.Errorf("%s->%s: expected exactly one signal, got %+v", pair[0], pair[1], evaluation.Signals)
		}
	}
}

func TestQueryService_EvaluateTransaction_ConcentratedAccount(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)

	evaluation := evaluate(t, svc, "ACC_CONC", "ACC_CLEAN")
	if evaluation.RiskLevel != domain.RiskMedium {
		t.Errorf("expected MEDIUM, got %s", evaluation.RiskLevel)
	}
	if !hasSignal(evaluation.Signals, domain.RiskMedium, "top counterparty") {
		t.Errorf("expected a concentration signal, got %+v", evaluation.Signals)
	}

	evaluation = evaluate(t, svc, "ACC_CLEAN", "ACC_CONC")
	if !hasSignal(evaluation.Signals, domain.RiskMedium, "top counterparty") {
		t.Errorf("expected the concentration signal on the target side, got %+v", evaluation.Signals)
	}
}

func TestQueryService_EvaluateTransaction_CombinesSignals(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)

	evaluation := evaluate(t, svc, "ACC_MULE", "ACC_DENSE")
	if evaluation.RiskLevel != domain.RiskHigh {
		t.Errorf("expected HIGH, got %s", evaluation.RiskLevel)
	}
	if len(evaluation.Signals) != 2 {
		t.Errorf("expected 2 signals, got %+v", evaluation.Signals)
	}
}

func TestQueryService_EvaluateTransaction_UnknownAccounts(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)

	evaluation := evaluate(t, svc, "ACC_GHOST", "ACC_PHANTOM")
	if evaluation.Source.Found || evaluation.Target.Found {
		t.Error("expected both accounts to be reported as not found")
	}
	if evaluation.Source.Community.CommunityID != nil {
		t.Error("expected unset features for an unknown account")
	}
	if evaluation.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW, got %s", evaluation.RiskLevel)
	}
	if len(evaluation.Signals) != 0 {
		t.Errorf("expected no signals, got %+v", evaluation.Signals)
	}
	if evaluation.Generation != 1 {
		t.Errorf("expected generation 1, got %d", evaluation.Generation)
	}
}

func TestQueryService_EvaluateTransaction_ValidatesInput(t *testing.T) {
	svc := newQueryService(repository.NewMemoryStore(nil, nil), screeningFixture(), false)

	if _, err := svc.EvaluateTransaction(context.Background(), "", "ACC_CLEAN"); err == nil {
		t.Error("expected an error for an empty source account")
	}
	if _, err := svc.EvaluateTransaction(context.Background(), "ACC_CLEAN", ""); err == nil {
		t.Error("expected an error for an empty target account")
	}
}

func TestQueryService_EvaluateTransaction_RealTimeDiversity(t *testing.T) {
	edges := []domain.TransactionEdge{
		txn("TXN_1", "ACC_CLEAN", "ACC_SINK", 100),
		txn("TXN_2", "ACC_CLEAN", "ACC_SINK", 100),
		txn("TXN_3", "ACC_CLEAN", "ACC_SINK", 100),
	}
	store := repository.NewMemoryStore(nil, edges)
	svc := newQueryService(store, screeningFixture(), true)

	evaluation := evaluate(t, svc, "ACC_CLEAN", "ACC_NEAR")
	diversity := evaluation.Source.Diversity
	if diversity.UniqueCounterparties == nil || *diversity.UniqueCounterparties != 1 {
		t.Errorf("expected live unique counterparties, got %+v", diversity)
	}
	if diversity.TotalTransactions == nil || *diversity.TotalTransactions != 3 {
		t.Errorf("expected live transaction count, got %+v", diversity)
	}
	if diversity.TopCounterpartyShare == nil || *diversity.TopCounterpartyShare != 1.0 {
		t.Errorf("expected live top share, got %+v", diversity)
	}
	if !hasSignal(evaluation.Signals, domain.RiskMedium, "top counterparty") {
		t.Errorf("expected the live concentration to trigger a signal, got %+v", evaluation.Signals)
	}
}

func TestQueryService_EvaluateTransaction_RealTimeDiversityFallsBack(t *testing.T) {
	store := repository.NewMemoryStore(nil, nil).WithLoadError(errors.New("driver timeout"))
	svc := newQueryService(store, screeningFixture(), true)

	evaluation := evaluate(t, svc, "ACC_CLEAN", "ACC_CLEAN")
	diversity := evaluation.Source.Diversity
	if diversity.TopCounterpartyShare == nil || *diversity.TopCounterpartyShare != 0.25 {
		t.Errorf("expected snapshot diversity to survive the failed refresh, got %+v", diversity)
	}
	if len(evaluation.Signals) != 0 {
		t.Errorf("expected no signals, got %+v", evaluation.Signals)
	}
}
