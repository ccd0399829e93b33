package feature

import (
	"errors"
	"testing"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

func intPtr(v int) *int           { return &v }
func int64Ptr(v int64) *int64     { return &v }
func floatPtr(v float64) *float64 { return &v }
func stringPtr(v string) *string  { return &v }

func sampleRecord(accountNumber string, community int64) domain.FeatureRecord {
	return domain.FeatureRecord{
		AccountNumber: accountNumber,
		Community: domain.CommunityFeatures{
			CommunityID:   int64Ptr(community),
			CommunitySize: intPtr(3),
			MuleCount:     intPtr(1),
			MuleDensity:   floatPtr(0.3333),
		},
		Proximity: domain.ProximityFeatures{
			DistanceToMule: intPtr(2),
			NearestMuleID:  stringPtr("ACC_MULE_1"),
			TiedMules:      []string{"ACC_MULE_1"},
			PathNodes:      []string{accountNumber, "ACC_B", "ACC_MULE_1"},
		},
		Diversity: domain.DiversityFeatures{
			UniqueCounterparties: intPtr(2),
			TotalTransactions:    intPtr(10),
			DiversityRatio:       floatPtr(0.2),
			TopCounterpartyShare: floatPtr(0.8),
		},
	}
}

func TestNewSnapshot_ChecksumIgnoresInputOrder(t *testing.T) {
	a := sampleRecord("ACC_A", 0)
	b := sampleRecord("ACC_B", 1)

	first := NewSnapshot([]domain.FeatureRecord{a, b}, nil)
	second := NewSnapshot([]domain.FeatureRecord{b, a}, nil)

	if first.Checksum == "" {
		t.Fatalf("expected non-empty checksum")
	}
	if first.Checksum != second.Checksum {
		t.Fatalf("checksum depends on input order: %s vs %s", first.Checksum, second.Checksum)
	}
}

func TestNewSnapshot_ChecksumReflectsContent(t *testing.T) {
	base := sampleRecord("ACC_A", 0)
	changed := sampleRecord("ACC_A", 0)
	changed.Diversity.TopCounterpartyShare = floatPtr(0.9)

	first := NewSnapshot([]domain.FeatureRecord{base}, nil)
	second := NewSnapshot([]domain.FeatureRecord{changed}, nil)

	if first.Checksum == second.Checksum {
		t.Fatalf("expected differing checksums for differing records")
	}
}

func TestNewSnapshot_ChecksumDistinguishesNilFromZero(t *testing.T) {
	withNil := sampleRecord("ACC_A", 0)
	withNil.Community.MuleDensity = nil
	withZero := sampleRecord("ACC_A", 0)
	withZero.Community.MuleDensity = floatPtr(0)

	first := NewSnapshot([]domain.FeatureRecord{withNil}, nil)
	second := NewSnapshot([]domain.FeatureRecord{withZero}, nil)

	if first.Checksum == second.Checksum {
		t.Fatalf("expected nil and zero density to hash differently")
	}
}

func TestSnapshot_RecordsSortedByAccount(t *testing.T) {
	snap := NewSnapshot([]domain.FeatureRecord{
		sampleRecord("ACC_C", 2),
		sampleRecord("ACC_A", 0),
		sampleRecord("ACC_B", 1),
	}, nil)

	accounts := snap.Accounts()
	if len(accounts) != 3 || accounts[0] != "ACC_A" || accounts[2] != "ACC_C" {
		t.Fatalf("expected sorted accounts, got %v", accounts)
	}
	records := snap.Records()
	if records[1].AccountNumber != "ACC_B" {
		t.Fatalf("expected records in account order, got %s", records[1].AccountNumber)
	}
}

func TestStore_PublishAssignsMonotonicGenerations(t *testing.T) {
	store := NewStore()

	if store.Current() != nil {
		t.Fatalf("expected no snapshot before first publish")
	}

	g1 := store.Publish(NewSnapshot([]domain.FeatureRecord{sampleRecord("ACC_A", 0)}, nil))
	g2 := store.Publish(NewSnapshot([]domain.FeatureRecord{sampleRecord("ACC_A", 0)}, nil))
	g3 := store.Publish(NewSnapshot(nil, nil))

	if g1 != 1 || g2 != 2 || g3 != 3 {
		t.Fatalf("expected generations 1,2,3, got %d,%d,%d", g1, g2, g3)
	}
	if store.Current().Generation != 3 {
		t.Fatalf("expected live generation 3, got %d", store.Current().Generation)
	}
}

func TestStore_SwapKeepsOldSnapshotReadable(t *testing.T) {
	store := NewStore()
	store.Publish(NewSnapshot([]domain.FeatureRecord{sampleRecord("ACC_A", 0)}, nil))

	old := store.Current()
	store.Publish(NewSnapshot([]domain.FeatureRecord{sampleRecord("ACC_B", 5)}, nil))

	if _, ok := old.Record("ACC_A"); !ok {
		t.Fatalf("expected old snapshot to keep its records")
	}
	if _, ok := store.Current().Record("ACC_A"); ok {
		t.Fatalf("expected new snapshot to replace records")
	}
}

func TestStore_LookupUnknownAccount(t *testing.T) {
	store := NewStore()

	_, err := store.Lookup("ACC_MISSING")
	var unknown *UnknownAccountError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownAccountError before any publish, got %v", err)
	}

	store.Publish(NewSnapshot([]domain.FeatureRecord{sampleRecord("ACC_A", 0)}, nil))

	if _, err := store.Lookup("ACC_A"); err != nil {
		t.Fatalf("expected known account lookup to succeed, got %v", err)
	}
	_, err = store.Lookup("ACC_MISSING")
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownAccountError for missing account, got %v", err)
	}
	if unknown.AccountNumber != "ACC_MISSING" {
		t.Fatalf("expected offending account in error, got %s", unknown.AccountNumber)
	}
}
