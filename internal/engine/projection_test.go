package engine

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

func accounts(numbers ...string) []domain.Account {
	out := make([]domain.Account, len(numbers))
	for i, n := range numbers {
		out[i] = domain.Account{AccountNumber: n}
	}
	return out
}

func edge(from, to string, amount float64) domain.TransactionEdge {
	return domain.TransactionEdge{
		Performer:   from,
		Beneficiary: to,
		Amount:      amount,
		Timestamp:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuildProjection_SumsPairWeights(t *testing.T) {
	g, err := BuildProjection(accounts("ACC_A", "ACC_B", "ACC_C"), []domain.TransactionEdge{
		edge("ACC_A", "ACC_B", 10),
		edge("ACC_B", "ACC_A", 5),
		edge("ACC_A", "ACC_B", 2.5),
		edge("ACC_B", "ACC_C", 1),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	a, _ := g.IndexOf("ACC_A")
	b, _ := g.IndexOf("ACC_B")
	c, _ := g.IndexOf("ACC_C")

	if len(g.Adjacency[a]) != 1 || g.Adjacency[a][0].To != b || g.Adjacency[a][0].Weight != 17.5 {
		t.Fatalf("expected A-B weight 17.5, got %+v", g.Adjacency[a])
	}
	if len(g.Adjacency[b]) != 2 {
		t.Fatalf("expected B to have 2 neighbors, got %d", len(g.Adjacency[b]))
	}
	if g.Degree[b] != 18.5 {
		t.Errorf("expected degree(B) 18.5, got %v", g.Degree[b])
	}
	if g.Degree[c] != 1 {
		t.Errorf("expected degree(C) 1, got %v", g.Degree[c])
	}
	if g.TotalWeight != 18.5 {
		t.Errorf("expected total weight 18.5, got %v", g.TotalWeight)
	}
}

func TestBuildProjection_WeightsAreSymmetric(t *testing.T) {
	g, err := BuildProjection(accounts("ACC_A", "ACC_B"), []domain.TransactionEdge{
		edge("ACC_A", "ACC_B", 7),
		edge("ACC_B", "ACC_A", 3),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	a, _ := g.IndexOf("ACC_A")
	b, _ := g.IndexOf("ACC_B")
	if g.Adjacency[a][0].Weight != g.Adjacency[b][0].Weight {
		t.Fatalf("expected symmetric weights, got %v and %v", g.Adjacency[a][0].Weight, g.Adjacency[b][0].Weight)
	}
}

func TestBuildProjection_ExcludesSelfEdges(t *testing.T) {
	g, err := BuildProjection(accounts("ACC_A", "ACC_B"), []domain.TransactionEdge{
		edge("ACC_A", "ACC_A", 100),
		edge("ACC_A", "ACC_B", 1),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if g.TotalWeight != 1 {
		t.Fatalf("expected self edge excluded, total weight %v", g.TotalWeight)
	}
}

func TestBuildProjection_DropsZeroWeightPairs(t *testing.T) {
	g, err := BuildProjection(accounts("ACC_A", "ACC_B"), []domain.TransactionEdge{
		edge("ACC_A", "ACC_B", 0),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	a, _ := g.IndexOf("ACC_A")
	if len(g.Adjacency[a]) != 0 {
		t.Fatalf("expected no edge for zero weight, got %+v", g.Adjacency[a])
	}
}

func TestBuildProjection_OrderIndependent(t *testing.T) {
	edges := []domain.TransactionEdge{
		edge("ACC_C", "ACC_A", 4),
		edge("ACC_A", "ACC_B", 10),
		edge("ACC_B", "ACC_C", 2),
		edge("ACC_B", "ACC_A", 5),
	}
	reversed := make([]domain.TransactionEdge, len(edges))
	for i, e := range edges {
		reversed[len(edges)-1-i] = e
	}

	g1, err := BuildProjection(accounts("ACC_B", "ACC_A", "ACC_C"), edges)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	g2, err := BuildProjection(accounts("ACC_A", "ACC_C", "ACC_B"), reversed)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !reflect.DeepEqual(g1, g2) {
		t.Fatalf("projection depends on input order:\n%+v\nvs\n%+v", g1, g2)
	}
}

func TestBuildProjection_UnknownAccountFails(t *testing.T) {
	_, err := BuildProjection(accounts("ACC_A"), []domain.TransactionEdge{
		edge("ACC_A", "ACC_GHOST", 1),
	})
	var loadErr *GraphLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected GraphLoadError, got %v", err)
	}
	if loadErr.Beneficiary != "ACC_GHOST" {
		t.Errorf("expected offending beneficiary ACC_GHOST, got %s", loadErr.Beneficiary)
	}
}

func TestBuildProjection_NegativeAmountFails(t *testing.T) {
	_, err := BuildProjection(accounts("ACC_A", "ACC_B"), []domain.TransactionEdge{
		edge("ACC_A", "ACC_B", -5),
	})
	var loadErr *GraphLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected GraphLoadError, got %v", err)
	}
}
