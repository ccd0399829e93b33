package engine

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

func mustProjection(t *testing.T, accts []domain.Account, edges []domain.TransactionEdge) *Graph {
	t.Helper()
	g, err := BuildProjection(accts, edges)
	if err != nil {
		t.Fatalf("failed to build projection: %v", err)
	}
	return g
}

func triangle(a, b, c string) []domain.TransactionEdge {
	return []domain.TransactionEdge{
		edge(a, b, 1),
		edge(b, c, 1),
		edge(c, a, 1),
	}
}

func TestDetectCommunities_TwoTriangles(t *testing.T) {
	accts := accounts("ACC_A", "ACC_B", "ACC_C", "ACC_D", "ACC_E", "ACC_F")
	edges := append(triangle("ACC_A", "ACC_B", "ACC_C"), triangle("ACC_D", "ACC_E", "ACC_F")...)
	g := mustProjection(t, accts, edges)

	result, err := DetectCommunities(context.Background(), g, DefaultDetectionConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Communities != 2 {
		t.Fatalf("expected 2 communities, got %d", result.Communities)
	}
	want := []int{0, 0, 0, 1, 1, 1}
	if !reflect.DeepEqual(result.Assignment, want) {
		t.Fatalf("expected assignment %v, got %v", want, result.Assignment)
	}
	if !result.Converged {
		t.Errorf("expected convergence")
	}
	if math.Abs(result.Modularity-0.5) > 1e-9 {
		t.Errorf("expected modularity 0.5, got %v", result.Modularity)
	}
}

func TestDetectCommunities_MergesConnectedPair(t *testing.T) {
	g := mustProjection(t, accounts("ACC_A", "ACC_B"), []domain.TransactionEdge{
		edge("ACC_A", "ACC_B", 3),
	})

	result, err := DetectCommunities(context.Background(), g, DefaultDetectionConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Communities != 1 {
		t.Fatalf("expected 1 community, got %d", result.Communities)
	}
	if result.Assignment[0] != result.Assignment[1] {
		t.Fatalf("expected both accounts in one community, got %v", result.Assignment)
	}
}

func TestDetectCommunities_NoEdgesYieldsSingletons(t *testing.T) {
	g := mustProjection(t, accounts("ACC_A", "ACC_B", "ACC_C"), nil)

	result, err := DetectCommunities(context.Background(), g, DefaultDetectionConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Communities != 3 {
		t.Fatalf("expected 3 singleton communities, got %d", result.Communities)
	}
	want := []int{0, 1, 2}
	if !reflect.DeepEqual(result.Assignment, want) {
		t.Fatalf("expected assignment %v, got %v", want, result.Assignment)
	}
	if !result.Converged {
		t.Errorf("expected convergence on edgeless graph")
	}
}

func TestDetectCommunities_EmptyGraph(t *testing.T) {
	g := mustProjection(t, nil, nil)

	result, err := DetectCommunities(context.Background(), g, DefaultDetectionConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Communities != 0 || len(result.Assignment) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestDetectCommunities_Deterministic(t *testing.T) {
	accts := accounts("ACC_A", "ACC_B", "ACC_C", "ACC_D", "ACC_E", "ACC_F", "ACC_G", "ACC_H")
	edges := []domain.TransactionEdge{
		edge("ACC_A", "ACC_B", 4),
		edge("ACC_B", "ACC_C", 2),
		edge("ACC_C", "ACC_D", 6),
		edge("ACC_D", "ACC_A", 1),
		edge("ACC_E", "ACC_F", 3),
		edge("ACC_F", "ACC_G", 5),
		edge("ACC_G", "ACC_H", 2),
		edge("ACC_H", "ACC_E", 4),
		edge("ACC_D", "ACC_E", 0.5),
		edge("ACC_A", "ACC_C", 1.5),
	}
	g := mustProjection(t, accts, edges)
	cfg := DefaultDetectionConfig()
	cfg.Parallelism = 4

	first, err := DetectCommunities(context.Background(), g, cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := DetectCommunities(context.Background(), g, cfg)
		if err != nil {
			t.Fatalf("run %d: expected no error, got %v", i, err)
		}
		if !reflect.DeepEqual(first.Assignment, again.Assignment) {
			t.Fatalf("run %d: assignment differs: %v vs %v", i, first.Assignment, again.Assignment)
		}
		if first.Modularity != again.Modularity {
			t.Fatalf("run %d: modularity differs: %v vs %v", i, first.Modularity, again.Modularity)
		}
	}
}

// pairwiseModularity recomputes modularity from its pairwise definition,
// Q = (1/2m) * sum over same-community pairs (i,j) of
// A_ij - resolution*k_i*k_j/(2m). Quadratic, so only for cross-checking
// the incremental bookkeeping on small graphs.
func pairwiseModularity(g *Graph, assignment []int, resolution float64) float64 {
	m2 := 2 * g.TotalWeight
	weight := func(i, j int) float64 {
		for _, e := range g.Adjacency[i] {
			if e.To == j {
				return e.Weight
			}
		}
		return 0
	}
	var q float64
	for i := 0; i < g.NumNodes(); i++ {
		for j := 0; j < g.NumNodes(); j++ {
			if assignment[i] != assignment[j] {
				continue
			}
			q += weight(i, j) - resolution*g.Degree[i]*g.Degree[j]/m2
		}
	}
	return q / m2
}

func TestDetectCommunities_ModularityMatchesPairwiseDefinition(t *testing.T) {
	accts := accounts("ACC_A", "ACC_B", "ACC_C", "ACC_D", "ACC_E", "ACC_F", "ACC_G", "ACC_H")
	edges := []domain.TransactionEdge{
		edge("ACC_A", "ACC_B", 4),
		edge("ACC_B", "ACC_C", 2),
		edge("ACC_C", "ACC_D", 6),
		edge("ACC_D", "ACC_A", 1),
		edge("ACC_E", "ACC_F", 3),
		edge("ACC_F", "ACC_G", 5),
		edge("ACC_G", "ACC_H", 2),
		edge("ACC_H", "ACC_E", 4),
		edge("ACC_D", "ACC_E", 0.5),
		edge("ACC_A", "ACC_C", 1.5),
	}
	g := mustProjection(t, accts, edges)

	for _, resolution := range []float64{1.0, 1.5} {
		cfg := DefaultDetectionConfig()
		cfg.Resolution = resolution
		result, err := DetectCommunities(context.Background(), g, cfg)
		if err != nil {
			t.Fatalf("resolution %v: expected no error, got %v", resolution, err)
		}
		want := pairwiseModularity(g, result.Assignment, resolution)
		if math.Abs(result.Modularity-want) > 1e-9 {
			t.Errorf("resolution %v: reported modularity %v, pairwise recount gives %v", resolution, result.Modularity, want)
		}
	}
}

func TestDetectCommunities_SizesCoverAllAccounts(t *testing.T) {
	accts := accounts("ACC_A", "ACC_B", "ACC_C", "ACC_D", "ACC_E")
	edges := []domain.TransactionEdge{
		edge("ACC_A", "ACC_B", 2),
		edge("ACC_C", "ACC_D", 3),
	}
	g := mustProjection(t, accts, edges)

	result, err := DetectCommunities(context.Background(), g, DefaultDetectionConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	sizes := make(map[int]int)
	for _, c := range result.Assignment {
		if c < 0 || c >= result.Communities {
			t.Fatalf("community id %d out of range [0,%d)", c, result.Communities)
		}
		sizes[c]++
	}
	total := 0
	for _, n := range sizes {
		total += n
	}
	if total != len(accts) {
		t.Fatalf("community sizes sum to %d, expected %d", total, len(accts))
	}
}

func TestDetectCommunities_ImprovesOverSingletons(t *testing.T) {
	accts := accounts("ACC_A", "ACC_B", "ACC_C", "ACC_D", "ACC_E", "ACC_F")
	edges := append(triangle("ACC_A", "ACC_B", "ACC_C"), triangle("ACC_D", "ACC_E", "ACC_F")...)
	g := mustProjection(t, accts, edges)

	result, err := DetectCommunities(context.Background(), g, DefaultDetectionConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Modularity <= 0 {
		t.Fatalf("expected positive modularity, got %v", result.Modularity)
	}
	if result.Levels < 1 {
		t.Fatalf("expected at least one level, got %d", result.Levels)
	}
}

func TestDetectCommunities_CanceledContext(t *testing.T) {
	g := mustProjection(t, accounts("ACC_A", "ACC_B"), []domain.TransactionEdge{
		edge("ACC_A", "ACC_B", 1),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := DetectCommunities(ctx, g, DefaultDetectionConfig()); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
