package engine

import (
	"sort"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

// Edge is one adjacency entry of the projected graph.
type Edge struct {
	To     int
	Weight float64
}

// Graph is the weighted undirected account-to-account projection. Accounts
// are arena-indexed: Accounts is sorted by account number and the slice
// index is the node id used throughout the engine. Every undirected edge
// appears in the adjacency list of both endpoints, sorted by neighbor id.
type Graph struct {
	Accounts    []string
	Adjacency   [][]Edge
	Degree      []float64
	TotalWeight float64

	index map[string]int
}

// NumNodes returns the number of accounts in the projection.
func (g *Graph) NumNodes() int {
	return len(g.Accounts)
}

// IndexOf resolves an account number to its node id.
func (g *Graph) IndexOf(accountNumber string) (int, bool) {
	idx, ok := g.index[accountNumber]
	return idx, ok
}

// BuildProjection groups transaction edges by unordered account pair, sums
// amounts, and emits one undirected weighted edge per pair. Self-referencing
// edges are skipped; pairs whose summed weight is zero are dropped. Output
// is independent of input edge order. An edge referencing an unknown
// account, or carrying a negative amount, aborts with GraphLoadError.
func BuildProjection(accounts []domain.Account, edges []domain.TransactionEdge) (*Graph, error) {
	numbers := make([]string, len(accounts))
	for i, acct := range accounts {
		numbers[i] = acct.AccountNumber
	}
	sort.Strings(numbers)

	index := make(map[string]int, len(numbers))
	for i, n := range numbers {
		index[n] = i
	}

	type pair struct{ lo, hi int }
	weights := make(map[pair]float64)

	for _, edge := range edges {
		if edge.Amount < 0 {
			return nil, &GraphLoadError{Performer: edge.Performer, Beneficiary: edge.Beneficiary, Reason: "negative amount"}
		}
		from, ok := index[edge.Performer]
		if !ok {
			return nil, &GraphLoadError{Performer: edge.Performer, Beneficiary: edge.Beneficiary, Reason: "unknown performer account"}
		}
		to, ok := index[edge.Beneficiary]
		if !ok {
			return nil, &GraphLoadError{Performer: edge.Performer, Beneficiary: edge.Beneficiary, Reason: "unknown beneficiary account"}
		}
		if from == to {
			continue
		}
		if from > to {
			from, to = to, from
		}
		weights[pair{from, to}] += edge.Amount
	}

	g := &Graph{
		Accounts:  numbers,
		Adjacency: make([][]Edge, len(numbers)),
		Degree:    make([]float64, len(numbers)),
		index:     index,
	}

	pairs := make([]pair, 0, len(weights))
	for p, w := range weights {
		if w > 0 {
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].lo != pairs[j].lo {
			return pairs[i].lo < pairs[j].lo
		}
		return pairs[i].hi < pairs[j].hi
	})

	for _, p := range pairs {
		w := weights[p]
		g.Adjacency[p.lo] = append(g.Adjacency[p.lo], Edge{To: p.hi, Weight: w})
		g.Adjacency[p.hi] = append(g.Adjacency[p.hi], Edge{To: p.lo, Weight: w})
		g.Degree[p.lo] += w
		g.Degree[p.hi] += w
		g.TotalWeight += w
	}
	for i := range g.Adjacency {
		sort.Slice(g.Adjacency[i], func(a, b int) bool {
			return g.Adjacency[i][a].To < g.Adjacency[i][b].To
		})
	}

	return g, nil
}
