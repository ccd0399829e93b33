package engine

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// ProximityConfig carries the bounded BFS parameters.
type ProximityConfig struct {
	MaxDepth    int // hop limit; accounts beyond it report no distance
	Parallelism int // workers for frontier expansion
}

// DefaultProximityConfig returns the standard parameter set.
func DefaultProximityConfig() ProximityConfig {
	return ProximityConfig{MaxDepth: 10, Parallelism: runtime.NumCPU()}
}

func (c ProximityConfig) normalized() ProximityConfig {
	def := DefaultProximityConfig()
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.Parallelism <= 0 {
		c.Parallelism = def.Parallelism
	}
	return c
}

// ProximityResult holds per-node mule proximity, indexed by projection
// node id. Distance is -1 for accounts with no confirmed mule within
// MaxDepth hops; their Nearest is empty and TiedMules/PathNodes nil.
// TiedMules lists every mule at the minimal distance in ascending account
// number order; Nearest is the first of them. PathNodes is one
// representative minimal path from the account to Nearest.
type ProximityResult struct {
	Distance  []int
	Nearest   []string
	TiedMules [][]string
	PathNodes [][]string
}

// ComputeProximity runs a level-synchronous breadth-first search seeded
// from every confirmed mule at distance 0. Each level's frontier is
// expanded in parallel; claims on the same unvisited neighbor are merged
// at the level barrier, recording the union of all minimal-distance mule
// sources, so a node is assigned its distance exactly once. The account
// arena is sorted by account number, which makes the smallest tied source
// index the smallest tied account number. Cancellation is honoured
// between levels.
func ComputeProximity(ctx context.Context, g *Graph, muleIDs []string, cfg ProximityConfig) (*ProximityResult, error) {
	cfg = cfg.normalized()
	n := g.NumNodes()

	dist := make([]int, n)
	pred := make([]int, n)
	sources := make([][]int, n)
	for i := range dist {
		dist[i] = -1
		pred[i] = -1
	}

	var frontier []int
	for _, id := range muleIDs {
		idx, ok := g.IndexOf(id)
		if !ok {
			continue
		}
		if dist[idx] == 0 {
			continue
		}
		dist[idx] = 0
		sources[idx] = []int{idx}
		frontier = append(frontier, idx)
	}
	sort.Ints(frontier)

	for level := 0; level < cfg.MaxDepth && len(frontier) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		claims, err := expandFrontier(ctx, g, cfg, frontier, dist, sources)
		if err != nil {
			return nil, err
		}

		next := make([]int, 0, len(claims))
		for v, claim := range claims {
			dist[v] = level + 1
			sources[v] = claim.sources
			pred[v] = claim.pred
			next = append(next, v)
		}
		sort.Ints(next)
		frontier = next
	}

	res := &ProximityResult{
		Distance:  dist,
		Nearest:   make([]string, n),
		TiedMules: make([][]string, n),
		PathNodes: make([][]string, n),
	}
	for v := 0; v < n; v++ {
		if dist[v] < 0 {
			continue
		}
		res.Nearest[v] = g.Accounts[sources[v][0]]
		tied := make([]string, len(sources[v]))
		for i, s := range sources[v] {
			tied[i] = g.Accounts[s]
		}
		res.TiedMules[v] = tied
		res.PathNodes[v] = walkPath(g, pred, v)
	}
	return res, nil
}

// nodeClaim accumulates one unvisited node's claims within a level: the
// union of mule sources reaching it and the predecessor whose own nearest
// mule is the claim's smallest source.
type nodeClaim struct {
	sources []int
	pred    int
}

func expandFrontier(ctx context.Context, g *Graph, cfg ProximityConfig, frontier []int, dist []int, sources [][]int) (map[int]*nodeClaim, error) {
	workers := cfg.Parallelism
	if workers > len(frontier) {
		workers = len(frontier)
	}
	chunk := (len(frontier) + workers - 1) / workers

	locals := make([]map[int]*nodeClaim, 0, workers)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for start := 0; start < len(frontier); start += chunk {
		start := start
		end := start + chunk
		if end > len(frontier) {
			end = len(frontier)
		}
		local := make(map[int]*nodeClaim)
		locals = append(locals, local)
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, u := range frontier[start:end] {
				for _, e := range g.Adjacency[u] {
					v := e.To
					if dist[v] >= 0 {
						continue
					}
					claim, ok := local[v]
					if !ok {
						claim = &nodeClaim{pred: -1}
						local[v] = claim
					}
					mergeClaim(claim, u, sources)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[int]*nodeClaim)
	for _, local := range locals {
		for v, claim := range local {
			dst, ok := merged[v]
			if !ok {
				merged[v] = claim
				continue
			}
			dst.sources = unionSorted(dst.sources, claim.sources)
			if better(claim.pred, dst.pred, sources) {
				dst.pred = claim.pred
			}
		}
	}
	return merged, nil
}

// mergeClaim folds frontier node u into the claim: its sources join the
// union, and u becomes the predecessor if its nearest mule sorts before
// the incumbent's (ties to the lower node id).
func mergeClaim(claim *nodeClaim, u int, sources [][]int) {
	claim.sources = unionSorted(claim.sources, sources[u])
	if better(u, claim.pred, sources) {
		claim.pred = u
	}
}

func better(candidate, incumbent int, sources [][]int) bool {
	if candidate < 0 {
		return false
	}
	if incumbent < 0 {
		return true
	}
	a, b := sources[candidate][0], sources[incumbent][0]
	if a != b {
		return a < b
	}
	return candidate < incumbent
}

func unionSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func walkPath(g *Graph, pred []int, v int) []string {
	path := []string{g.Accounts[v]}
	for cur := v; pred[cur] >= 0; cur = pred[cur] {
		path = append(path, g.Accounts[pred[cur]])
	}
	return path
}
