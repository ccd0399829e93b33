package engine

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DetectionConfig carries the community detection parameters.
type DetectionConfig struct {
	Resolution  float64 // modularity resolution (higher favours smaller communities)
	Tolerance   float64 // minimum modularity improvement to keep iterating
	MaxPasses   int     // local-moving passes per level
	MaxLevels   int     // hierarchy levels
	Parallelism int     // workers for candidate evaluation
}

// DefaultDetectionConfig returns the standard parameter set.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Resolution:  1.0,
		Tolerance:   1e-6,
		MaxPasses:   10,
		MaxLevels:   10,
		Parallelism: runtime.NumCPU(),
	}
}

func (c DetectionConfig) normalized() DetectionConfig {
	def := DefaultDetectionConfig()
	if c.Resolution <= 0 {
		c.Resolution = def.Resolution
	}
	if c.Tolerance <= 0 {
		c.Tolerance = def.Tolerance
	}
	if c.MaxPasses <= 0 {
		c.MaxPasses = def.MaxPasses
	}
	if c.MaxLevels <= 0 {
		c.MaxLevels = def.MaxLevels
	}
	if c.Parallelism <= 0 {
		c.Parallelism = def.Parallelism
	}
	return c
}

// CommunityResult is the outcome of community detection. Assignment maps
// every node id of the projected graph to a community id, renumbered
// 0..Communities-1 in order of first appearance over ascending node ids so
// reruns over the same graph produce identical ids. Converged is false
// when pass or level limits were exhausted while the partition was still
// changing; the assignment is then the best partition found.
type CommunityResult struct {
	Assignment  []int
	Communities int
	Levels      int
	Modularity  float64
	Converged   bool
}

// DetectCommunities runs modularity-optimizing clustering over the
// projection. Each node starts in its own community. Per level, candidate
// moves for all nodes are evaluated in parallel against the assignment the
// pass started from, then committed one node at a time in ascending id
// order, re-validated against the live state so that every applied move
// strictly increases modularity. The level's communities are then
// aggregated into a coarser graph and the process recurses until no merges
// happen, the improvement drops below tolerance, or limits are reached.
// Cancellation is honoured between passes and levels.
func DetectCommunities(ctx context.Context, g *Graph, cfg DetectionConfig) (*CommunityResult, error) {
	cfg = cfg.normalized()
	n := g.NumNodes()
	if n == 0 {
		return &CommunityResult{Assignment: []int{}, Converged: true}, nil
	}

	wg := &workGraph{
		n:      n,
		adj:    g.Adjacency,
		self:   make([]float64, n),
		degree: g.Degree,
		m2:     2 * g.TotalWeight,
	}

	assignment := make([]int, n)
	for i := range assignment {
		assignment[i] = i
	}

	// A graph without edges keeps every account in its own community.
	if wg.m2 == 0 {
		return &CommunityResult{
			Assignment:  assignment,
			Communities: n,
			Converged:   true,
		}, nil
	}

	converged := true
	levels := 0
	var modularity float64
	prevQ := singletonModularity(wg, cfg.Resolution)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state, exhausted, err := localMovePhase(ctx, wg, cfg)
		if err != nil {
			return nil, err
		}
		if exhausted {
			converged = false
		}

		q := state.modularity(cfg.Resolution)
		coarse, mapping := aggregate(wg, state.comm)
		for i := range assignment {
			assignment[i] = mapping[assignment[i]]
		}
		levels++
		modularity = q

		merged := coarse.n < wg.n
		improvement := q - prevQ
		prevQ = q
		wg = coarse

		if !merged {
			break
		}
		if improvement < cfg.Tolerance {
			break
		}
		if levels >= cfg.MaxLevels {
			converged = false
			break
		}
	}

	final := make([]int, n)
	remap := make(map[int]int)
	next := 0
	for i, c := range assignment {
		id, ok := remap[c]
		if !ok {
			id = next
			remap[c] = id
			next++
		}
		final[i] = id
	}

	return &CommunityResult{
		Assignment:  final,
		Communities: next,
		Levels:      levels,
		Modularity:  modularity,
		Converged:   converged,
	}, nil
}

// workGraph is one level of the hierarchy. Self-loops hold aggregated
// intra-community weight: they contribute 2w to a node's degree and are
// never a move target, but keep total weight bookkeeping intact across
// levels (m2 is invariant).
type workGraph struct {
	n      int
	adj    [][]Edge
	self   []float64
	degree []float64
	m2     float64
}

// moveState is the mutable bookkeeping of a local-moving phase: the
// community label per node, each community's total weighted degree, and
// twice each community's internal weight.
type moveState struct {
	wg   *workGraph
	comm []int
	tot  []float64
	in   []float64
}

func newMoveState(wg *workGraph) *moveState {
	st := &moveState{
		wg:   wg,
		comm: make([]int, wg.n),
		tot:  make([]float64, wg.n),
		in:   make([]float64, wg.n),
	}
	for i := 0; i < wg.n; i++ {
		st.comm[i] = i
		st.tot[i] = wg.degree[i]
		st.in[i] = 2 * wg.self[i]
	}
	return st
}

func (st *moveState) modularity(resolution float64) float64 {
	m2 := st.wg.m2
	var q float64
	for c := 0; c < st.wg.n; c++ {
		if st.tot[c] == 0 && st.in[c] == 0 {
			continue
		}
		frac := st.tot[c] / m2
		q += st.in[c]/m2 - resolution*frac*frac
	}
	return q
}

func singletonModularity(wg *workGraph, resolution float64) float64 {
	st := newMoveState(wg)
	return st.modularity(resolution)
}

// neighborWeights sums i's edge weights per adjacent community under the
// given assignment. Adjacency order is fixed, so the float accumulation
// order is too.
func (st *moveState) neighborWeights(i int, comm []int) map[int]float64 {
	weights := make(map[int]float64, len(st.wg.adj[i]))
	for _, e := range st.wg.adj[i] {
		weights[comm[e.To]] += e.Weight
	}
	return weights
}

// bestMove returns the community i should join under the given view of
// assignment and community degrees, together with the net modularity gain
// over staying put. The gain of joining C follows
// [k_i,in(C) - resolution*k_i*tot(C)/(2m)] / m, with tot(C) excluding i
// when i is already a member. Candidates are scanned in ascending
// community id so equal gains resolve to the lowest id, and staying wins
// any tie at zero net gain.
func (st *moveState) bestMove(i int, comm []int, tot []float64, resolution float64) (int, float64) {
	weights := st.neighborWeights(i, comm)
	current := comm[i]
	ki := st.wg.degree[i]
	m := st.wg.m2 / 2

	gainOf := func(c int) float64 {
		totC := tot[c]
		if c == current {
			totC -= ki
		}
		return (weights[c] - resolution*ki*totC/st.wg.m2) / m
	}

	candidates := make([]int, 0, len(weights)+1)
	seen := false
	for c := range weights {
		if c == current {
			seen = true
		}
		candidates = append(candidates, c)
	}
	if !seen {
		candidates = append(candidates, current)
	}
	sort.Ints(candidates)

	currentGain := gainOf(current)
	best := current
	bestGain := currentGain
	for _, c := range candidates {
		if c == current {
			continue
		}
		if g := gainOf(c); g > bestGain {
			best = c
			bestGain = g
		}
	}
	return best, bestGain - currentGain
}

func (st *moveState) apply(i, target int) {
	weights := st.neighborWeights(i, st.comm)
	current := st.comm[i]
	ki := st.wg.degree[i]
	selfW := st.wg.self[i]

	st.tot[current] -= ki
	st.in[current] -= 2*weights[current] + 2*selfW
	st.tot[target] += ki
	st.in[target] += 2*weights[target] + 2*selfW
	st.comm[i] = target
}

// localMovePhase sweeps passes until one applies no move, the pass gain
// drops below tolerance, or MaxPasses is hit. The second return value
// reports whether the pass budget ran out while moves were still being
// applied.
func localMovePhase(ctx context.Context, wg *workGraph, cfg DetectionConfig) (*moveState, bool, error) {
	st := newMoveState(wg)
	proposals := make([]int, wg.n)

	for pass := 0; pass < cfg.MaxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		if err := st.proposeMoves(ctx, cfg, proposals); err != nil {
			return nil, false, err
		}

		applied := 0
		var passGain float64
		for i := 0; i < wg.n; i++ {
			if proposals[i] < 0 {
				continue
			}
			target, gain := st.bestMove(i, st.comm, st.tot, cfg.Resolution)
			if target == st.comm[i] || gain <= 0 {
				continue
			}
			st.apply(i, target)
			applied++
			passGain += gain
		}

		if applied == 0 {
			return st, false, nil
		}
		if passGain < cfg.Tolerance {
			return st, false, nil
		}
	}
	// Budget exhausted; check whether the partition had already settled.
	if err := st.proposeMoves(ctx, cfg, proposals); err != nil {
		return nil, false, err
	}
	for i := 0; i < wg.n; i++ {
		if proposals[i] >= 0 {
			return st, true, nil
		}
	}
	return st, false, nil
}

// proposeMoves evaluates every node's best candidate move in parallel
// against a snapshot of the current assignment. proposals[i] is the
// candidate community, or -1 when i has nothing better than staying.
// Commit decisions are re-derived sequentially afterwards, so proposals
// only prefilter the sweep.
func (st *moveState) proposeMoves(ctx context.Context, cfg DetectionConfig, proposals []int) error {
	n := st.wg.n
	commSnap := append([]int(nil), st.comm...)
	totSnap := append([]float64(nil), st.tot...)

	workers := cfg.Parallelism
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		start := start
		end := start + chunk
		if end > n {
			end = n
		}
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				target, gain := st.bestMove(i, commSnap, totSnap, cfg.Resolution)
				if target != commSnap[i] && gain > 0 {
					proposals[i] = target
				} else {
					proposals[i] = -1
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

// aggregate collapses each community into a single node of a coarser
// graph. Inter-community weights are summed into regular edges;
// intra-community weight (including carried self-loops) becomes the new
// node's self-loop. Returns the coarser graph and the mapping from old
// node id to new node id, with new ids assigned in ascending order of old
// community label.
func aggregate(wg *workGraph, comm []int) (*workGraph, []int) {
	labels := make([]int, 0, wg.n)
	seen := make(map[int]bool, wg.n)
	for _, c := range comm {
		if !seen[c] {
			seen[c] = true
			labels = append(labels, c)
		}
	}
	sort.Ints(labels)

	newID := make(map[int]int, len(labels))
	for id, label := range labels {
		newID[label] = id
	}

	mapping := make([]int, wg.n)
	for i, c := range comm {
		mapping[i] = newID[c]
	}

	k := len(labels)
	coarse := &workGraph{
		n:      k,
		adj:    make([][]Edge, k),
		self:   make([]float64, k),
		degree: make([]float64, k),
		m2:     wg.m2,
	}

	type pair struct{ lo, hi int }
	between := make(map[pair]float64)
	for i := 0; i < wg.n; i++ {
		ci := mapping[i]
		coarse.self[ci] += wg.self[i]
		for _, e := range wg.adj[i] {
			if e.To <= i {
				continue
			}
			cj := mapping[e.To]
			if ci == cj {
				coarse.self[ci] += e.Weight
				continue
			}
			lo, hi := ci, cj
			if lo > hi {
				lo, hi = hi, lo
			}
			between[pair{lo, hi}] += e.Weight
		}
	}

	pairs := make([]pair, 0, len(between))
	for p := range between {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].lo != pairs[j].lo {
			return pairs[i].lo < pairs[j].lo
		}
		return pairs[i].hi < pairs[j].hi
	})
	for _, p := range pairs {
		w := between[p]
		coarse.adj[p.lo] = append(coarse.adj[p.lo], Edge{To: p.hi, Weight: w})
		coarse.adj[p.hi] = append(coarse.adj[p.hi], Edge{To: p.lo, Weight: w})
	}
	for i := range coarse.adj {
		sort.Slice(coarse.adj[i], func(a, b int) bool {
			return coarse.adj[i][a].To < coarse.adj[i][b].To
		})
	}
	for i := 0; i < k; i++ {
		var deg float64
		for _, e := range coarse.adj[i] {
			deg += e.Weight
		}
		coarse.degree[i] = deg + 2*coarse.self[i]
	}

	return coarse, mapping
}
