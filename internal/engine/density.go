package engine

import (
	"math"
	"sort"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

// DensityResult holds the community aggregates written back to every
// member account, indexed by projection node id, plus per-community
// summaries sorted by mule density (highest first).
type DensityResult struct {
	CommunitySize []int
	MuleCount     []int
	MuleDensity   []float64
	Summaries     []domain.CommunitySummary
}

// ComputeDensity groups nodes by community and derives each community's
// size, confirmed-mule count, and density (rounded to 4 decimals). mule[i]
// flags node i as a confirmed mule.
func ComputeDensity(assignment []int, communities int, mule []bool) *DensityResult {
	size := make([]int, communities)
	mules := make([]int, communities)
	for i, c := range assignment {
		size[c]++
		if mule[i] {
			mules[c]++
		}
	}

	density := make([]float64, communities)
	for c := 0; c < communities; c++ {
		if size[c] > 0 {
			density[c] = round4(float64(mules[c]) / float64(size[c]))
		}
	}

	res := &DensityResult{
		CommunitySize: make([]int, len(assignment)),
		MuleCount:     make([]int, len(assignment)),
		MuleDensity:   make([]float64, len(assignment)),
		Summaries:     make([]domain.CommunitySummary, 0, communities),
	}
	for i, c := range assignment {
		res.CommunitySize[i] = size[c]
		res.MuleCount[i] = mules[c]
		res.MuleDensity[i] = density[c]
	}
	for c := 0; c < communities; c++ {
		res.Summaries = append(res.Summaries, domain.CommunitySummary{
			CommunityID:   int64(c),
			CommunitySize: size[c],
			MuleCount:     mules[c],
			MuleDensity:   density[c],
		})
	}
	sort.SliceStable(res.Summaries, func(i, j int) bool {
		if res.Summaries[i].MuleDensity != res.Summaries[j].MuleDensity {
			return res.Summaries[i].MuleDensity > res.Summaries[j].MuleDensity
		}
		return res.Summaries[i].CommunityID < res.Summaries[j].CommunityID
	})

	return res
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
