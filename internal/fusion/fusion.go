// Package fusion merges dense and sparse retrieval lists into a single
// ranking using weighted reciprocal rank fusion.
package fusion

import (
	"sort"

	"github.com/sibyl-search/sibyl/internal/index"
)

// DefaultK0 is the standard RRF smoothing constant.
const DefaultK0 = 60

// Candidate is a fused ranking entry.
type Candidate struct {
	// ChunkID identifies the chunk.
	ChunkID string

	// Score is the fused score, normalized to (0, 1] within the result set.
	Score float64

	// DenseRank is the 1-based rank in the dense list, 0 if absent.
	DenseRank int

	// SparseRank is the 1-based rank in the sparse list, 0 if absent.
	SparseRank int

	// raw is the unnormalized fused score used for ordering.
	raw float64
}

// Fuser combines ranked lists with weighted reciprocal rank fusion.
type Fuser struct {
	denseWeight  float64
	sparseWeight float64
	k0           int
}

// NewFuser creates a fuser with the given weights and smoothing constant.
// Weights are expected to be validated upstream (non-negative, sum 1.0).
func NewFuser(denseWeight, sparseWeight float64, k0 int) *Fuser {
	if k0 <= 0 {
		k0 = DefaultK0
	}
	return &Fuser{denseWeight: denseWeight, sparseWeight: sparseWeight, k0: k0}
}

// Fuse merges the two lists. A chunk absent from one list contributes zero
// from that list; it is not penalized beyond the missing contribution.
// When one adapter failed entirely, pass nil for its list and survivorOnly
// as that list's counterpart: the surviving list is fused with full weight
// so scores stay comparable across degraded and healthy responses.
//
// The output is totally ordered: fused score descending, then rank sum
// ascending, then chunk ID ascending. Limit truncates the output; a
// non-positive limit returns everything.
func (f *Fuser) Fuse(dense []index.DenseHit, sparse []index.SparseHit, limit int) []Candidate {
	dw, sw := f.denseWeight, f.sparseWeight

	// Degraded fan-out: the surviving list carries full weight.
	if dense == nil && sparse != nil {
		dw, sw = 0, 1
	} else if sparse == nil && dense != nil {
		dw, sw = 1, 0
	}

	byID := make(map[string]*Candidate, len(dense)+len(sparse))

	for i, hit := range dense {
		rank := i + 1
		byID[hit.ChunkID] = &Candidate{
			ChunkID:   hit.ChunkID,
			DenseRank: rank,
			raw:       dw / float64(f.k0+rank),
		}
	}
	for i, hit := range sparse {
		rank := i + 1
		c, ok := byID[hit.ChunkID]
		if !ok {
			c = &Candidate{ChunkID: hit.ChunkID}
			byID[hit.ChunkID] = c
		}
		c.SparseRank = rank
		c.raw += sw / float64(f.k0+rank)
	}

	out := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].raw != out[j].raw {
			return out[i].raw > out[j].raw
		}
		si, sj := rankSum(out[i]), rankSum(out[j])
		if si != sj {
			return si < sj
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	normalize(out)
	return out
}

// rankSum treats a missing rank as worse than any present rank.
func rankSum(c Candidate) int {
	const absent = 1 << 20
	sum := 0
	if c.DenseRank > 0 {
		sum += c.DenseRank
	} else {
		sum += absent
	}
	if c.SparseRank > 0 {
		sum += c.SparseRank
	} else {
		sum += absent
	}
	return sum
}

// normalize scales scores so the top candidate is 1.0. Relative order is
// already fixed; normalization only makes scores comparable across queries.
func normalize(cs []Candidate) {
	if len(cs) == 0 {
		return
	}
	top := cs[0].raw
	if top <= 0 {
		for i := range cs {
			cs[i].Score = 0
		}
		return
	}
	for i := range cs {
		cs[i].Score = cs[i].raw / top
	}
}
