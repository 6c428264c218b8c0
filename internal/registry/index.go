package registry

import (
	"github.com/coder/hnsw"
)

// hnswMaxNeighbors is the M parameter of the graph.
const hnswMaxNeighbors = 16

// annIndex is an HNSW graph over a snapshot's candidate slice, keyed by
// candidate index. It is built once with the snapshot and never mutated, so
// reads need no locking.
type annIndex struct {
	graph *hnsw.Graph[int]
}

// buildIndex creates the graph from the candidate embeddings.
func buildIndex(candidates []Candidate) *annIndex {
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // standard HNSW formula
	g.Distance = hnsw.CosineDistance

	for i := range candidates {
		if len(candidates[i].Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(i, candidates[i].Embedding))
	}

	return &annIndex{graph: g}
}

// nearest searches the graph and aggregates results to the best distance per
// student. Returns nil when the search yields fewer distinct students than
// requested, signalling the caller to fall back to a linear scan. Distances
// are recomputed exactly from the node embeddings, matching the scan path.
func (x *annIndex) nearest(candidates []Candidate, probe []float32, students int) []Neighbor {
	// Oversample so several embeddings of one student don't crowd out the
	// runner-up needed for ambiguity detection.
	k := students * hnswMaxNeighbors
	if k > len(candidates) {
		k = len(candidates)
	}

	nodes := x.graph.Search(probe, k)

	best := make(map[string]Neighbor, students*2)
	for _, n := range nodes {
		c := &candidates[n.Key]
		d := CosineDistance(probe, n.Value)
		if prev, ok := best[c.StudentID]; !ok || d < prev.Distance {
			best[c.StudentID] = Neighbor{Candidate: c, Distance: d}
		}
	}

	if len(best) < students && len(best) < countStudents(candidates) {
		return nil
	}
	return topNeighbors(best, students)
}

func countStudents(candidates []Candidate) int {
	seen := make(map[string]struct{}, len(candidates))
	for i := range candidates {
		seen[candidates[i].StudentID] = struct{}{}
	}
	return len(seen)
}
