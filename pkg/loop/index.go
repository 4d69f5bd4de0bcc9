// Package loop detects revisits: it matches new submaps against an
// append-only descriptor index of everything seen before and proposes
// verified loop-closure edges for the pose graph.
package loop

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// entry is one indexed keyframe descriptor.
type entry struct {
	submap int64
	frame  int
	desc   []float64
}

// Index is the growing store of keyframe descriptors from completed
// submaps. Appends take the write lock; queries are safe to run
// concurrently with each other once an append has completed.
type Index struct {
	mu      sync.RWMutex
	entries []entry
}

// NewIndex returns an empty descriptor index.
func NewIndex() *Index {
	return &Index{}
}

// Add appends the descriptors of a completed submap's keyframes.
func (ix *Index) Add(submap int64, descs [][]float64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for frame, d := range descs {
		if len(d) == 0 {
			continue
		}
		ix.entries = append(ix.entries, entry{submap: submap, frame: frame, desc: d})
	}
}

// Len returns the number of indexed descriptors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Match is the best similarity found for one past submap.
type Match struct {
	Submap     int64
	Frame      int
	Similarity float64
}

// Query ranks past submaps by their best cosine similarity against any
// query descriptor, skipping submap IDs for which skip returns true.
// Results are ordered best-first.
func (ix *Index) Query(descs [][]float64, skip func(int64) bool) []Match {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	best := make(map[int64]Match)
	for _, e := range ix.entries {
		if skip(e.submap) {
			continue
		}
		for _, q := range descs {
			sim := cosine(q, e.desc)
			if cur, ok := best[e.submap]; !ok || sim > cur.Similarity {
				best[e.submap] = Match{Submap: e.submap, Frame: e.frame, Similarity: sim}
			}
		}
	}

	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sortMatches(out)
	return out
}

// cosine similarity of two descriptors; zero when shapes or norms are
// degenerate.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	dot := floats.Dot(a, b)
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (na * nb)
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}

// sortMatches orders by similarity descending, then by submap ID so
// equal scores stay deterministic.
func sortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Similarity != ms[j].Similarity {
			return ms[i].Similarity > ms[j].Similarity
		}
		return ms[i].Submap < ms[j].Submap
	})
}
