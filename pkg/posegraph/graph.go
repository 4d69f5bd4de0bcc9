package posegraph

import (
	"sync"

	"github.com/edaniels/golog"
	"gonum.org/v1/gonum/mat"
)

// State is the optimizer lifecycle over the graph.
type State int

const (
	// Building: nodes and edges still arriving, no solution yet.
	Building State = iota
	// Optimizing: a solve pass is in flight.
	Optimizing
	// Stable: the current solution converged (or was accepted as
	// best effort after the iteration cap).
	Stable
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Optimizing:
		return "optimizing"
	case Stable:
		return "stable"
	}
	return "unknown"
}

// EdgeKind distinguishes the implicit sequential chain from
// loop-closure edges.
type EdgeKind int

const (
	Sequential EdgeKind = iota
	Loop
)

// Edge is a relative-transform constraint between two submap nodes,
// stored as an ID pair. Relative maps To-local coordinates into
// From-local coordinates. Score is the verification inlier score for
// loop edges; sequential edges carry full weight.
type Edge struct {
	From     int64
	To       int64
	Relative *mat.Dense
	Score    float64
	Kind     EdgeKind
}

// Graph owns the submap nodes, all edges, and the warm-started solver
// state (current pose estimates). All mutation goes through Arrival,
// which applies a submap-arrival event atomically and runs one
// optimization pass under the same lock, keeping the single-writer
// discipline.
type Graph struct {
	mu     sync.Mutex
	group  Group
	logger golog.Logger

	poses map[int64]*mat.Dense
	order []int64
	edges []Edge

	state        State
	tolerance    float64
	maxIters     int
	nonConverged bool
}

// Options tune the incremental solver.
type Options struct {
	// Tolerance is the residual-decrease threshold declaring Stable.
	Tolerance float64
	// MaxIterations caps one optimization pass; hitting it is a soft
	// failure (best-effort solution, warning flag).
	MaxIterations int
}

// DefaultOptions returns the solver settings used by the pipeline.
func DefaultOptions() Options {
	return Options{Tolerance: 1e-6, MaxIterations: 50}
}

// NewGraph creates an empty pose graph over the given transform group.
func NewGraph(group Group, opts Options, logger golog.Logger) *Graph {
	return &Graph{
		group:     group,
		logger:    logger,
		poses:     make(map[int64]*mat.Dense),
		state:     Building,
		tolerance: opts.Tolerance,
		maxIters:  opts.MaxIterations,
	}
}

// Group returns the transform group selected for this run.
func (g *Graph) Group() Group { return g.group }

// State returns the current optimizer state.
func (g *Graph) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// NonConverged reports whether any pass ended at the iteration cap.
func (g *Graph) NonConverged() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nonConverged
}

// NumNodes returns the node count.
func (g *Graph) NumNodes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// NumLoops returns how many loop-closure edges the graph holds.
func (g *Graph) NumLoops() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, e := range g.edges {
		if e.Kind == Loop {
			n++
		}
	}
	return n
}

// NumSequential returns how many sequential edges the graph holds.
func (g *Graph) NumSequential() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, e := range g.edges {
		if e.Kind == Sequential {
			n++
		}
	}
	return n
}

// Poses returns a copy of the current solution.
func (g *Graph) Poses() map[int64]*mat.Dense {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int64]*mat.Dense, len(g.poses))
	for id, p := range g.poses {
		out[id] = mat.DenseCopyOf(p)
	}
	return out
}

// Connected reports whether every node is reachable from the root
// through the edge set.
func (g *Graph) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.order) == 0 {
		return true
	}
	seen := map[int64]bool{g.order[0]: true}
	frontier := []int64{g.order[0]}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, e := range g.edges {
			var next int64 = -1
			if e.From == id && !seen[e.To] {
				next = e.To
			} else if e.To == id && !seen[e.From] {
				next = e.From
			}
			if next >= 0 {
				seen[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return len(seen) == len(g.order)
}

// Arrival applies one submap-arrival event as a unit: add the node,
// its sequential edge (nil only for the root), any verified loop
// edges, then re-solve from the current estimates. Returns the updated
// solution.
func (g *Graph) Arrival(id int64, seq *Edge, loops []Edge) map[int64]*mat.Dense {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.poses[id]; !ok {
		g.order = append(g.order, id)
		g.poses[id] = g.initialPose(seq)
	}
	if seq != nil {
		g.edges = append(g.edges, *seq)
	}
	g.edges = append(g.edges, loops...)

	g.optimizeLocked()

	out := make(map[int64]*mat.Dense, len(g.poses))
	for nid, p := range g.poses {
		out[nid] = mat.DenseCopyOf(p)
	}
	return out
}

// initialPose seeds a new node by chaining the sequential edge off its
// parent's current estimate, so the warm start begins near the truth
// even before the first sweep.
func (g *Graph) initialPose(seq *Edge) *mat.Dense {
	if seq == nil {
		return identity4()
	}
	parent, ok := g.poses[seq.From]
	if !ok {
		return identity4()
	}
	pose := mat.NewDense(4, 4, nil)
	pose.Mul(parent, seq.Relative)
	return g.group.Project(pose)
}

func identity4() *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		out.Set(i, i, 1)
	}
	return out
}
