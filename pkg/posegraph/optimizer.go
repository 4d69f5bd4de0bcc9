package posegraph

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// optimizeLocked runs one warm-started solve pass. The solver is a
// weighted Gauss-Seidel relaxation: each sweep re-estimates every
// non-root node from the poses its incident edges predict, averaged in
// the 4x4 embedding and projected back onto the group. The root stays
// pinned at identity so the solution is anchored.
//
// Callers must hold g.mu.
func (g *Graph) optimizeLocked() {
	if len(g.order) < 2 || len(g.edges) == 0 {
		g.state = Stable
		return
	}
	g.state = Optimizing

	prev := g.totalResidual()
	converged := false
	iters := 0
	for ; iters < g.maxIters; iters++ {
		g.sweep()
		res := g.totalResidual()
		if math.Abs(prev-res) < g.tolerance {
			converged = true
			break
		}
		prev = res
	}

	g.state = Stable
	if !converged {
		// Soft failure: keep the best-effort solution and flag it.
		g.nonConverged = true
		g.logger.Warnw("pose graph optimization hit iteration cap",
			"iterations", iters, "residual", prev, "group", g.group.Name())
		return
	}
	g.logger.Debugw("pose graph optimized",
		"iterations", iters, "residual", prev, "nodes", len(g.order))
}

// sweep performs one Gauss-Seidel pass in node-ID order, updating
// later nodes against already-updated earlier ones.
func (g *Graph) sweep() {
	root := g.order[0]
	for _, id := range g.order {
		if id == root {
			continue
		}

		sum := mat.NewDense(4, 4, nil)
		var weight float64
		for _, e := range g.edges {
			pred, w := g.predict(e, id)
			if pred == nil {
				continue
			}
			var scaled mat.Dense
			scaled.Scale(w, pred)
			sum.Add(sum, &scaled)
			weight += w
		}
		if weight == 0 {
			continue
		}
		sum.Scale(1/weight, sum)
		g.poses[id] = g.group.Project(sum)
	}
}

// predict returns the pose an edge implies for node id, with the edge
// weight, or nil when the edge does not touch id.
func (g *Graph) predict(e Edge, id int64) (*mat.Dense, float64) {
	w := 1.0
	if e.Kind == Loop {
		w = e.Score
		if w <= 0 {
			return nil, 0
		}
	}
	switch id {
	case e.To:
		// X_to = X_from * T
		from, ok := g.poses[e.From]
		if !ok {
			return nil, 0
		}
		pred := mat.NewDense(4, 4, nil)
		pred.Mul(from, e.Relative)
		return pred, w
	case e.From:
		// X_from = X_to * T^-1
		to, ok := g.poses[e.To]
		if !ok {
			return nil, 0
		}
		var inv mat.Dense
		if err := inv.Inverse(e.Relative); err != nil {
			return nil, 0
		}
		pred := mat.NewDense(4, 4, nil)
		pred.Mul(to, &inv)
		return pred, w
	}
	return nil, 0
}

// totalResidual sums the chordal error over all edges under the
// current estimates.
func (g *Graph) totalResidual() float64 {
	var total float64
	for _, e := range g.edges {
		from, okF := g.poses[e.From]
		to, okT := g.poses[e.To]
		if !okF || !okT {
			continue
		}
		implied := mat.NewDense(4, 4, nil)
		implied.Mul(from, e.Relative)
		total += chordal(g.group, implied, to)
	}
	return total
}
