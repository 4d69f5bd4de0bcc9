// Package posegraph maintains the graph of submap nodes with
// sequential and loop-closure edges and solves for globally consistent
// submap-to-world transforms.
package posegraph

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Group is the transform group the optimizer works in, selected once
// per run. Project snaps an arbitrary 4x4 onto the nearest group
// element; the solver averages neighbor predictions in the embedding
// space and relies on Project to return to the manifold.
type Group interface {
	Name() string
	Project(m *mat.Dense) *mat.Dense
}

// GroupFor maps the use_sim3 switch onto a group: Sim(3) when set,
// projective SL(4) otherwise.
func GroupFor(useSim3 bool) Group {
	if useSim3 {
		return sim3{}
	}
	return sl4{}
}

// sim3 is rotation + translation + uniform scale.
type sim3 struct{}

func (sim3) Name() string { return "Sim(3)" }

// Project keeps the translation column and replaces the upper-left 3x3
// with s*R, where R is the nearest rotation by SVD and s the mean
// singular value.
func (sim3) Project(m *mat.Dense) *mat.Dense {
	a := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.Set(i, j, m.At(i, j))
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return mat.DenseCopyOf(m)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	var r mat.Dense
	r.Mul(&u, v.T())

	// Reflections are not rotations: flip the smallest-singular-value
	// axis when the determinant comes out negative.
	if mat.Det(&r) < 0 {
		flip := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
		var uf mat.Dense
		uf.Mul(&u, flip)
		r.Mul(&uf, v.T())
		sv[2] = -sv[2]
	}

	scale := (sv[0] + sv[1] + sv[2]) / 3
	if scale == 0 || math.IsNaN(scale) {
		scale = 1
	}

	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, scale*r.At(i, j))
		}
		out.Set(i, 3, m.At(i, 3))
	}
	out.Set(3, 3, 1)
	return out
}

// sl4 is a general projective collineation, 4x4 up to scale.
type sl4 struct{}

func (sl4) Name() string { return "SL(4)" }

// Project rescales so |det| = 1 and the bottom-right entry keeps a
// positive sign, fixing the projective scale ambiguity.
func (sl4) Project(m *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(m)
	d := mat.Det(out)
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return out
	}
	s := math.Pow(math.Abs(d), -0.25)
	if out.At(3, 3) < 0 {
		s = -s
	}
	out.Scale(s, out)
	return out
}

// chordal is the Frobenius distance between two group-normalized
// transforms, the residual metric used for every edge.
func chordal(g Group, a, b *mat.Dense) float64 {
	na := g.Project(a)
	nb := g.Project(b)
	var diff mat.Dense
	diff.Sub(na, nb)
	return mat.Norm(&diff, 2)
}
