package loop

import (
	"context"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/sdunifon/vggt-slam/pkg/estimate"
	"github.com/sdunifon/vggt-slam/pkg/posegraph"
	"github.com/sdunifon/vggt-slam/pkg/submap"
)

// Detection thresholds. Candidates below the similarity floor never
// reach geometric verification; verified edges below the score floor
// are discarded.
const (
	DefaultSimilarityFloor   = 0.75
	DefaultVerificationFloor = 0.30
)

// Detector proposes loop-closure edges for newly built submaps by
// querying the descriptor index and geometrically verifying the best
// candidates through the retrieval collaborator.
type Detector struct {
	retriever estimate.Retriever
	index     *Index
	submaps   *submap.Map
	logger    golog.Logger

	maxLoops          int
	similarityFloor   float64
	verificationFloor float64
}

// NewDetector creates a detector keeping at most maxLoops verified
// edges per new submap.
func NewDetector(retriever estimate.Retriever, submaps *submap.Map, maxLoops int, logger golog.Logger) *Detector {
	return &Detector{
		retriever:         retriever,
		index:             NewIndex(),
		submaps:           submaps,
		logger:            logger,
		maxLoops:          maxLoops,
		similarityFloor:   DefaultSimilarityFloor,
		verificationFloor: DefaultVerificationFloor,
	}
}

// Index exposes the descriptor index, mainly for tests.
func (d *Detector) Index() *Index { return d.index }

// Detect embeds the new submap's keyframes, searches for revisits
// among all earlier submaps except the immediately preceding one, and
// returns up to maxLoops verified edges, best score first with ties
// broken toward the nearer-in-time candidate. The new descriptors are
// appended to the index afterwards, whatever the outcome.
//
// A candidate that fails verification is skipped silently; absence of
// loops is not an error. Embedding failures do propagate, since they
// leave the index blind to this submap.
func (d *Detector) Detect(ctx context.Context, s *submap.Submap) ([]posegraph.Edge, error) {
	descs := make([][]float64, len(s.Keyframes))
	for i, kf := range s.Keyframes {
		desc, err := d.retriever.Embed(ctx, kf)
		if err != nil {
			return nil, errors.Wrapf(err, "embedding keyframe %d of submap %d", i, s.ID)
		}
		descs[i] = desc
	}
	defer d.index.Add(s.ID, descs)

	if d.maxLoops == 0 || s.ID < 2 {
		return nil, nil
	}

	matches := d.index.Query(descs, func(id int64) bool {
		// The previous submap is already covered by the sequential
		// edge.
		return id == s.ID || id == s.ID-1
	})

	type candidate struct {
		edge     posegraph.Edge
		distance int64
	}
	var verified []candidate
	for _, m := range matches {
		if m.Similarity < d.similarityFloor {
			break
		}
		target := d.submaps.Get(m.Submap)
		if target == nil {
			continue
		}

		v, err := d.retriever.Verify(ctx, s.Keyframes[0], target.Keyframes[m.Frame])
		if err != nil {
			return nil, errors.Wrapf(err, "verifying loop candidate %d->%d", s.ID, m.Submap)
		}
		if v == nil || v.Score < d.verificationFloor {
			d.logger.Debugw("loop candidate rejected",
				"submap", s.ID, "candidate", m.Submap, "similarity", m.Similarity)
			continue
		}

		// Lift the camera-to-camera transform into the submap local
		// frames. The query keyframe is this submap's anchor, so only
		// the matched frame's local pose needs composing in.
		var targetInv mat.Dense
		if err := targetInv.Inverse(target.LocalPoses[m.Frame]); err != nil {
			d.logger.Debugw("loop candidate dropped, singular target pose",
				"submap", s.ID, "candidate", m.Submap)
			continue
		}
		relative := mat.NewDense(4, 4, nil)
		relative.Mul(v.Relative, &targetInv)

		verified = append(verified, candidate{
			edge: posegraph.Edge{
				From:     s.ID,
				To:       m.Submap,
				Relative: relative,
				Score:    v.Score,
				Kind:     posegraph.Loop,
			},
			distance: s.ID - m.Submap,
		})
	}

	// Highest verification score wins; equal scores prefer the
	// nearer-in-time revisit to limit drift amplification.
	sort.Slice(verified, func(i, j int) bool {
		if verified[i].edge.Score != verified[j].edge.Score {
			return verified[i].edge.Score > verified[j].edge.Score
		}
		return verified[i].distance < verified[j].distance
	})
	if len(verified) > d.maxLoops {
		verified = verified[:d.maxLoops]
	}

	edges := make([]posegraph.Edge, 0, len(verified))
	for _, c := range verified {
		d.logger.Infow("loop closure accepted",
			"from", c.edge.From, "to", c.edge.To, "score", c.edge.Score)
		edges = append(edges, c.edge)
	}
	return edges, nil
}
