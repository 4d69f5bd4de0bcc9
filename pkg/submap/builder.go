package submap

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/sdunifon/vggt-slam/internal/models"
	"github.com/sdunifon/vggt-slam/pkg/estimate"
)

// MinViableBatch is the smallest keyframe batch that forms a submap of
// its own. A lone trailing keyframe is absorbed into the previous
// submap instead. When there is no previous submap the batch stands
// alone whatever its size: an input of a single decodable image still
// produces a one-keyframe root submap from a single-view estimation,
// rather than being rejected.
const MinViableBatch = 2

// BuildResult is the outcome of one submap arrival: the submap (new or,
// for an absorbed trailing keyframe, the previous one) and the relative
// transform of the sequential edge. Relative is nil for the root submap
// and for absorbed keyframes.
type BuildResult struct {
	Submap   *Submap
	Absorbed bool
	Relative *mat.Dense
}

// Builder turns keyframe batches into submaps by invoking the dense
// estimator once per batch. Registration against the previous submap
// rides on a one-frame overlap: the previous submap's last keyframe is
// prepended to every estimation batch, and the sequential relative
// transform falls out of its pose in both local frames.
type Builder struct {
	estimator estimate.DenseEstimator
	submaps   *Map
	logger    golog.Logger

	prev *Submap
}

// NewBuilder creates a builder writing completed submaps into submaps.
func NewBuilder(estimator estimate.DenseEstimator, submaps *Map, logger golog.Logger) *Builder {
	return &Builder{estimator: estimator, submaps: submaps, logger: logger}
}

// Build processes one batch of owned keyframes. The estimator error is
// propagated as an EstimationError without retry; the arena is left
// untouched in that case.
func (b *Builder) Build(ctx context.Context, batch []models.Keyframe) (*BuildResult, error) {
	if len(batch) == 0 {
		return nil, errors.New("empty keyframe batch")
	}
	if b.prev != nil && len(batch) < MinViableBatch {
		return b.absorb(ctx, batch[0])
	}

	estBatch := batch
	overlap := false
	if b.prev != nil {
		estBatch = append([]models.Keyframe{b.prev.LastKeyframe()}, batch...)
		overlap = true
	}

	est, err := b.estimator.Estimate(ctx, estBatch)
	if err != nil {
		return nil, &estimate.EstimationError{Cause: err}
	}
	if len(est.Poses) != len(estBatch) {
		return nil, &estimate.EstimationError{
			Cause: errors.Errorf("estimator returned %d poses for %d images", len(est.Poses), len(estBatch)),
		}
	}

	s := &Submap{
		Keyframes: batch,
		Global:    identity4(),
	}

	var relative *mat.Dense
	if overlap {
		// Re-anchor from the batch frame (identity at the overlap
		// frame) to the first owned keyframe.
		anchor := est.Poses[1]
		var anchorInv mat.Dense
		if err := anchorInv.Inverse(anchor); err != nil {
			return nil, &estimate.EstimationError{Cause: errors.Wrap(err, "singular anchor pose")}
		}

		s.LocalPoses = make([]*mat.Dense, 0, len(batch))
		for _, pose := range est.Poses[1:] {
			var local mat.Dense
			local.Mul(&anchorInv, pose)
			s.LocalPoses = append(s.LocalPoses, &local)
		}

		for _, pt := range est.Points {
			if pt.FrameIndex == 0 {
				// Overlap-frame points belong to the previous submap.
				continue
			}
			s.Points = append(s.Points, models.Point{
				Position:   applyTransform(&anchorInv, pt.Position),
				Confidence: pt.Confidence,
				FrameIndex: pt.FrameIndex - 1,
			})
		}

		// T_rel maps current-local into previous-local coordinates:
		// the overlap frame sits at prev.LastPose() there and at
		// anchor^-1 here.
		relative = mat.NewDense(4, 4, nil)
		relative.Mul(b.prev.LastPose(), anchor)
	} else {
		s.LocalPoses = est.Poses
		s.Points = est.Points
	}

	b.submaps.Add(s)
	b.prev = s
	b.logger.Debugw("submap built",
		"id", s.ID, "keyframes", len(s.Keyframes), "points", len(s.Points))
	return &BuildResult{Submap: s, Relative: relative}, nil
}

// absorb merges a lone trailing keyframe into the previous submap. The
// estimator still sees two images (overlap plus the orphan), and the
// returned geometry is re-expressed in the previous submap's frame
// through the overlap pose.
func (b *Builder) absorb(ctx context.Context, kf models.Keyframe) (*BuildResult, error) {
	estBatch := []models.Keyframe{b.prev.LastKeyframe(), kf}
	est, err := b.estimator.Estimate(ctx, estBatch)
	if err != nil {
		return nil, &estimate.EstimationError{Cause: err}
	}
	if len(est.Poses) != 2 {
		return nil, &estimate.EstimationError{
			Cause: errors.Errorf("estimator returned %d poses for 2 images", len(est.Poses)),
		}
	}

	// The mini-batch is anchored at the previous submap's last
	// keyframe, so its pose there lifts everything into prev-local.
	lift := b.prev.LastPose()
	frameIndex := len(b.prev.Keyframes)

	var pose mat.Dense
	pose.Mul(lift, est.Poses[1])

	b.prev.Keyframes = append(b.prev.Keyframes, kf)
	b.prev.LocalPoses = append(b.prev.LocalPoses, &pose)
	for _, pt := range est.Points {
		if pt.FrameIndex == 0 {
			continue
		}
		b.prev.Points = append(b.prev.Points, models.Point{
			Position:   applyTransform(lift, pt.Position),
			Confidence: pt.Confidence,
			FrameIndex: frameIndex,
		})
	}

	b.logger.Debugw("trailing keyframe absorbed", "submap", b.prev.ID)
	return &BuildResult{Submap: b.prev, Absorbed: true}, nil
}
