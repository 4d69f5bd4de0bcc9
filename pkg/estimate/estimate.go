// Package estimate defines the contracts for the external dense
// estimation and retrieval collaborators. The core treats both as black
// boxes: it hands over ordered image batches and consumes poses, points
// and descriptors without caring how they were produced.
package estimate

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sdunifon/vggt-slam/internal/models"
)

// Estimation is the result of one dense estimation call over an ordered
// batch of keyframes. Everything is expressed in the batch-local frame
// anchored at the first image.
type Estimation struct {
	// Poses holds one 4x4 camera-to-local transform per input image,
	// in input order. The first pose is the local identity anchor.
	Poses []*mat.Dense

	// Points is the dense (or semi-dense) point set with confidence,
	// FrameIndex referring to positions in the input batch.
	Points []models.Point
}

// DenseEstimator produces local geometry for a batch of keyframes.
type DenseEstimator interface {
	Estimate(ctx context.Context, batch []models.Keyframe) (*Estimation, error)
}

// Verification is a successful geometric check of a candidate pair: the
// relative transform mapping the target's frame into the source's, and
// an inlier score in [0,1].
type Verification struct {
	Relative *mat.Dense
	Score    float64
}

// Retriever computes image descriptors and verifies candidate pairs.
// Verify returns (nil, nil) when the pair cannot be verified; a failed
// candidate is not an error.
type Retriever interface {
	Embed(ctx context.Context, kf models.Keyframe) ([]float64, error)
	Verify(ctx context.Context, source, target models.Keyframe) (*Verification, error)
}

// EstimationError wraps a collaborator failure during submap
// estimation. It aborts the run; completed submaps are still exported.
type EstimationError struct {
	Cause error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("dense estimation failed: %v", e.Cause)
}

func (e *EstimationError) Unwrap() error { return e.Cause }
