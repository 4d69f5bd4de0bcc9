// Package slam wires the full reconstruction pipeline: keyframe
// selection, submap building, loop closure detection, pose graph
// optimization, fusion and export.
package slam

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sdunifon/vggt-slam/internal/models"
	"github.com/sdunifon/vggt-slam/pkg/config"
	"github.com/sdunifon/vggt-slam/pkg/estimate"
	"github.com/sdunifon/vggt-slam/pkg/export"
	"github.com/sdunifon/vggt-slam/pkg/frames"
	"github.com/sdunifon/vggt-slam/pkg/fusion"
	"github.com/sdunifon/vggt-slam/pkg/loop"
	"github.com/sdunifon/vggt-slam/pkg/posegraph"
	"github.com/sdunifon/vggt-slam/pkg/submap"
	"github.com/sdunifon/vggt-slam/pkg/visualization"
)

// Result is the outcome of a run: the artifact location, the fused
// model, and the summary report.
type Result struct {
	ArtifactPath string
	Model        *fusion.GlobalModel
	Report       *export.Report
}

// Solver owns the pipeline state for one reconstruction run.
//
// The pipeline is a linear producer chain over submaps: keyframe
// selection and decoding run ahead in their own goroutine while the
// current submap is built, checked for loops and folded into the pose
// graph. Graph mutation stays single-writer; each submap arrival is
// applied to the graph atomically.
type Solver struct {
	cfg       *config.Config
	estimator estimate.DenseEstimator
	retriever estimate.Retriever
	logger    golog.Logger

	submaps  *submap.Map
	builder  *submap.Builder
	detector *loop.Detector
	graph    *posegraph.Graph
}

// NewSolver assembles a solver around the two collaborators.
func NewSolver(cfg *config.Config, estimator estimate.DenseEstimator, retriever estimate.Retriever, logger golog.Logger) *Solver {
	submaps := submap.NewMap()
	return &Solver{
		cfg:       cfg,
		estimator: estimator,
		retriever: retriever,
		logger:    logger,
		submaps:   submaps,
		builder:   submap.NewBuilder(estimator, submaps, logger),
		detector:  loop.NewDetector(retriever, submaps, cfg.Slam.MaxLoops, logger),
		graph:     posegraph.NewGraph(posegraph.GroupFor(cfg.Slam.UseSim3), posegraph.DefaultOptions(), logger),
	}
}

// Graph exposes the pose graph, mainly for tests.
func (s *Solver) Graph() *posegraph.Graph { return s.graph }

// Submaps exposes the submap arena, mainly for tests.
func (s *Solver) Submaps() *submap.Map { return s.submaps }

// Process runs the pipeline over the images under input (a directory
// or a zip archive) and exports the fused cloud.
//
// Error policy: no decodable images is terminal and produces nothing.
// An estimation failure aborts the run but salvages the submaps
// already completed, with a warning in the report. Optimizer
// non-convergence only warns. Cancellation is honored at submap
// boundaries.
func (s *Solver) Process(ctx context.Context, input string) (*Result, error) {
	// The keyframe stream runs ahead of the pipeline; cancel it on any
	// exit so an abandoned stream cannot strand its producer goroutine.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	report := export.NewReport()

	s.logger.Infow("Step 1: selecting keyframes", "input", input)
	paths, err := frames.Discover(input)
	if err != nil {
		return nil, err
	}
	s.logger.Infof("found %d candidate images", len(paths))

	selector := frames.NewSelector(paths, s.cfg.Slam.MinDisparity, s.logger)
	stream := selector.Stream(ctx)

	s.logger.Infow("Step 2: building submaps",
		"submapSize", s.cfg.Slam.SubmapSize, "group", s.graph.Group().Name())

	var batch []models.Keyframe
	var runErr error

	for item := range stream {
		if item.Err != nil {
			if errors.Is(item.Err, frames.ErrNoImages) && s.submaps.Count() == 0 {
				return nil, item.Err
			}
			runErr = item.Err
			break
		}

		batch = append(batch, item.Keyframe)
		if len(batch) < s.cfg.Slam.SubmapSize {
			continue
		}
		if err := s.arrival(ctx, batch); err != nil {
			runErr = err
			break
		}
		// The submap keeps the batch slice; start a fresh one.
		batch = nil
	}

	// Final short batch: two or more keyframes form a last submap, a
	// lone keyframe is absorbed into the previous one by the builder.
	if runErr == nil && len(batch) > 0 {
		runErr = s.arrival(ctx, batch)
	}

	if runErr != nil {
		if s.submaps.Count() == 0 {
			return nil, errors.Wrap(runErr, "no submaps completed")
		}
		// Salvage whatever was built before the failure.
		s.logger.Warnw("run aborted, exporting partial result",
			"submaps", s.submaps.Count(), "error", runErr)
		report.AddWarning("run aborted after %d submaps: %v", s.submaps.Count(), runErr)
	}
	if s.submaps.Count() == 0 {
		return nil, frames.ErrNoImages
	}
	if s.graph.NonConverged() {
		report.AddWarning("pose graph optimization did not fully converge; using best-effort solution")
	}

	s.logger.Infow("Step 3: fusing point cloud", "confThreshold", s.cfg.Slam.ConfThreshold)
	model := fusion.Fuse(s.submaps, s.cfg.Slam.ConfThreshold, s.logger)

	s.logger.Infow("Step 4: exporting artifact", "path", s.cfg.Output.ArtifactPath)
	if err := export.WritePLYFile(model, s.cfg.Output.ArtifactPath); err != nil {
		return nil, errors.Wrap(err, "exporting artifact")
	}

	if s.cfg.Output.SavePreviews {
		viewer := visualization.NewViewer(model)
		if err := viewer.SaveAxisPreviews(s.cfg.Output.PreviewDir); err != nil {
			s.logger.Warnw("failed to save previews", "error", err)
			report.AddWarning("previews not saved: %v", err)
		}
	}

	report.ArtifactPath = s.cfg.Output.ArtifactPath
	report.Submaps = s.submaps.Count()
	report.Keyframes = s.submaps.TotalKeyframes()
	report.LoopClosures = s.graph.NumLoops()
	report.TotalPoints = model.TotalPoints
	report.RetainedPoints = model.Retained()

	s.logger.Info(report.Summary())
	return &Result{
		ArtifactPath: s.cfg.Output.ArtifactPath,
		Model:        model,
		Report:       report,
	}, nil
}

// arrival processes one keyframe batch end to end: build the submap,
// resolve its loop closures, apply the arrival to the pose graph and
// push the re-solved global transforms back into the arena. The graph
// is never left with a node missing its sequential edge.
func (s *Solver) arrival(ctx context.Context, batch []models.Keyframe) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	built, err := s.builder.Build(ctx, batch)
	if err != nil {
		return err
	}
	if built.Absorbed {
		// Extra points under the existing node; nothing changes in
		// the graph.
		return nil
	}

	loops, err := s.detector.Detect(ctx, built.Submap)
	if err != nil {
		// A blind index entry costs candidate loops later, not the
		// run.
		s.logger.Warnw("loop detection failed for submap",
			"submap", built.Submap.ID, "error", err)
		loops = nil
	}

	var seq *posegraph.Edge
	if built.Relative != nil {
		seq = &posegraph.Edge{
			From:     built.Submap.ID - 1,
			To:       built.Submap.ID,
			Relative: built.Relative,
			Score:    1,
			Kind:     posegraph.Sequential,
		}
	}

	poses := s.graph.Arrival(built.Submap.ID, seq, loops)
	s.submaps.UpdateGlobalTransforms(poses)
	return nil
}
