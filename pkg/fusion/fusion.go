// Package fusion lifts every submap's local points into world
// coordinates through the solved global transforms and filters the
// combined cloud by confidence percentile.
package fusion

import (
	"math"
	"sort"

	"github.com/edaniels/golog"
	"gonum.org/v1/gonum/stat"

	"github.com/sdunifon/vggt-slam/internal/models"
	"github.com/sdunifon/vggt-slam/pkg/submap"
)

// GlobalModel is the fused, filtered point set consumed by the
// exporter.
type GlobalModel struct {
	// Points retained after confidence filtering, world coordinates.
	Points []models.CloudPoint

	// TotalPoints is the fused count before filtering.
	TotalPoints int
}

// Retained returns the post-filter point count.
func (m *GlobalModel) Retained() int { return len(m.Points) }

// Fuse applies each submap's current global transform to its local
// point set and drops the lowest confThreshold percent of points by
// confidence. confThreshold names the percentile of points to discard,
// not a fixed cutoff: 0 keeps everything, 100 keeps nothing. The same
// stabilized graph and threshold always yield the same retained set.
func Fuse(submaps *submap.Map, confThreshold float64, logger golog.Logger) *GlobalModel {
	var fused []models.CloudPoint
	for _, s := range submaps.All() {
		for _, pt := range s.Points {
			fused = append(fused, models.CloudPoint{
				Position:   submap.ApplyTransform(s.Global, pt.Position),
				Confidence: pt.Confidence,
				Submap:     s.ID,
			})
		}
	}

	model := &GlobalModel{TotalPoints: len(fused)}
	if len(fused) == 0 {
		return model
	}

	switch {
	case confThreshold <= 0:
		model.Points = fused
	case confThreshold >= 100:
		// Nothing survives a 100th-percentile drop.
	default:
		confidences := make([]float64, len(fused))
		for i, pt := range fused {
			confidences[i] = pt.Confidence
		}
		sort.Float64s(confidences)
		cutoff := stat.Quantile(confThreshold/100, stat.Empirical, confidences, nil)

		// Keep strictly-above first, then admit cutoff ties until the
		// retained count reaches ceil(P * (1 - ct/100)).
		target := int(math.Ceil(float64(len(fused)) * (1 - confThreshold/100)))
		for _, pt := range fused {
			if pt.Confidence > cutoff {
				model.Points = append(model.Points, pt)
			}
		}
		if len(model.Points) < target {
			for _, pt := range fused {
				if pt.Confidence == cutoff {
					model.Points = append(model.Points, pt)
					if len(model.Points) == target {
						break
					}
				}
			}
		}
	}

	logger.Infow("fused point cloud",
		"total", model.TotalPoints, "retained", model.Retained(),
		"dropPercentile", confThreshold)
	return model
}
