package estimate

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/sdunifon/vggt-slam/internal/models"
)

// Fallback collaborators. These stand in when no external dense model
// is wired up: GridEstimator back-projects a coarse pixel grid with
// luminance pseudo-depth, HistogramRetriever embeds images as
// luminance histograms. They produce geometrically naive but fully
// deterministic output, which keeps the pipeline runnable for demos
// and drives the tests.

const (
	gridStride    = 8
	histogramBins = 32
)

// GridEstimator is a photometric stand-in for the dense estimation
// collaborator.
type GridEstimator struct {
	// Baseline is the assumed camera translation between consecutive
	// frames, in scene units.
	Baseline float64
}

// NewGridEstimator returns a fallback estimator with a unit baseline.
func NewGridEstimator() *GridEstimator {
	return &GridEstimator{Baseline: 1}
}

// Estimate back-projects every stride-th pixel of each batch image
// into the batch-local frame, using luminance as pseudo-depth and
// local contrast as confidence. Poses advance along +X by Baseline per
// frame, anchored at the first image.
func (g *GridEstimator) Estimate(ctx context.Context, batch []models.Keyframe) (*Estimation, error) {
	if len(batch) == 0 {
		return nil, &EstimationError{Cause: errors.New("empty estimation batch")}
	}
	est := &Estimation{}
	for i, kf := range batch {
		if err := ctx.Err(); err != nil {
			return nil, &EstimationError{Cause: err}
		}

		pose := identity4()
		pose.Set(0, 3, g.Baseline*float64(i))
		est.Poses = append(est.Poses, pose)

		bounds := kf.Image.Bounds()
		for y := bounds.Min.Y; y < bounds.Max.Y; y += gridStride {
			for x := bounds.Min.X; x < bounds.Max.X; x += gridStride {
				lum := luminance(kf.Image, x, y)
				depth := 1 + 4*lum
				est.Points = append(est.Points, models.Point{
					Position: r3.Vector{
						X: g.Baseline*float64(i) + float64(x-bounds.Min.X)/float64(bounds.Dx()),
						Y: float64(y-bounds.Min.Y) / float64(bounds.Dy()),
						Z: depth,
					},
					Confidence: contrast(kf.Image, x, y),
					FrameIndex: i,
				})
			}
		}
	}
	return est, nil
}

// HistogramRetriever embeds frames as normalized luminance histograms
// and verifies pairs by histogram intersection.
type HistogramRetriever struct {
	// MinScore is the intersection below which Verify reports no
	// result.
	MinScore float64
}

// NewHistogramRetriever returns a fallback retriever.
func NewHistogramRetriever() *HistogramRetriever {
	return &HistogramRetriever{MinScore: 0.5}
}

// Embed returns a normalized luminance histogram descriptor.
func (h *HistogramRetriever) Embed(ctx context.Context, kf models.Keyframe) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hist := make([]float64, histogramBins)
	bounds := kf.Image.Bounds()
	count := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 2 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 2 {
			bin := int(luminance(kf.Image, x, y) * float64(histogramBins))
			if bin >= histogramBins {
				bin = histogramBins - 1
			}
			hist[bin]++
			count++
		}
	}
	if count > 0 {
		for i := range hist {
			hist[i] /= float64(count)
		}
	}
	return hist, nil
}

// Verify scores the pair by histogram intersection and, when it
// passes, reports an identity relative transform (the photometric
// stand-in has no geometry to offer beyond "same place").
func (h *HistogramRetriever) Verify(ctx context.Context, source, target models.Keyframe) (*Verification, error) {
	a, err := h.Embed(ctx, source)
	if err != nil {
		return nil, err
	}
	b, err := h.Embed(ctx, target)
	if err != nil {
		return nil, err
	}
	score := 0.0
	for i := range a {
		score += math.Min(a[i], b[i])
	}
	if score < h.MinScore {
		return nil, nil
	}
	return &Verification{Relative: identity4(), Score: score}, nil
}

func luminance(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
}

// contrast estimates local texture as the luminance spread over a
// small neighborhood, clamped to [0,1]. Texture-poor regions get low
// confidence, matching how dense estimators behave.
func contrast(img image.Image, x, y int) float64 {
	minL, maxL := 1.0, 0.0
	bounds := img.Bounds()
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			px, py := x+dx, y+dy
			if px < bounds.Min.X || px >= bounds.Max.X || py < bounds.Min.Y || py >= bounds.Max.Y {
				continue
			}
			l := luminance(img, px, py)
			minL = math.Min(minL, l)
			maxL = math.Max(maxL, l)
		}
	}
	c := (maxL - minL) * 4
	if c > 1 {
		c = 1
	}
	if c < 0.05 {
		c = 0.05
	}
	return c
}

func identity4() *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		out.Set(i, i, 1)
	}
	return out
}
