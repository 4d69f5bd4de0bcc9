package frames

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Flow analysis settings. Matching runs on a fixed-width grayscale
// downscale so the cost is independent of input resolution; measured
// displacements are scaled back to source pixels before gating.
const (
	flowWidth  = 320
	flowGrid   = 16
	flowPatch  = 4
	flowSearch = 10
)

// flowTracker measures mean optical-flow disparity between the last
// accepted keyframe and each new candidate using coarse block matching
// on a sparse grid.
type flowTracker struct {
	prev *image.Gray
}

func newFlowTracker() *flowTracker {
	return &flowTracker{}
}

// Advance scores a candidate against the stored keyframe and returns
// its disparity plus whether it clears minDisparity. The first
// candidate is always accepted. Accepted candidates replace the stored
// keyframe; rejected ones leave it untouched so disparity keeps
// accumulating against the same anchor. Measurements are scaled back
// through the candidate's downscale factor, so the gate stays in the
// candidate's own pixel units even when resolutions vary mid-sequence.
func (t *flowTracker) Advance(img image.Image, minDisparity float64) (float64, bool) {
	gray, scale := downscaleGray(img)
	if t.prev == nil {
		t.prev = gray
		return 0, true
	}

	disparity := meanBlockDisparity(t.prev, gray) * scale
	if disparity < minDisparity {
		return disparity, false
	}
	t.prev = gray
	return disparity, true
}

// downscaleGray converts to a fixed-width grayscale image and returns
// the factor mapping analysis pixels back to source pixels.
func downscaleGray(img image.Image) (*image.Gray, float64) {
	srcWidth := img.Bounds().Dx()
	scale := 1.0
	if srcWidth > flowWidth {
		scale = float64(srcWidth) / float64(flowWidth)
		img = imaging.Resize(img, flowWidth, 0, imaging.Box)
	}
	// imaging.Grayscale leaves R=G=B, so the red channel is the luma.
	small := imaging.Grayscale(img)

	bounds := small.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.SetGray(x, y, color.Gray{Y: small.NRGBAAt(x, y).R})
		}
	}
	return gray, scale
}

// meanBlockDisparity runs SAD block matching for a grid of patches in
// prev against a search window in curr, returning the mean best-match
// displacement in analysis pixels.
func meanBlockDisparity(prev, curr *image.Gray) float64 {
	width := min(prev.Bounds().Dx(), curr.Bounds().Dx())
	height := min(prev.Bounds().Dy(), curr.Bounds().Dy())

	margin := flowPatch + flowSearch
	var total float64
	var count int
	for y := margin; y < height-margin; y += flowGrid {
		for x := margin; x < width-margin; x += flowGrid {
			dx, dy := bestMatch(prev, curr, x, y)
			total += math.Hypot(float64(dx), float64(dy))
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// bestMatch finds the displacement within the search window minimizing
// the sum of absolute differences for the patch centered at (x, y).
func bestMatch(prev, curr *image.Gray, x, y int) (int, int) {
	bestDx, bestDy := 0, 0
	bestSAD := math.MaxInt
	for dy := -flowSearch; dy <= flowSearch; dy++ {
		for dx := -flowSearch; dx <= flowSearch; dx++ {
			sad := 0
			for py := -flowPatch; py <= flowPatch; py++ {
				for px := -flowPatch; px <= flowPatch; px++ {
					a := int(prev.GrayAt(x+px, y+py).Y)
					b := int(curr.GrayAt(x+dx+px, y+dy+py).Y)
					diff := a - b
					if diff < 0 {
						diff = -diff
					}
					sad += diff
				}
			}
			if sad < bestSAD {
				bestSAD = sad
				bestDx, bestDy = dx, dy
			}
		}
	}
	return bestDx, bestDy
}
