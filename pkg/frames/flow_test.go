package frames

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patternImage draws a textured checkerboard shifted by (dx, dy), so
// block matching has structure to lock onto.
func patternImage(size, dx, dy int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(0)
			if ((x-dx)/8+(y-dy)/8)%2 == 0 {
				v = 200
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestMeanBlockDisparityStaticScene(t *testing.T) {
	a := patternImage(128, 0, 0)
	b := patternImage(128, 0, 0)
	assert.Equal(t, 0.0, meanBlockDisparity(a, b))
}

func TestMeanBlockDisparityShiftedScene(t *testing.T) {
	a := patternImage(128, 0, 0)
	b := patternImage(128, 5, 0)
	d := meanBlockDisparity(a, b)
	assert.InDelta(t, 5.0, d, 1.0)
}

func TestFlowTrackerGate(t *testing.T) {
	tracker := newFlowTracker()

	// First frame is always a keyframe.
	d, ok := tracker.Advance(patternImage(128, 0, 0), 50)
	require.True(t, ok)
	assert.Equal(t, 0.0, d)

	// Small motion stays below the gate.
	_, ok = tracker.Advance(patternImage(128, 1, 0), 50)
	assert.False(t, ok)

	// Rejection keeps the anchor, so motion accumulates against the
	// first frame until it clears the threshold.
	_, ok = tracker.Advance(patternImage(128, 3, 0), 2)
	assert.True(t, ok)
}

func TestDownscaleGrayScaleFactor(t *testing.T) {
	big := image.NewGray(image.Rect(0, 0, 640, 480))
	gray, scale := downscaleGray(big)
	assert.Equal(t, 2.0, scale)
	assert.Equal(t, 320, gray.Bounds().Dx())

	small := image.NewGray(image.Rect(0, 0, 128, 96))
	_, scale = downscaleGray(small)
	assert.Equal(t, 1.0, scale)
}

// blockPattern draws a checkerboard with the given block size shifted
// horizontally by dx, for tests that need control over the pattern
// period across resolutions.
func blockPattern(width, height, block, dx int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(0)
			if ((x-dx)/block+y/block)%2 == 0 {
				v = 200
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestFlowTrackerMixedResolutions(t *testing.T) {
	tracker := newFlowTracker()

	// Anchor at analysis resolution (no downscale, factor 1).
	_, ok := tracker.Advance(blockPattern(320, 240, 8, 0), 0)
	require.True(t, ok)

	// Candidate at double resolution: the same scene shifted by 8 of
	// its own pixels, which is 4 analysis pixels after the 2x
	// downscale. The reported disparity must be in the candidate's
	// pixel units, not the anchor's.
	d, ok := tracker.Advance(blockPattern(640, 480, 16, 8), 0)
	require.True(t, ok)
	assert.InDelta(t, 8.0, d, 1.5)
}
